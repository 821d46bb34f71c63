package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"securechat/internal/domain"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the identity key pair and write config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, created, err := wire.Keys.EnsureIdentity(cmd.Context())
			if err != nil {
				return err
			}
			if err := fileConfig.Save(); err != nil {
				return err
			}
			fp, err := wire.Keys.Fingerprint()
			if err != nil {
				return err
			}
			if created {
				printLines(okLine("Identity created"), hintLine("Fingerprint: "+color.YellowString(string(fp))))
			} else {
				printLines(okLine("Identity already exists"), hintLine("Fingerprint: "+color.YellowString(string(fp))))
			}
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			fp, err := wire.Keys.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Println(fp)
			return nil
		},
	}
}

func exportKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-key",
		Short: "Print the public identity key (base64 PKIX)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			pub, err := wire.Keys.ExportPublicKey()
			if err != nil {
				return err
			}
			fmt.Println(pub)
			return nil
		},
	}
}

func importKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-key <user> <public-key>",
		Short: "Record a peer's public identity key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			if err := wire.Keys.ImportPublicKey(cmd.Context(), domain.UserID(args[0]), args[1]); err != nil {
				printLines(failLine("Could not import key for " + args[0]))
				return err
			}
			printLines(okLine("Imported public key for " + color.YellowString(args[0])))
			return nil
		},
	}
}

func shareKeyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "share-key <conversation> <user>",
		Short: "Wrap the conversation key for a peer whose key was imported",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			wrapped, err := wire.Keys.WrapSessionKeyForUser(cmd.Context(), conversationArg(args[0]), domain.UserID(args[1]))
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(wrapped, "", "  ")
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				fmt.Println(string(b))
				return nil
			}
			if err := os.WriteFile(out, b, 0o600); err != nil {
				return err
			}
			printLines(okLine("Wrapped key written to "+out), hintLine("Send it to "+args[1]+"; they run "+color.YellowString("securechat accept-key")))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the wrapped key to a file instead of stdout")
	return cmd
}

func acceptKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-key <conversation> <wrapped-key-file|->",
		Short: "Install a conversation key wrapped for this identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			var (
				b   []byte
				err error
			)
			if args[1] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			var wrapped domain.WrappedSessionKey
			if err := json.Unmarshal(b, &wrapped); err != nil {
				return fmt.Errorf("parse wrapped key: %w", err)
			}
			key, err := wire.Keys.UnwrapSessionKey(cmd.Context(), conversationArg(args[0]), wrapped)
			if err != nil {
				printLines(failLine("Wrapped key rejected"))
				return err
			}
			if _, err := wire.Engine.CreateConversation(cmd.Context(), conversationArg(args[0])); err != nil {
				return err
			}
			printLines(okLine(fmt.Sprintf("Installed key version %d for %s", key.Version, args[0])))
			return nil
		},
	}
}

func rotateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <conversation>",
		Short: "Replace the conversation key; peers need the new key shared again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			if err := requireConversation(conversationArg(args[0])); err != nil {
				return err
			}
			key, err := wire.Keys.RotateSessionKey(cmd.Context(), conversationArg(args[0]))
			if err != nil {
				return err
			}
			printLines(
				okLine(fmt.Sprintf("Rotated %s to key version %d", args[0], key.Version)),
				hintLine("Messages sealed under older versions can no longer be opened"),
			)
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Irreversibly destroy the identity and every conversation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				printLines(failLine("Refusing to purge without --yes"), hintLine("All stored messages become unreadable"))
				return fmt.Errorf("purge not confirmed")
			}
			if err := wire.Purge(cmd.Context()); err != nil {
				return err
			}
			printLines(okLine("All key material destroyed"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm destruction of all keys")
	return cmd
}
