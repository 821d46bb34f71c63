package commands

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"securechat/internal/domain"
)

func sendCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "send <conversation> <message>",
		Short: "Encrypt a message and queue it for the next sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			msg, err := wire.Engine.SendMessage(cmd.Context(), conversationArg(args[0]), sender, args[1])
			if err != nil {
				return err
			}
			printLines(
				okLine("Message "+string(msg.ID)+" queued"),
				hintLine("Run "+color.YellowString("securechat sync")+" to deliver it"),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "sender name stored inside the sealed message")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation>",
		Short: "Decrypt and print the stored messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			msgs, err := wire.Engine.ReadConversation(cmd.Context(), conversationArg(args[0]))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				ts := time.UnixMilli(m.CreatedAt).Format(time.DateTime)
				if m.Err != nil {
					fmt.Printf("%s %s\n", color.HiBlackString(ts), color.RedString("[unreadable message]"))
					continue
				}
				who := m.Body.Sender
				if who == "" {
					who = m.Sender
				}
				fmt.Printf("%s %s: %s\n", color.HiBlackString(ts), color.CyanString(who), m.Body.Text)
			}
			return nil
		},
	}
}

func encryptFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-file <conversation> <in> <out>",
		Short: "Encrypt a file under the conversation key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			sealed, err := wire.Engine.SealAttachment(cmd.Context(), conversationArg(args[0]), domain.Attachment{
				Name:     filepath.Base(args[1]),
				Size:     int64(len(data)),
				MIMEType: mime.TypeByExtension(filepath.Ext(args[1])),
				Data:     data,
			})
			if err != nil {
				return err
			}
			b, err := json.Marshal(sealed)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[2], b, 0o600); err != nil {
				return err
			}
			printLines(okLine("Encrypted "+sealed.Name+" to "+args[2]), hintLine("File name, size and type remain visible"))
			return nil
		},
	}
}

func decryptFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt-file <conversation> <in> <out>",
		Short: "Decrypt a file produced by encrypt-file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var sealed domain.EncryptedAttachment
			if err := json.Unmarshal(b, &sealed); err != nil {
				return fmt.Errorf("parse encrypted file: %w", err)
			}
			file, err := wire.Cipher.OpenBinary(cmd.Context(), conversationArg(args[0]), sealed)
			if err != nil {
				printLines(failLine("Could not decrypt " + args[1]))
				return err
			}
			if err := os.WriteFile(args[2], file.Data, 0o600); err != nil {
				return err
			}
			printLines(okLine(fmt.Sprintf("Decrypted %s (%d bytes) to %s", file.Name, len(file.Data), args[2])))
			return nil
		},
	}
}
