package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"securechat/internal/app"
)

// Environment variables consulted when the matching flag is not given.
// Both may also be set in <home>/.env.
const (
	PassphraseEnv = "SECURECHAT_PASSPHRASE"
	TokenEnv      = "SECURECHAT_TOKEN"
)

var (
	home       string
	passphrase string
	serverURL  string
	token      string
	logLevel   string
	verbose    bool

	wire *app.Wire
	// fileConfig is config.toml plus explicit flag overrides; init persists it.
	fileConfig app.Config
)

// Execute runs the CLI with ctx as the base context of every command.
func Execute(ctx context.Context) error {
	return execute(ctx, newRoot())
}

// execute runs root and always releases the store, even when a command fails.
func execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if wire != nil {
		if cerr := wire.Close(); cerr != nil && err == nil {
			err = cerr
		}
		wire = nil
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "securechat",
		Short:        "End-to-end encrypted conversation engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".securechat")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			if err := godotenv.Load(filepath.Join(home, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}

			cfg, err := app.LoadConfig(home)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)
			fileConfig = cfg

			if tok := os.Getenv(TokenEnv); tok != "" && cfg.Token == "" {
				cfg.Token = tok
			}

			// Spinners and logs share the terminal; stay quiet unless asked.
			if !verbose && !cmd.Flags().Changed("log-level") {
				cfg.Log.Level = "warn"
			}

			pass := passphrase
			if pass == "" {
				pass = os.Getenv(PassphraseEnv)
			}
			wire, err = app.NewWire(cfg, pass, nil)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default ~/.securechat)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local store (or $"+PassphraseEnv+")")
	pf.StringVar(&serverURL, "server", "", "sync service base URL")
	pf.StringVar(&token, "token", "", "bearer token for the sync service")
	pf.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "show logs instead of spinners")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		exportKeyCmd(),
		importKeyCmd(),
		shareKeyCmd(),
		acceptKeyCmd(),
		rotateKeyCmd(),
		sendCmd(),
		readCmd(),
		encryptFileCmd(),
		decryptFileCmd(),
		syncCmd(),
		registerDeviceCmd(),
		statusCmd(),
		purgeCmd(),
	)
	return root
}

func applyFlags(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = serverURL
	}
	if flags.Changed("token") {
		cfg.Token = token
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}
