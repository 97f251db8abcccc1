package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/secondbrain/internal/credential"
	"github.com/nhle/secondbrain/internal/model"
)

// cli carries the flags shared by every command.
type cli struct {
	configPath string
	logLevel   string

	// secrets is nil in tests that pass every credential through the
	// config file.
	secrets model.SecretLookup
}

// NewRootCmd builds the secondbrain command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&cli{secrets: credential.New().Lookup()})
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "secondbrain",
		Short:         "Capture thoughts sent by email into a second brain",
		Long:          "Polls an inbox for mail sent to personal +code addresses, files each message as an entry, and confirms it by reply.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		c.runCmd(),
		c.pollCmd(),
		c.importMboxCmd(),
		c.watchCmd(),
		c.digestCmd(),
		c.tenantCmd(),
		c.entriesCmd(),
		c.browseCmd(),
		c.setupCmd(),
	)

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then fills any
// missing secrets from the keyring.
func (c *cli) loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	cfg.FillSecrets(c.secrets)
	return cfg, nil
}

// open loads configuration and builds the channel with logs written to w.
func (c *cli) open(ctx context.Context, w io.Writer, opts Options) (*Channel, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = setupLogger(cfg.Log.Level, w)
	}
	slog.SetDefault(opts.Logger)

	return Build(ctx, cfg, opts)
}
