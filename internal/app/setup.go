package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/secondbrain/internal/credential"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/ui/setup"
)

func (c *cli) setupCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively configure the mailbox and outbound server",
		Long:  "Writes non-secret settings to the config file and passwords to the system keyring, then checks that both servers accept the credentials.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			values := setup.FromConfig(cfg)
			if err := setup.NewForm(&values).Run(); err != nil {
				return fmt.Errorf("setup form: %w", err)
			}

			if err := setup.Apply(values, cfg, credential.New()); err != nil {
				return err
			}
			if err := model.SaveConfig(c.configPath, cfg); err != nil {
				return err
			}
			// Passwords left blank keep their stored values.
			cfg.FillSecrets(c.secrets)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saved %s\n", c.configPath)

			if skipCheck {
				return nil
			}
			return checkConnectivity(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "do not test the IMAP and SMTP logins")

	return cmd
}

// checkConnectivity logs in to both servers and reports each outcome.
func checkConnectivity(ctx context.Context, cmd *cobra.Command, cfg *model.AppConfig) error {
	out := cmd.OutOrStdout()
	logger := setupLogger(cfg.Log.Level, cmd.ErrOrStderr())
	var failed bool

	if err := newIMAPClient(cfg, logger).Validate(ctx); err != nil {
		failed = true
		fmt.Fprintf(out, "IMAP: %v\n", err)
	} else {
		fmt.Fprintln(out, "IMAP: ok")
	}

	if !cfg.SMTPConfigured() {
		fmt.Fprintln(out, "SMTP: not configured")
	} else if err := newSMTPTransport(cfg).Verify(ctx); err != nil {
		failed = true
		fmt.Fprintf(out, "SMTP: %v\n", err)
	} else {
		fmt.Fprintln(out, "SMTP: ok")
	}

	if failed {
		return fmt.Errorf("connectivity check failed")
	}
	return nil
}
