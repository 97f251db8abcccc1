package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/secondbrain/internal/api"
	"github.com/nhle/secondbrain/internal/mailbox"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/ui/watch"
)

var errMailboxNotConfigured = errors.New("mailbox not configured: run 'secondbrain setup' or set IMAP_HOST, IMAP_USER and IMAP_PASSWORD")

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the inbox on an interval until interrupted",
		Long:  "Starts the poller and, when http.listen is set, the status API. Stops cleanly on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := c.open(ctx, cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			if !ch.Poller.Status().Configured {
				ch.Logger.Warn(errMailboxNotConfigured.Error())
			}
			ch.Poller.Start(ctx)

			if listen := ch.Config.HTTP.Listen; listen != "" {
				if err := api.New(ch.Poller, ch.Store, ch.Logger).ListenAndServe(ctx, listen); err != nil {
					return err
				}
			} else {
				<-ctx.Done()
			}

			ch.Logger.Info("shutting down")
			return nil
		},
	}
}

func (c *cli) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := c.open(cmd.Context(), cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			if !ch.Poller.Status().Configured {
				return errMailboxNotConfigured
			}

			printResult(cmd.OutOrStdout(), ch.Poller.PollNow(cmd.Context()))
			return nil
		},
	}
}

func (c *cli) importMboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-mbox <file>",
		Short: "Feed every message of an mbox archive through the channel",
		Long:  "Replays an mbox archive as if its messages had just arrived in the inbox: routing, duplicate detection, capture and confirmation all apply.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box := mailbox.NewMboxFile(args[0])

			ch, err := c.open(cmd.Context(), cmd.ErrOrStderr(), Options{Mailbox: box})
			if err != nil {
				return err
			}
			defer ch.Close()

			printResult(cmd.OutOrStdout(), ch.Poller.PollNow(cmd.Context()))
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of poll cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logFile, err := openLogFile(model.ConfigDir())
			if err != nil {
				return err
			}
			defer logFile.Close()

			ch, err := c.open(cmd.Context(), logFile, Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			p := tea.NewProgram(watch.New(cmd.Context(), ch.Poller), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running dashboard: %w", err)
			}
			return nil
		},
	}
}

func printResult(w io.Writer, r model.PollResult) {
	fmt.Fprintf(w, "found %d  processed %d  duplicates %d  unroutable %d  errors %d\n",
		r.Found, r.Processed, r.Duplicates, r.Unroutable, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
