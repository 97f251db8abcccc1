package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/secondbrain/internal/digest"
	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/reply"
	"github.com/nhle/secondbrain/internal/store"
	"github.com/nhle/secondbrain/internal/theme"
	"github.com/nhle/secondbrain/internal/ui/browse"
)

const (
	routingCodeAttempts = 10
	defaultEntriesShown = 20
	defaultDigestWindow = 24 * time.Hour
)

var routingCodeFormat = regexp.MustCompile(`^[0-9a-f]{6}$`)

// newRoutingCode returns a random 6-hex routing code not yet assigned.
func newRoutingCode(ctx context.Context, s *store.SQLStore) (string, error) {
	buf := make([]byte, 3)
	for range routingCodeAttempts {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating routing code: %w", err)
		}
		code := hex.EncodeToString(buf)

		_, err := s.TenantByRoutingCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free routing code after %d attempts", routingCodeAttempts)
}

func (c *cli) tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants and their routing codes",
	}
	cmd.AddCommand(c.tenantAddCmd(), c.tenantListCmd())
	return cmd
}

func (c *cli) tenantAddCmd() *cobra.Command {
	var name, email, code string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a tenant and print its personal capture address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := c.open(ctx, cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			code = strings.ToLower(strings.TrimSpace(code))
			if code == "" {
				if code, err = newRoutingCode(ctx, ch.Store); err != nil {
					return err
				}
			} else if !routingCodeFormat.MatchString(code) {
				return fmt.Errorf("routing code %q must be 6 hex characters", code)
			}

			t := model.Tenant{
				ID:          uuid.New().String(),
				Name:        strings.TrimSpace(name),
				Email:       strings.TrimSpace(email),
				RoutingCode: code,
				CreatedAt:   time.Now().UTC(),
			}
			if err := ch.Store.CreateTenant(ctx, t); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created tenant %s (%s)\n", t.Name, t.ID)
			fmt.Fprintf(out, "Capture address: %s\n", PersonalAddress(ch.Config, t.RoutingCode))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "address that receives digests")
	cmd.Flags().StringVar(&code, "code", "", "routing code (6 hex characters); generated when empty")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (c *cli) tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants with their capture addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := c.open(cmd.Context(), cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			tenants, err := ch.Store.GetTenants(cmd.Context())
			if err != nil {
				return err
			}
			if len(tenants) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tenants yet. Create one with 'secondbrain tenant add'.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCAPTURE ADDRESS")
			for _, t := range tenants {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Email, PersonalAddress(ch.Config, t.RoutingCode))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) entriesCmd() *cobra.Command {
	var tenantID string
	var limit int

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Show a tenant's most recent entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := c.open(ctx, cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			if _, err := ch.Store.TenantByID(ctx, tenantID); err != nil {
				return err
			}
			entries, err := ch.Store.GetEntries(ctx, tenantID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s  %3d%%  %s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					theme.CategoryStyle(e.Category).Width(10).Render(string(e.Category)),
					reply.ConfidencePercent(e.Confidence),
					e.Name,
				)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entries yet.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().IntVar(&limit, "limit", defaultEntriesShown, "maximum entries to show (0 for all)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func (c *cli) browseCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Scroll and filter a tenant's entries interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logFile, err := openLogFile(model.ConfigDir())
			if err != nil {
				return err
			}
			defer logFile.Close()

			ch, err := c.open(ctx, logFile, Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			if _, err := ch.Store.TenantByID(ctx, tenantID); err != nil {
				return err
			}

			p := tea.NewProgram(browse.New(ctx, ch.Store, tenantID), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running browser: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func (c *cli) digestCmd() *cobra.Command {
	var tenantID string
	var since time.Duration
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Email each tenant a digest of recent entries",
		Long:  "Collects the entries captured within --since and mails them to the tenant's own address as a new thread. Without --tenant every tenant gets one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := c.open(ctx, cmd.ErrOrStderr(), Options{})
			if err != nil {
				return err
			}
			defer ch.Close()

			var tenants []model.Tenant
			if tenantID != "" {
				t, err := ch.Store.TenantByID(ctx, tenantID)
				if err != nil {
					return err
				}
				tenants = []model.Tenant{*t}
			} else if tenants, err = ch.Store.GetTenants(ctx); err != nil {
				return err
			}

			now := time.Now()
			out := cmd.OutOrStdout()
			var failed int
			for _, t := range tenants {
				entries, err := ch.Store.GetEntries(ctx, t.ID, 0)
				if err != nil {
					return err
				}
				content := digest.Compose(now, recentEntries(entries, now.Add(-since)))

				if dryRun {
					fmt.Fprintf(out, "To: %s\nSubject: %s\n\n%s\n", t.Email, content.Subject, content.Text)
					continue
				}

				res := ch.Dispatcher.SendDailyDigest(ctx, t.Email, content.Subject, content.Text, content.HTML)
				switch {
				case res.Skipped:
					fmt.Fprintf(out, "%s: skipped (no outbound transport)\n", t.Email)
				case res.Success:
					fmt.Fprintf(out, "%s: sent %s\n", t.Email, res.MessageID)
				default:
					failed++
					fmt.Fprintf(out, "%s: failed: %s\n", t.Email, res.Error)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d digests failed", failed, len(tenants))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "only this tenant id")
	cmd.Flags().DurationVar(&since, "since", defaultDigestWindow, "include entries captured within this window")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print digests instead of sending them")

	return cmd
}

// recentEntries keeps the entries created at or after cutoff.
func recentEntries(entries []model.Entry, cutoff time.Time) []model.Entry {
	var out []model.Entry
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
