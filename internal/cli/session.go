package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ivi39c/speaka-sub000/internal/config"
	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/injector"
)

// StatusReport is what status, login and logout print.
type StatusReport struct {
	LoggedIn   bool           `json:"isLoggedIn"`
	User       *auth.Identity `json:"user"`
	StoreState bool           `json:"storeLoggedIn"`
	LegacyNav  bool           `json:"legacyShowsUser"`
	SyncStatus string         `json:"syncStatus"`
}

// withApp wires a page, starts it, runs fn and tears everything down.
func withApp(ctx context.Context, cfg config.Config, fn func(*injector.App) error) error {
	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer app.Close()

	app.Start(ctx)
	return fn(app)
}

func report(app *injector.App) StatusReport {
	s := app.State.GetState()
	return StatusReport{
		LoggedIn:   s.IsLoggedIn,
		User:       s.User,
		StoreState: app.Store.IsLoggedIn(),
		LegacyNav:  app.Legacy.ShowingAuthenticated(),
		SyncStatus: app.Sync.Status().String(),
	}
}

func printReport(w io.Writer, format string, r StatusReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	if r.LoggedIn && r.User != nil {
		fmt.Fprintf(w, "logged in as %s (%s)\n", r.User.DisplayName, r.User.UserID)
	} else {
		fmt.Fprintln(w, "logged out")
	}
	fmt.Fprintf(w, "store: %t  legacy nav: %t  sync: %s\n", r.StoreState, r.LegacyNav, r.SyncStatus)
	return nil
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Complete a LINE login with an authorization code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(app *injector.App) error {
				if _, err := app.Legacy.CompleteLogin(cmd.Context(), code); err != nil {
					return fmt.Errorf("login failed: %w", err)
				}
				return printReport(cmd.OutOrStdout(), rootOpts.Format, report(app))
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "authorization code from the LINE callback")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(app *injector.App) error {
				app.State.Logout()
				return printReport(cmd.OutOrStdout(), rootOpts.Format, report(app))
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the identity every system currently reflects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(app *injector.App) error {
				return printReport(cmd.OutOrStdout(), rootOpts.Format, report(app))
			})
		},
	}
}
