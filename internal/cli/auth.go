package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fno-chain/internal/broker"
	"fno-chain/internal/config"
	"fno-chain/internal/session"
)

// addAuthCommands adds session commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newSessionCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a gateway session",
		Long: `Open a session with the configured gateway.

Angel One logs in with client code, PIN and a TOTP generated from the
configured secret. Kite needs a request token from its login page; run
without one to print the URL.

With session.cache_enabled the session is stored encrypted and reused by
later commands until it expires.`,
		Example: `  fnochain login
  fnochain login --provider kite --request-token <token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if kg, ok := app.Gateway.(*broker.KiteGateway); ok && app.Config.Credentials.Kite.RequestToken == "" {
				if app.Sessions.State() != session.Active {
					output.Info("Open this URL, log in and rerun with --request-token:")
					output.Println(kg.LoginURL())
					return fmt.Errorf("request token required")
				}
			}

			if _, err := app.Sessions.EnsureSession(cmd.Context()); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			info := app.Sessions.Snapshot()
			if output.IsJSON() {
				return output.JSON(info)
			}
			output.Success("✓ Logged in to %s", info.Provider)
			printSession(output, info)
			return nil
		},
	}

	cmd.Flags().String("request-token", "", "Kite request token from the login redirect")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the gateway session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Sessions.Revoke(cmd.Context()); err != nil {
				output.Warning("Logout: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(app.Sessions.Snapshot())
			}
			output.Success("✓ Session revoked")
			return nil
		},
	}
}

func newSessionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the gateway session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			info := app.Sessions.Snapshot()
			if output.IsJSON() {
				return output.JSON(info)
			}
			printSession(output, info)
			return nil
		},
	}
}

func printSession(output *Output, info session.Info) {
	output.Bold("Session (%s)", info.Provider)

	state := info.State
	switch state {
	case session.Active.String():
		state = output.Green(state)
	case session.Expired.String(), session.Revoked.String():
		state = output.Red(state)
	default:
		state = output.Yellow(state)
	}
	output.Printf("  State:   %s\n", state)

	if info.ClientCode != "" {
		output.Printf("  Client:  %s\n", info.ClientCode)
	}
	if !info.ExpiresAt.IsZero() {
		output.Printf("  Expires: %s (%s)\n", info.ExpiresAt.Format("02-Jan-2006 15:04"), until(info.ExpiresAt))
	}
	if info.Token != "" {
		output.Printf("  Token:   %s\n", info.Token)
	}
}

func until(t time.Time) string {
	d := time.Until(t).Round(time.Minute)
	if d <= 0 {
		return "expired"
	}
	return "in " + d.String()
}

// applyLoginFlags copies one-shot login flags into the credentials before
// the session manager is built.
func applyLoginFlags(cmd *cobra.Command, cfg *config.Config) {
	if t, err := cmd.Flags().GetString("request-token"); err == nil && t != "" {
		cfg.Credentials.Kite.RequestToken = t
	}
}
