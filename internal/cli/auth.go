package cli

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"kite-gtt/internal/broker"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Kite Connect session management",
	}

	login := &cobra.Command{
		Use:   "login",
		Short: "Log in to Kite Connect",
		Long: `Open the Kite login page and exchange the request token from the redirect
URL for an access token. The session is saved and stays valid until 06:00 IST.`,
		Example: `  gtt auth login
  gtt auth login --token <request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.Broker()
			if err != nil {
				return err
			}
			if err := b.Login(cmd.Context()); err == nil {
				output.Success("Already logged in.")
				return showSession(output, app)
			}

			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				kb, ok := b.(*broker.KiteBroker)
				if !ok {
					return fmt.Errorf("interactive login needs the Kite broker")
				}
				loginURL := kb.LoginURL()
				output.Bold("Login URL:")
				output.Println(loginURL)
				output.Println()
				if err := openURL(loginURL); err != nil {
					output.Warning("Could not open browser automatically")
				}
				if token, err = promptRequestToken(); err != nil {
					return err
				}
			}

			if err := b.CompleteLogin(cmd.Context(), token); err != nil {
				return err
			}
			output.Success("Login successful.")
			return showSession(output, app)
		},
	}
	login.Flags().String("token", "", "request token from the redirect URL")
	cmd.AddCommand(login)

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <request_token>",
		Short: "Finish a login with the request token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.Broker()
			if err != nil {
				return err
			}
			if err := b.CompleteLogin(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.Success("Login successful.")
			return showSession(output, app)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and remove the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.Broker()
			if err != nil {
				return err
			}
			if !b.IsAuthenticated() {
				output.Warning("Not currently logged in.")
				return nil
			}
			if err := b.Logout(cmd.Context()); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"logged_out": true})
			}
			output.Success("Logged out. Session token removed.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show authentication status and session expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.Broker()
			if err != nil {
				return err
			}
			authed := b.IsAuthenticated()
			if output.IsJSON() {
				view := map[string]interface{}{"authenticated": authed}
				if authed {
					view["expires_at"] = broker.SessionExpiry(app.now()).Format(time.RFC3339)
				}
				return output.JSON(view)
			}
			if !authed {
				output.Warning("Not authenticated")
				output.Info("Run 'gtt auth login' to authenticate")
				return nil
			}
			output.Success("Authenticated")
			return showSession(output, app)
		},
	})

	return cmd
}

func showSession(output *Output, app *App) error {
	now := app.now()
	expiry := broker.SessionExpiry(now)
	output.Println()
	output.Bold("Session")
	if user := app.Config.Credentials.Kite.UserID; user != "" {
		output.Printf("  User ID:    %s\n", user)
	}
	output.Printf("  Expires:    %s (%s remaining)\n",
		expiry.Format("02 Jan 2006, 03:04 PM"),
		formatDuration(expiry.Sub(now)))
	return nil
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
