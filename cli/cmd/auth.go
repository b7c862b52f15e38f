package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to an analytics server",
	Long: `Exchange the dashboard password for a session token and store it in
the profile. The password is read from --password, $NOSCTL_PASSWORD or
the first line of stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, p := profileFor(cmd)
		password, _ := cmd.Flags().GetString("password")
		cookie, _ := cmd.Flags().GetString("cookie-name")
		if password == "" {
			password = envOr("NOSCTL_PASSWORD", "")
		}
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		c := client.New(p.ServerURL, client.WithCookieName(cookie))
		token, err := c.Login(cmd.Context(), password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		p.Session = token
		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		output.Success("Logged in to %s (profile '%s')", p.ServerURL, name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, p := profileFor(cmd)
		if p.Session == "" {
			output.Info("Profile '%s' has no session", name)
			return nil
		}
		p.Session = ""
		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		output.Success("Logged out of %s", p.ServerURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().String("password", "", "dashboard password")
	loginCmd.Flags().String("cookie-name", client.DefaultCookieName, "session cookie name configured on the server")
}
