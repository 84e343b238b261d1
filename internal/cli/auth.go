package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func newAuthCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  "Log in, register and manage PalPalette sessions",
	}
	cmd.AddCommand(
		newAuthLoginCommand(e),
		newAuthRegisterCommand(e),
		newAuthLogoutCommand(e),
		newAuthWhoamiCommand(e),
		newAuthRefreshCommand(e),
		newAuthSessionsCommand(e),
		newAuthRevokeCommand(e),
	)
	return cmd
}

func newAuthLoginCommand(e *env) *cobra.Command {
	var email, password, device string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to PalPalette",
		Long:  "Authenticate and store the session in the configured token store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !e.app.Sessions().Login(cmd.Context(), email, password, device) {
				return errors.New("login failed")
			}
			user := e.app.Sessions().Current().User
			if e.out.json {
				return e.out.JSON(user)
			}
			e.out.Success("Logged in as %s", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().StringVar(&device, "device", "", "Device name reported to the backend (default from config)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newAuthRegisterCommand(e *env) *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a PalPalette account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !e.app.Sessions().Register(cmd.Context(), email, password, name) {
				return errors.New("registration failed")
			}
			user := e.app.Sessions().Current().User
			if e.out.json {
				return e.out.JSON(user)
			}
			e.out.Success("Registered and logged in as %s", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAuthLogoutCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and remove stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e.app.Sessions().Logout(cmd.Context())
			e.out.Success("Logged out")
			return nil
		},
	}
}

func newAuthWhoamiCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the logged in user",
		RunE: func(*cobra.Command, []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			s := e.app.Sessions().Current()
			if e.out.json {
				return e.out.JSON(s.User)
			}
			e.out.Info("User ID: %s", s.User.ID)
			e.out.Info("Email: %s", s.User.Email)
			e.out.Info("Name: %s", s.User.DisplayName)
			if !s.ExpiresAt.IsZero() {
				e.out.Info("Access token expires: %s", s.ExpiresAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newAuthRefreshCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored token pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !e.app.Sessions().RefreshTokens(cmd.Context()) {
				return errors.New("refresh failed, log in again")
			}
			e.out.Success("Tokens refreshed")
			return nil
		},
	}
}

func newAuthSessionsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List devices logged in as you",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			sessions, err := e.app.Sessions().ActiveSessions(cmd.Context())
			if err != nil {
				return err
			}
			if e.out.json {
				return e.out.JSON(sessions)
			}

			t := newTable("DEVICE", "IP", "CREATED", "LAST USED")
			for _, s := range sessions {
				lastUsed := "-"
				if s.LastUsedAt != nil {
					lastUsed = s.LastUsedAt.Local().Format(time.RFC3339)
				}
				t.AddRow(orDash(s.DeviceName), orDash(s.IPAddress), s.CreatedAt.Local().Format(time.RFC3339), lastUsed)
			}
			t.Render(e.out.out)
			return nil
		},
	}
}

func newAuthRevokeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-name>",
		Short: "Log out every session of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			if err := e.app.Sessions().RevokeDevice(cmd.Context(), args[0]); err != nil {
				return err
			}
			e.out.Success("Revoked sessions for %s", args[0])
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
