package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/palpalette/client/pkg/cryptox"
	"github.com/palpalette/client/pkg/jwtx"
)

func newTokenCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token inspection commands",
	}
	cmd.AddCommand(newTokenStatusCommand(e))
	return cmd
}

type tokenReport struct {
	Fingerprint string     `json:"fingerprint"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Valid       bool       `json:"valid"`
	LastEvent   string     `json:"lastEvent"`
	LastError   string     `json:"lastError,omitempty"`
}

func newTokenStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate the stored access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}

			tokens := e.app.Store().GetTokens(cmd.Context())
			valid, err := e.app.Monitor().Validate(cmd.Context())
			if err != nil {
				e.out.Warn("validation failed: %v", err)
			}

			st := e.app.Monitor().Snapshot()
			report := tokenReport{
				Fingerprint: cryptox.ShortFingerprint(tokens.AccessToken),
				Valid:       valid,
				LastEvent:   st.LastEvent.String(),
				LastError:   st.LastError,
			}
			if !tokens.ExpiresAt.IsZero() {
				report.ExpiresAt = &tokens.ExpiresAt
			}
			if e.out.json {
				return e.out.JSON(report)
			}

			e.out.Info("Token: %s", report.Fingerprint)
			if report.ExpiresAt != nil {
				e.out.Info("Expires in: %s", time.Until(*report.ExpiresAt).Round(time.Second))
			} else if left, err := jwtx.Remaining(tokens.AccessToken, time.Now()); err == nil {
				e.out.Info("Expires in: %s (from token claims)", left.Round(time.Second))
			}
			if valid {
				e.out.Success("Token accepted by the backend")
			} else {
				e.out.Warn("Token rejected")
			}
			return nil
		},
	}
}
