package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yellowcrystalz/masa-meter/crypto"
	"github.com/yellowcrystalz/masa-meter/oauth"
)

type tokenStatus struct {
	Provider        string     `json:"provider"`
	Stored          bool       `json:"stored"`
	Sealed          bool       `json:"sealed_with_unknown_key,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	Scope           string     `json:"scope,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// tokenCmd reports on the stored bot token. Secrets are never printed.
func (a *app) tokenCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Show the stored Twitch bot token status",
		GroupID: "system",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sealer oauth.Sealer
			if key != "" {
				box, err := crypto.NewBox(key)
				if err != nil {
					return err
				}
				sealer = box
			}
			st := tokenStatus{Provider: oauth.ProviderTwitchBot}
			tok, ok, err := oauth.NewStore(a.conn, sealer).Get(cmd.Context(), oauth.ProviderTwitchBot)
			switch {
			case errors.Is(err, oauth.ErrSealed):
				st.Stored, st.Sealed = true, true
			case err != nil:
				return err
			case ok:
				st.Stored = true
				st.HasRefreshToken = tok.RefreshToken != ""
				st.Scope = tok.Scope
				if !tok.ExpiresAt.IsZero() {
					st.ExpiresAt = &tok.ExpiresAt
				}
				st.UpdatedAt = &tok.UpdatedAt
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, st)
			}
			switch {
			case !st.Stored:
				fmt.Fprintln(out, "No bot token stored.")
			case st.Sealed:
				fmt.Fprintln(out, "Bot token is sealed with a key that is not configured.")
			default:
				expires := "unknown"
				if st.ExpiresAt != nil {
					expires = st.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "Provider:      %s\nExpires:       %s\nScope:         %s\nRefreshable:   %t\nUpdated:       %s\n",
					st.Provider, expires, st.Scope, st.HasRefreshToken, st.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", os.Getenv("TOKEN_ENCRYPTION_KEY"), "base64 token encryption key")
	return cmd
}
