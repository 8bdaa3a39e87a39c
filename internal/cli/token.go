package cli

import (
	"fmt"
	"time"

	"cryptic-hunt-service/internal/auth"
	"cryptic-hunt-service/internal/config"
	"github.com/spf13/cobra"
)

const defaultTokenTTL = 24 * time.Hour

// NewTokenCmd issues a gateway token signed with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var userID, guildID, ttlFlag string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a gateway token for a user in a guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ttl, err := tokenTTL(ttlFlag, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(userID, guildID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token speaks for")
	cmd.Flags().StringVar(&guildID, "guild", "", "guild id the token is valid in")
	cmd.Flags().StringVar(&ttlFlag, "ttl", "", "token lifetime, e.g. 12h (defaults to auth.token_ttl or 24h)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func tokenTTL(flag, configured string) (time.Duration, error) {
	raw := flag
	if raw == "" {
		raw = configured
	}
	if raw == "" {
		return defaultTokenTTL, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("invalid token ttl %q", raw)
	}
	return ttl, nil
}
