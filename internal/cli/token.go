package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		tenant string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for one hotel (needs JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			token, err := middleware.IssueTenantToken(cfg.JWTSecret, tenant, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Hotel id the token is valid for")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime (0 = no expiry)")
	return cmd
}
