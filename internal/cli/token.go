package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// newTokenCmd signs a bearer token with JWT_SECRET for local testing.
func newTokenCmd(load func() *config.Config) *cobra.Command {
	var (
		userID int
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			auth := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
			token, err := auth.GenerateToken(model.Actor{ID: userID, Role: model.Role(strings.ToUpper(role))})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&userID, "user", 0, "user ID")
	cmd.Flags().StringVar(&role, "role", string(model.RoleStudent), "STUDENT, TEACHER or ADMIN")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
