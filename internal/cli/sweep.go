package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session-engine/internal/app"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/logger"
)

// newSweepCmd runs the scheduler jobs once, outside the server. The jobs are
// idempotent, so this is safe while servers are running.
func newSweepCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [publish|close|unlock|all]",
		Short:     "Run scheduled exam and lock transitions once",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"publish", "close", "unlock", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			job := "all"
			if len(args) == 1 {
				job = args[0]
			}

			cfg := load()
			log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if job == "publish" || job == "all" {
				fmt.Fprintf(out, "published=%d\n", a.Scheduler.PublishDue(ctx))
			}
			if job == "close" || job == "all" {
				fmt.Fprintf(out, "closed=%d\n", a.Scheduler.CloseDue(ctx))
			}
			if job == "unlock" || job == "all" {
				fmt.Fprintf(out, "unlocked=%d\n", a.Scheduler.UnlockExpired(ctx))
			}
			return nil
		},
	}
}
