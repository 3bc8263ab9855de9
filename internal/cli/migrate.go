package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/database"
)

// newMigrateCmd manages the PostgreSQL schema.
func newMigrateCmd(load func() *config.Config) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			m, err := database.NewMigrator(cfg.DatabaseURL, dir)
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("up: %w", err)
				}
				fmt.Fprintln(out, "Migrated up successfully")
			case "down":
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("down: %w", err)
				}
				fmt.Fprintln(out, "Migrated down successfully")
			case "version":
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("version: %w", err)
				}
				fmt.Fprintf(out, "Version: %d, Dirty: %t\n", version, dirty)
			case "force":
				if len(args) < 2 {
					return errors.New("force requires a version argument")
				}
				v, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid version: %w", err)
				}
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force: %w", err)
				}
				fmt.Fprintf(out, "Forced version to %d\n", v)
			default:
				return fmt.Errorf("unknown migrate command %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "path", "", "read migrations from this directory instead of the embedded set")
	return cmd
}
