package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/capa/internal/db"
	"github.com/example/capa/internal/wire"
)

var seedCmd = &cobra.Command{
	Use:    "seed",
	Short:  "Load development fixtures into an empty database",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := wire.Database()
		if err != nil {
			return err
		}
		if err := db.SeedFixtures(database, time.Now()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Seeded 5 corrective actions and 7 sub-actions")
		fmt.Fprintln(cmd.OutOrStdout(), "  Run `capa sweep` to flag the past-due ones")
		return nil
	},
}

// SeedCmd returns the seed command
func SeedCmd() *cobra.Command {
	return seedCmd
}
