package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/example/capa/internal/ctxutil"
	"github.com/example/capa/internal/version"
	"github.com/example/capa/internal/wire"
)

// RootCmd builds the capa command tree.
func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "capa",
		Short:   "capa - corrective action tracking",
		Version: version.String(),
		Long: `capa tracks corrective actions raised after incidents and the sub-actions
that complete them. A corrective action's status follows its sub-actions;
a background sweep keeps overdue flags current as due dates pass.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFile, _ := cmd.Flags().GetString("log-file")
			wire.Configure(wire.Options{ConfigPath: configPath, LogLevel: logLevel, LogFile: logFile})

			actor, _ := cmd.Flags().GetString("actor")
			cmd.SetContext(ctxutil.WithActorID(cmd.Context(), actor))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.capa/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Append JSON logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("actor", defaultActor(), "Who is making the change (default: $CAPA_ACTOR or $USER)")

	rootCmd.AddCommand(ActionCmd())
	rootCmd.AddCommand(SubCmd())
	rootCmd.AddCommand(SweepCmd())
	rootCmd.AddCommand(ServeCmd())

	// Developer tools
	rootCmd.AddCommand(SeedCmd())

	return rootCmd
}

func defaultActor() string {
	if actor := os.Getenv("CAPA_ACTOR"); actor != "" {
		return actor
	}
	return os.Getenv("USER")
}
