package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/novogod/hostbackup/internal/logger"
)

// ConfigFile is the path to the YAML configuration. Empty means defaults only.
var (
	ConfigFile string
	// rootCmd is the base command for hostbackup.
	rootCmd = &cobra.Command{
		Use:   "hostbackup",
		Short: "Full-host backup with a staged, space-guarded pipeline",
		Long: `hostbackup captures system facts, installed packages, service state,
container images, volumes and database dumps, compose projects and
configuration trees into one compressed archive, together with the
manifest and a restore procedure for the captured host.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	log, err := logger.Init()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(versionCmd)
}
