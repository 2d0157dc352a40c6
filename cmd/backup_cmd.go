package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novogod/hostbackup/internal/config"
	"github.com/novogod/hostbackup/internal/logger"
	"github.com/novogod/hostbackup/internal/pipeline"
	"github.com/novogod/hostbackup/internal/space"
)

var (
	flagDeleteStaging bool
	flagKeepStaging   bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a full host backup into one compressed archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return errors.New("backup must run as root: it reads protected files and the container volume store")
		}

		cfg := &config.Config{}
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		switch {
		case cmd.Flags().Changed("delete-staging"):
			cfg.Backup.DeleteStaging = flagDeleteStaging
		case cmd.Flags().Changed("keep-staging"):
			cfg.Backup.DeleteStaging = !flagKeepStaging
		}

		log := logger.Global()
		p := pipeline.New(cmd.Context(), cfg, log)

		run, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "archive: %s\n", run.ArchivePath)
		if cfg.Backup.DeleteStaging {
			return nil
		}

		// The tree was kept through the run. Interactive sessions get asked
		// once, now that the archive is safely on disk; everything else
		// keeps it.
		if !cmd.Flags().Changed("keep-staging") && stdinIsTerminal() && askDeleteStaging(cmd) {
			if err := os.RemoveAll(run.StagingPath); err != nil {
				log.Warn("staging tree not removed", "path", run.StagingPath, "error", err)
			}
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "staging: %s\n", run.StagingPath)
		return nil
	},
}

func askDeleteStaging(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "Delete the uncompressed staging tree? [y/N] ")
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// exitCode distinguishes a disk-space abort from every other failure, so
// schedulers can tell "add disk" apart from "investigate".
func exitCode(err error) int {
	var ise *space.InsufficientSpaceError
	if errors.As(err, &ise) {
		return 2
	}
	return 1
}

func init() {
	backupCmd.Flags().
		BoolVar(&flagDeleteStaging, "delete-staging", false, "remove the uncompressed staging tree after archiving")
	backupCmd.Flags().
		BoolVar(&flagKeepStaging, "keep-staging", false, "keep the uncompressed staging tree next to the archive")
	backupCmd.MarkFlagsMutuallyExclusive("delete-staging", "keep-staging")
}
