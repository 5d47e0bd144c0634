package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired temp files once",
	Long: `Remove processed images older than TEMP_RETENTION from TEMP_DIR.

With --records and a RECORDS_DB_PATH, finished sessions older than
RECORDS_RETENTION are purged as well.`,
	RunE: runSweep,
}

var (
	maxAgeFlag  time.Duration
	recordsFlag bool
)

func init() {
	sweepCmd.Flags().DurationVar(&maxAgeFlag, "max-age", 0, "Override TEMP_RETENTION")
	sweepCmd.Flags().BoolVar(&recordsFlag, "records", false, "Also purge old session records")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.Flags().Changed("max-age") {
		cfg.Storage.Retention = maxAgeFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if !recordsFlag {
		cfg.Records.Retention = 0
	}

	a, err := newApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	before, err := a.store.Count()
	if err != nil {
		return fmt.Errorf("reading temp dir: %w", err)
	}
	a.sweep(cmd.Context())
	after, err := a.store.Count()
	if err != nil {
		return fmt.Errorf("reading temp dir: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d temp files from %s\n", before-after, before, a.store.Dir())
	return nil
}
