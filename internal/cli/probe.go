package cli

import (
	"encoding/json"
	"fmt"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Detect what the external CLI supports",
	Long: `Run the configured CLI with --version and --help and report whether it
accepts file attachments. Use --refresh to bypass the cached result.`,
	RunE: runProbe,
}

var refreshFlag bool

func init() {
	probeCmd.Flags().BoolVar(&refreshFlag, "refresh", false, "Ignore the cached probe result")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if refreshFlag {
		if err := a.prober.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidating probe cache: %w", err)
		}
	}

	caps, err := a.prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	out, err := json.MarshalIndent(struct {
		Path     string `json:"path"`
		Strategy string `json:"strategy"`
		*models.Capabilities
	}{
		Path:         cfg.Claude.Path,
		Strategy:     a.client.Strategy(ctx).Name(),
		Capabilities: caps,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
