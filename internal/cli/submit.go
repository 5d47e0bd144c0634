package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/session"
	"github.com/phambaophuc/image-relay/pkg/utils"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [flags] IMAGE...",
	Short: "Run one session from local image files",
	Long: `Validate the given images, submit them as one batch with the
instruction, and print the reply.

Examples:
  imagerelay submit photo.jpg
  imagerelay submit -i "Compare the two receipts" a.png b.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var (
	instructionFlag string
	userFlag        int64
	captionFlags    []string
)

func init() {
	submitCmd.Flags().StringVarP(&instructionFlag, "instruction", "i", "", "Instruction sent with the images")
	submitCmd.Flags().Int64Var(&userFlag, "user", 1, "User id the session runs as")
	submitCmd.Flags().StringArrayVarP(&captionFlags, "caption", "c", nil, "Caption for the image at the same position")
}

func runSubmit(cmd *cobra.Command, args []string) error {
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

	var instruction *string
	if strings.TrimSpace(instructionFlag) != "" {
		instruction = &instructionFlag
	}
	if _, err := a.manager.Start(ctx, userFlag, instruction); err != nil {
		return err
	}

	raws := make([]models.RawImage, 0, len(args))
	for i, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		raw := models.RawImage{Reader: f, Filename: utils.SanitizeFilename(filepath.Base(path)), UserID: userFlag}
		if i < len(captionFlags) && captionFlags[i] != "" {
			raw.Caption = &captionFlags[i]
		}
		raws = append(raws, raw)
	}

	outcome, err := a.manager.AddImages(ctx, userFlag, raws)
	if err != nil {
		return err
	}
	if outcome.Action != session.ActionCompleted {
		if outcome, err = a.manager.RequestDone(ctx, userFlag); err != nil {
			return err
		}
	}

	text := outcome.Message
	if outcome.Result != nil {
		text = outcome.Result.Output
	}
	for _, segment := range utils.SplitSegments(text, 0) {
		fmt.Fprintln(cmd.OutOrStdout(), segment)
	}
	return nil
}
