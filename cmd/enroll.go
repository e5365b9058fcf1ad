package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Build the reference embedding from face images",
	Long: `Embed the first face of every image in the training directory and
save the mean embedding as the reference for the configured identity.
Images without a detectable face are skipped. When no image yields an
embedding the existing reference is kept.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory with training images (default FACES_DIR)")
	enrollCmd.Flags().String("out", "", "Output .npy file (default REFERENCE_FILE)")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	dir := mustGetString(cmd, "dir")
	if dir == "" {
		dir = cfg.Storage.FacesDir
	}
	out := mustGetString(cmd, "out")
	if out == "" {
		out = cfg.Storage.ReferenceFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("Enrolling %s from %s\n", cfg.Recognition.Identity, dir)

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Embedding faces"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("images"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(done)
	}

	result, _, err := a.enroller.Enroll(ctx, dir, out, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		if result != nil {
			fmt.Printf("Processed %d images, %d skipped\n", result.Processed, result.Skipped)
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}

	fmt.Printf("Processed:  %d images\n", result.Processed)
	fmt.Printf("Embedded:   %d faces\n", result.Embedded)
	fmt.Printf("Skipped:    %d\n", result.Skipped)
	fmt.Printf("Dimension:  %d\n", result.Dim)
	fmt.Printf("Saved reference embedding to %s\n", result.Output)
	return nil
}
