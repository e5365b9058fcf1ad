package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Save face crops from the camera for enrollment",
	Long: `Open the camera and save the first detected face of each frame as a
training image until the requested number of crops has been saved.
Run enroll afterwards to rebuild the reference embedding.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("name", "", "Label used in file names (default IDENTITY_NAME)")
	captureCmd.Flags().Int("count", 0, "Number of face crops to save (default CAPTURE_COUNT)")
	captureCmd.Flags().String("dir", "", "Output directory (default FACES_DIR)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	name := mustGetString(cmd, "name")
	if name == "" {
		name = cfg.Recognition.Identity
	}
	count := mustGetInt(cmd, "count")
	if count <= 0 {
		count = cfg.Recognition.CaptureCount
	}
	dir := mustGetString(cmd, "dir")
	if dir == "" {
		dir = cfg.Storage.FacesDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	collector, err := recognition.NewCollector(a.faces, dir, name, count, cfg.Recognition.FaceSize)
	if err != nil {
		return err
	}
	collector.SetPreviewSize(cfg.Camera.PreviewWidth, cfg.Camera.PreviewHeight)

	camera := a.camera()
	if err := camera.Start(ctx, collector.Process); err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer camera.Stop()

	fmt.Printf("Capturing %d faces of %s into %s (Ctrl+C to stop)\n", count, name, dir)
	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Saving faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-collector.Done():
			_ = bar.Set(collector.Saved())
			_ = bar.Finish()
			fmt.Printf("\nSaved %d face crops to %s\n", collector.Saved(), dir)
			return nil
		case <-camera.Done():
			fmt.Println()
			if err := camera.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("camera stopped after %d faces: %w", collector.Saved(), err)
			}
			fmt.Printf("Stopped after %d of %d faces\n", collector.Saved(), count)
			return nil
		case <-ticker.C:
			_ = bar.Set(collector.Saved())
		}
	}
}
