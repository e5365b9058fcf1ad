package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run the recognition loop without the web server",
	Long: `Open the camera and mark attendance whenever the enrolled identity is
recognized, at most once per day. Runs until Ctrl+C.`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Similarity a face must exceed (default RECOGNITION_THRESHOLD)")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		cfg.Recognition.Threshold = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.recognizer.HasReference() {
		return recognition.ErrNoReference
	}

	camera := a.camera()
	if err := camera.Start(ctx, a.recognizer.Process); err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}

	fmt.Printf("Recognizing %s (threshold %.2f), press Ctrl+C to stop\n", cfg.Recognition.Identity, cfg.Recognition.Threshold)
	<-camera.Done()

	status := camera.Status()
	fmt.Printf("\nProcessed %d frames (%d skipped)\n", status.Frames, status.Skipped)

	if day, err := a.attendance.Today(context.Background(), cfg.Recognition.Identity); err == nil {
		fmt.Printf("%s today: %s\n", cfg.Recognition.Identity, day.Status)
	}

	if err := camera.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("camera stopped: %w", err)
	}
	return nil
}
