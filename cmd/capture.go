package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

type captureFlags struct {
	url        string
	resolution string
	userAgent  string
	adblock    bool
	fullPage   bool
	waitUntil  string
	timeout    time.Duration
	out        string
}

func newCaptureCmd() *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a single page and print its record",
		Long: `capture runs one request through the same safety check, browser pool
and capture pipeline as the HTTP service, prints the resulting record as JSON
and optionally copies the image to --out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCaptureCommand(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "page to capture (required)")
	cmd.Flags().StringVar(&f.resolution, "resolution", "", "viewport such as 1280x720")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "", "allow-listed user agent to emulate")
	cmd.Flags().BoolVar(&f.adblock, "adblock", false, "block ad and tracker requests")
	cmd.Flags().BoolVar(&f.fullPage, "full-page", true, "capture the full scrollable page")
	cmd.Flags().StringVar(&f.waitUntil, "wait-until", "", "load, domcontentloaded, networkidle0 or networkidle2")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "navigation timeout")
	cmd.Flags().StringVar(&f.out, "out", "", "copy the captured PNG to this path")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, f captureFlags) (err error) {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	cfg.RateLimit.Enabled = false

	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", cerr)
		}
	}()

	fullPage := f.fullPage
	record, err := app.Capture(cmd.Context(), screenshot.Request{
		URL:           f.url,
		Resolution:    screenshot.Resolution(f.resolution),
		UserAgent:     screenshot.UserAgent(f.userAgent),
		EnableAdblock: f.adblock,
		FullPage:      &fullPage,
		WaitUntil:     screenshot.WaitCondition(f.waitUntil),
		Timeout:       f.timeout,
	})
	if err != nil {
		return fmt.Errorf("capture %s (%s): %w", f.url, screenshot.KindOf(err), err)
	}

	if f.out != "" {
		if err := copyFile(record.Path, f.out); err != nil {
			return err
		}
		record.Path = f.out
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
