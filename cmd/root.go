package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
	"github.com/JakeFAU/screenshot-service/internal/server"
)

// service is what subcommands need from the wired application. Tests swap
// the factory for a fake.
type service interface {
	Run(ctx context.Context) error
	Capture(ctx context.Context, req screenshot.Request) (screenshot.Record, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg *config.Config) (service, error) {
	return server.Build(ctx, cfg)
}

type configKeyType struct{}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "screenshot-service",
		Short: "Captures web page screenshots with a pool of headless browsers.",
		Long: `screenshot-service renders web pages in headless Chrome and stores PNG
captures. It runs as an HTTP service or captures a single page from the
command line.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading SCREENSHOT_* variables")
	cmd.AddCommand(newServeCmd(), newCaptureCmd())
	return cmd
}

// loadEnvFile populates unset variables from path. A missing file is fine;
// variables already in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
