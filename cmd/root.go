// Package cmd provides the command-line interface of Intelify.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/subrat243/Intelify/bootstrap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds one-shot CLI operations
const defaultTimeout = 10 * time.Minute

// NewRootCmd creates the intelify command. Without a subcommand it runs the
// service until interrupted.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intelify",
		Short: "Threat-intel IOC ingestion, correlation and enrichment",
		Long: `Intelify collects indicators of compromise from external threat-intel feeds,
normalizes and enriches them, correlates them across sources and links them to
security news.

Run without a subcommand to start the scheduler and the status API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newCorrelateCmd())
	rootCmd.AddCommand(newNewsCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newEncryptCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newAdaptersCmd())

	return rootCmd
}

// runService starts the application and blocks until a shutdown signal
func runService(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.NewApp(ctx, configFile)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

// withApp builds the application, applies the seeds and runs fn against it.
// The scheduler is never started.
func withApp(fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	app, err := bootstrap.NewApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if err := app.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed sources: %w", err)
	}
	return fn(ctx, app)
}

// outputAsJSON writes data as indented JSON
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
