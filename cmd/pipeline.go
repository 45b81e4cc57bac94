package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/subrat243/Intelify/bootstrap"
	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/credentials"
	"github.com/subrat243/Intelify/threat/feeds"
)

// runWithSpinner shows a spinner on stderr while fn runs, unless output is
// JSON or quiet
func runWithSpinner(cmd *cobra.Command, suffix string, fn func() error) error {
	if outputJSON || quiet {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}

func newCorrelateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correlate",
		Short: "Run the cross-source correlation pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				var stats interface{}
				err := runWithSpinner(cmd, "Correlating IOCs...", func() error {
					s, err := app.Correlator.CorrelateIOCs(ctx)
					stats = s
					return err
				})
				if err != nil {
					return fmt.Errorf("correlation failed: %w", err)
				}
				return renderStats(cmd, "Correlation", stats)
			})
		},
	}
}

func newNewsCmd() *cobra.Command {
	newsCmd := &cobra.Command{
		Use:   "news",
		Short: "Fetch security news and link it to IOCs",
	}

	newsCmd.AddCommand(&cobra.Command{
		Use:   "fetch",
		Short: "Fetch every enabled news source now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				var stats interface{}
				err := runWithSpinner(cmd, "Fetching news...", func() error {
					s, err := app.News.FetchAll(ctx)
					stats = s
					return err
				})
				if err != nil {
					return fmt.Errorf("news fetch failed: %w", err)
				}
				return renderStats(cmd, "News fetch", stats)
			})
		},
	})

	newsCmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Link recent articles to known IOCs now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				var stats interface{}
				err := runWithSpinner(cmd, "Linking articles...", func() error {
					s, err := app.Correlator.LinkNewsToIOCs(ctx)
					stats = s
					return err
				})
				if err != nil {
					return fmt.Errorf("news linking failed: %w", err)
				}
				return renderStats(cmd, "News linking", stats)
			})
		},
	})

	return newsCmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete IOCs and articles past their retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				stats, err := app.Sweeper.Sweep(ctx)
				if err != nil {
					return fmt.Errorf("retention sweep failed: %w", err)
				}
				return renderStats(cmd, "Retention sweep", stats)
			})
		},
	}
}

// =============================================================================
// Credentials
// =============================================================================

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Seal a credential with the master key",
		Long: `Seal a credential into the enc:v1 form accepted in a source's api_key.
The master key is read from the configured secret provider under
credentials.master_key_name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.InitConfig(configFile)
			if err != nil {
				return err
			}
			secrets, err := config.NewSecretManager(cfg.Credentials)
			if err != nil {
				return err
			}

			sealed, err := credentials.NewDecrypter(secrets, cfg.Credentials.MasterKeyName).Encrypt(args[0])
			if err != nil {
				return fmt.Errorf("failed to encrypt: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := bootstrap.GenerateMasterKey(length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", 32, "Key length in characters (minimum 32)")
	return cmd
}

func newAdaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the registered feed adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := feeds.DefaultRegistry().Names()
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), names)
			}
			headerColor.Fprintln(cmd.OutOrStdout(), "ADAPTERS")
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "  • %s\n", name)
			}
			return nil
		},
	}
}
