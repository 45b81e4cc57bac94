package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/subrat243/Intelify/bootstrap"
	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/credentials"
	"github.com/subrat243/Intelify/storage"
	"github.com/subrat243/Intelify/threat/feeds"
)

// newSourcesCmd creates the 'sources' command with all subcommands.
func newSourcesCmd() *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source", "src"},
		Short:   "Manage threat-intel sources",
		Long: `Manage the external feeds that supply IOC candidates.

Sources declared in the sources file are seeded before every command and take
their enabled flag from that file each time.`,
	}

	sourcesCmd.AddCommand(newSourcesListCmd())
	sourcesCmd.AddCommand(newSourcesHealthCmd())
	sourcesCmd.AddCommand(newSourcesRunCmd())
	sourcesCmd.AddCommand(newSourcesEnableCmd(true))
	sourcesCmd.AddCommand(newSourcesEnableCmd(false))
	sourcesCmd.AddCommand(newTemplatesCmd())

	return sourcesCmd
}

func newSourcesListCmd() *cobra.Command {
	var showDisabled bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				sources, err := app.Storage.Sources.ListSources(ctx)
				if err != nil {
					return fmt.Errorf("failed to list sources: %w", err)
				}

				if !showDisabled {
					filtered := sources[:0]
					for _, s := range sources {
						if s.Enabled {
							filtered = append(filtered, s)
						}
					}
					sources = filtered
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), sources)
				}
				renderSourcesTable(cmd.OutOrStdout(), sources)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showDisabled, "all", false, "Show disabled sources")
	return cmd
}

func newSourcesHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show fetch health of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				health, err := app.Storage.Sources.ListSourceHealth(ctx)
				if err != nil {
					return fmt.Errorf("failed to read source health: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), health)
				}
				renderHealthTable(cmd.OutOrStdout(), health)
				return nil
			})
		},
	}
}

func newSourcesRunCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "run <name-or-id>",
		Short: "Fetch one source now",
		Long:  "Fetch, parse and ingest one source immediately, then record its health as a scheduled run would.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				src, err := findSource(ctx, app.Storage.Sources, args[0])
				if err != nil {
					return err
				}

				if !quiet && !outputJSON {
					infoColor.Fprintf(cmd.ErrOrStderr(), "Fetching source: %s\n", src.Name)
				}

				var s *spinner.Spinner
				if showProgress && !outputJSON && !quiet {
					s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
					s.Suffix = " Fetching..."
					s.Start()
				}

				result, err := app.Scheduler.TriggerSource(ctx, src.ID)

				if s != nil {
					s.Stop()
				}
				if err != nil {
					return fmt.Errorf("failed to run source: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), result)
				}
				renderRunResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	return cmd
}

func newSourcesEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <name-or-id>", "Enable a source"
	if !enable {
		use, short = "disable <name-or-id>", "Disable a source"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				src, err := findSource(ctx, app.Storage.Sources, args[0])
				if err != nil {
					return err
				}
				if err := app.Storage.Sources.SetSourceEnabled(ctx, src.ID, enable); err != nil {
					return err
				}

				if !quiet {
					state := "disabled"
					if enable {
						state = "enabled"
					}
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Source %s %s\n", src.Name, state)
				}
				return nil
			})
		},
	}
}

// findSource resolves a source by name first, then by ID
func findSource(ctx context.Context, sources storage.SourceStore, ref string) (*core.Source, error) {
	src, err := sources.GetSourceByName(ctx, ref)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	src, err = sources.GetSource(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no source named or identified by %q", ref)
	}
	return src, err
}

// =============================================================================
// Templates
// =============================================================================

func newTemplatesCmd() *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template", "tpl"},
		Short:   "Built-in source templates",
		Long: `Templates carry the endpoint, adapter and default config of well-known feeds
such as AbuseIPDB, PhishTank, URLhaus, MalwareBazaar and AlienVault OTX.`,
	}

	templatesCmd.AddCommand(newTemplatesListCmd())
	templatesCmd.AddCommand(newTemplatesShowCmd())
	templatesCmd.AddCommand(newTemplatesApplyCmd())

	return templatesCmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List source templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates := feeds.Templates()
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), templates)
			}
			renderTemplatesTable(cmd.OutOrStdout(), templates)
			return nil
		},
	}
}

func newTemplatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show one source template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl := feeds.TemplateByID(args[0])
			if tmpl == nil {
				return fmt.Errorf("unknown template %q", args[0])
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), tmpl)
			}
			renderTemplateDetails(cmd.OutOrStdout(), tmpl)
			return nil
		},
	}
}

func newTemplatesApplyCmd() *cobra.Command {
	var (
		name     string
		apiKey   string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "apply <template-id>",
		Short: "Create a source from a template",
		Long: `Create a source from a template. A plaintext --api-key is sealed with the
master key before it is stored; secret:<key> references are stored as given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl := feeds.TemplateByID(args[0])
			if tmpl == nil {
				return fmt.Errorf("unknown template %q", args[0])
			}
			if tmpl.RequiresAPIKey && apiKey == "" {
				return fmt.Errorf("template %s requires --api-key", tmpl.ID)
			}

			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				key := apiKey
				if key != "" && !credentials.IsReference(key) {
					sealed, err := app.Decrypter.Encrypt(key)
					if err != nil {
						return fmt.Errorf("failed to seal api key (configure the master key or pass a secret: reference): %w", err)
					}
					key = sealed
				}

				src := tmpl.NewSource(name, key)
				src.Enabled = !disabled
				if err := app.Storage.Sources.CreateSource(ctx, src); err != nil {
					return fmt.Errorf("failed to create source: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), src)
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Source %s created from template %s (%s)\n", src.Name, tmpl.ID, src.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Source name (default: template name)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key, or a secret:<key> reference")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the source disabled")
	return cmd
}
