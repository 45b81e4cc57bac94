package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/threat/feeds"
)

// renderSourcesTable displays sources in a formatted table
func renderSourcesTable(w io.Writer, sources []*core.Source) {
	if len(sources) == 0 {
		warningColor.Fprintln(w, "No sources configured")
		return
	}

	headerColor.Fprintln(w, "SOURCES")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-10s %-28s %-8s %-8s %-10s %-16s %-16s\n",
		"ID", "Name", "Kind", "Enabled", "Interval", "Last Success", "Next Fetch")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, src := range sources {
		lastSuccess := "Never"
		if src.LastSuccessAt != nil {
			lastSuccess = formatTimeSince(*src.LastSuccessAt)
		}
		next := "Due"
		if src.NextFetchAt != nil {
			next = formatTimeUntil(*src.NextFetchAt)
		}

		fmt.Fprintf(w, "%-10s %-28s %-8s %-8s %-10s %-16s %-16s\n",
			shortID(src.ID), truncate(src.Name, 27), src.Kind, yesNo(src.Enabled),
			src.FetchInterval().String(), lastSuccess, next)
	}

	headerColor.Fprintln(w, strings.Repeat("=", 110))
}

// renderHealthTable displays the health projection of every source
func renderHealthTable(w io.Writer, health []core.SourceHealth) {
	if len(health) == 0 {
		warningColor.Fprintln(w, "No sources configured")
		return
	}

	headerColor.Fprintln(w, "SOURCE HEALTH")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-28s %-10s %-9s %-16s %s\n", "Name", "Status", "Failures", "Last Success", "Last Error")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, h := range health {
		lastSuccess := "Never"
		if h.LastSuccessAt != nil {
			lastSuccess = formatTimeSince(*h.LastSuccessAt)
		}
		lastError := ""
		if h.LastError != nil {
			lastError = truncate(*h.LastError, 50)
		}

		fmt.Fprintf(w, "%-28s %-10s %-9d %-16s %s\n",
			truncate(h.Name, 27), formatHealth(h), h.ConsecutiveFailures, lastSuccess, lastError)
	}

	headerColor.Fprintln(w, strings.Repeat("=", 110))
}

// renderRunResult displays the outcome of one source run
func renderRunResult(w io.Writer, result *feeds.RunResult) {
	if result.Success {
		successColor.Fprintf(w, "✓ %s fetched in %s\n", result.SourceName, result.Duration.Round(time.Millisecond))
	} else {
		errorColor.Fprintf(w, "✗ %s failed: %s\n", result.SourceName, result.Error)
	}

	printField(w, "Adapter", result.Adapter)
	printField(w, "Candidates", fmt.Sprintf("%d", result.Candidates))
	printField(w, "Created", fmt.Sprintf("%d", result.Ingest.Created))
	printField(w, "Updated", fmt.Sprintf("%d", result.Ingest.Updated))
	printField(w, "Dropped", fmt.Sprintf("%d", result.Ingest.Dropped))
	printField(w, "Failed", fmt.Sprintf("%d", result.Ingest.Failed))
	printField(w, "Next fetch", formatTime(result.NextFetchAt))
}

// renderTemplatesTable displays source templates
func renderTemplatesTable(w io.Writer, templates []*feeds.Template) {
	headerColor.Fprintln(w, "SOURCE TEMPLATES")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-28s %-28s %-8s %-10s %-8s %s\n", "ID", "Name", "Kind", "Interval", "API Key", "Tags")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, tmpl := range templates {
		fmt.Fprintf(w, "%-28s %-28s %-8s %-10s %-8s %s\n",
			tmpl.ID, truncate(tmpl.Name, 27), tmpl.Kind,
			(time.Duration(tmpl.FetchIntervalMinutes) * time.Minute).String(),
			yesNo(tmpl.RequiresAPIKey), truncate(strings.Join(tmpl.Tags, ", "), 30))
	}

	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "\nTotal templates: %d\n", len(templates))
}

// renderTemplateDetails displays one template
func renderTemplateDetails(w io.Writer, tmpl *feeds.Template) {
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	headerColor.Fprintf(w, "  Template Details: %s\n", tmpl.Name)
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	printSection(w, "Basic Information")
	printField(w, "ID", tmpl.ID)
	printField(w, "Name", tmpl.Name)
	printField(w, "Description", tmpl.Description)
	printField(w, "Kind", string(tmpl.Kind))
	printField(w, "Adapter", tmpl.Adapter)
	printField(w, "URL", tmpl.URL)
	printField(w, "Requires API key", formatBool(tmpl.RequiresAPIKey))
	printField(w, "Fetch interval", (time.Duration(tmpl.FetchIntervalMinutes) * time.Minute).String())
	printField(w, "Trust weight", fmt.Sprintf("%.2f", tmpl.TrustWeight))
	fmt.Fprintln(w)

	if len(tmpl.DefaultConfig) > 0 {
		printSection(w, "Default Config")
		keys := make([]string, 0, len(tmpl.DefaultConfig))
		for k := range tmpl.DefaultConfig {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printField(w, k, fmt.Sprintf("%v", tmpl.DefaultConfig[k]))
		}
		fmt.Fprintln(w)
	}

	printSection(w, "Usage Example")
	fmt.Fprintf(w, "  intelify sources templates apply %s \\\n", tmpl.ID)
	if tmpl.RequiresAPIKey {
		fmt.Fprintf(w, "    --api-key=secret:%s \\\n", tmpl.ID)
	}
	fmt.Fprintf(w, "    --name=%q\n", tmpl.Name)
	fmt.Fprintln(w)
}

// renderStats prints a pass summary, as JSON when requested
func renderStats(cmd *cobra.Command, title string, stats interface{}) error {
	w := cmd.OutOrStdout()
	if outputJSON {
		return outputAsJSON(w, stats)
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}

	successColor.Fprintf(w, "✓ %s completed\n", title)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printField(w, strings.ReplaceAll(k, "_", " "), fmt.Sprintf("%v", fields[k]))
	}
	return nil
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func formatHealth(h core.SourceHealth) string {
	switch {
	case !h.Enabled:
		return color.New(color.FgYellow).Sprint("disabled")
	case h.IsHealthy:
		return color.New(color.FgGreen).Sprint("healthy")
	default:
		return color.New(color.FgRed).Sprint("unhealthy")
	}
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatTimeSince formats time since a timestamp
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return humanDuration(time.Since(t)) + " ago"
}

// formatTimeUntil formats the time left until t
func formatTimeUntil(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return "Due"
	}
	return "in " + humanDuration(d)
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
