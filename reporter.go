package acceptor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dbforge/compute-acceptor/types"
)

// printResultsTable prints the per-version results of a matrix run.
func (a *acceptor) printResultsTable(result *types.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Compute Acceptance Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Version", "Test Image", "Ready After", "Duration", "Status", "Failed Suites", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Version", Align: text.AlignRight},
		{Name: "Test Image", Align: text.AlignRight},
		{Name: "Ready After", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Failed Suites", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, v := range result.Versions {
		errText := ""
		if v.Err != nil {
			errText = v.Err.Error()
		}
		t.AppendRow(table.Row{
			v.Version,
			v.TestVersion,
			formatDuration(v.ReadyAfter),
			formatDuration(v.Duration),
			getResultString(v.Status),
			strings.Join(v.FailedSuites, " "),
			errText,
		})
	}

	t.AppendFooter(table.Row{
		"", "",
		"",
		formatDuration(result.Duration),
		getResultString(result.Status),
		fmt.Sprintf("%d/%d passed", result.Stats.Passed, result.Stats.Total),
		"",
	})
	t.Render()
}

// getResultString returns a symbol-prefixed string representing the result
func getResultString(status types.Status) string {
	switch status {
	case types.StatusPass:
		return "✓ pass"
	case types.StatusSkip:
		return "- skip"
	case types.StatusTimeout:
		return "✗ timeout"
	default:
		return "✗ fail"
	}
}

// formatDuration renders durations compactly for table cells.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}
