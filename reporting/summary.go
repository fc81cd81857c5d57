package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const maxDetailsLength = 120

// Counts tallies results by status
type Counts struct {
	Total            int
	Passed           int
	Failed           int
	Errors           int
	Skipped          int
	ExpectedFailures int
}

// CountResults tallies the given results
func CountResults(results []*types.TestResult) Counts {
	var c Counts
	for _, r := range results {
		c.Total++
		switch r.Status {
		case types.TestStatusPass:
			c.Passed++
		case types.TestStatusFail:
			c.Failed++
		case types.TestStatusError:
			c.Errors++
		case types.TestStatusSkip:
			c.Skipped++
		case types.TestStatusXFail:
			c.ExpectedFailures++
		}
	}
	return c
}

// Status is the overall status of a run with these counts
func (c Counts) Status() types.TestStatus {
	switch {
	case c.Errors > 0:
		return types.TestStatusError
	case c.Failed > 0:
		return types.TestStatusFail
	case c.Total > 0 && c.Skipped == c.Total:
		return types.TestStatusSkip
	default:
		return types.TestStatusPass
	}
}

// SummaryOptions controls what PrintSummary renders
type SummaryOptions struct {
	RunID        string
	Duration     time.Duration
	FailuresOnly bool // list only tests that did not pass
	Color        bool
}

// PrintSummary renders the results as a table
func PrintSummary(w io.Writer, results []*types.TestResult, opts SummaryOptions) {
	counts := CountResults(results)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	title := fmt.Sprintf("Test Results (%s)", formatDuration(opts.Duration))
	if opts.RunID != "" {
		title = fmt.Sprintf("%s [%s]", title, opts.RunID)
	}
	t.SetTitle(title)

	t.AppendHeader(table.Row{"Package", "Test", "Duration", "Status", "Details"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Package", AutoMerge: true},
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Details", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, r := range results {
		if opts.FailuresOnly && (r.Status == types.TestStatusPass || r.Status == types.TestStatusSkip) {
			continue
		}
		t.AppendRow(table.Row{
			r.Package,
			displayName(r),
			formatDuration(r.Duration),
			getResultString(r.Status),
			keyMessage(r),
		})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d tests: %d passed, %d failed, %d errors, %d skipped, %d expected failures",
			counts.Total, counts.Passed, counts.Failed, counts.Errors, counts.Skipped, counts.ExpectedFailures),
		formatDuration(opts.Duration),
		getResultString(counts.Status()),
		"",
	})

	switch {
	case !opts.Color:
		t.SetStyle(table.StyleLight)
	case counts.Status() == types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case counts.Status() == types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.Render()
}

// displayName indents subtests under their parent
func displayName(r *types.TestResult) string {
	if !r.IsSubTest() {
		return strings.TrimPrefix(r.ID, r.Package+".")
	}
	return strings.Repeat("  ", r.Depth) + "└── " + r.HierarchyPath[len(r.HierarchyPath)-1]
}

// keyMessage picks the most pertinent line of what was reported
func keyMessage(r *types.TestResult) string {
	msg := r.Message
	if r.Status == types.TestStatusFail || r.Status == types.TestStatusError {
		lines := strings.Split(strings.TrimSpace(r.Details), "\n")
		msg = lines[len(lines)-1]
	}
	if len(msg) > maxDetailsLength {
		msg = msg[:maxDetailsLength-3] + "..."
	}
	return msg
}

func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusXFail:
		return "✓ xfail"
	case types.TestStatusError:
		return "✗ error"
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
