package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/workflow"
)

var (
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#9CA3AF") // Medium gray

	passStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	skipStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func statusText(status string) string {
	switch status {
	case report.StatusPass:
		return passStyle.Render("PASS")
	case report.StatusFail:
		return failStyle.Render("FAIL")
	default:
		return skipStyle.Render("-")
	}
}

// renderSummary prints one row per step and the run verdict.
func renderSummary(w io.Writer, res *workflow.PipelineResult) {
	rr := res.RunResult

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("qemurun %s (%s)", rr.Kind, rr.ID))
	t.AppendHeader(table.Row{"Step", "Status", "Exit", "Duration", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	var total time.Duration
	for _, s := range res.Steps {
		exit, dur := "-", "-"
		if s.Status != report.StatusSkipped {
			if s.Command != "" {
				exit = s.Exit.String()
			}
			dur = formatDuration(s.Duration)
			total += s.Duration
		}
		t.AppendRow(table.Row{s.Name, statusText(s.Status), exit, dur, s.Detail})
	}

	verdict := report.StatusPass
	if !res.Passed() {
		verdict = report.StatusFail
	}
	if verdict == report.StatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.AppendFooter(table.Row{"TOTAL", statusText(verdict), "", formatDuration(total), summaryDetail(rr)})
	t.Render()
}

func summaryDetail(rr *report.RunResult) string {
	switch {
	case rr.Test != nil:
		return rr.Test.Banner
	case rr.Image != "":
		return rr.Image
	default:
		return ""
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
