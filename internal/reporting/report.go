// Package reporting renders a completed optimization run as a styled
// terminal report: a candidate summary table, iteration statistics, and
// (verbose) a per-iteration breakdown of acceptance/rejection events.
package reporting

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"

	gepa "github.com/scale3labs/gepa-optimizer"
	"github.com/scale3labs/gepa-optimizer/internal/help"
)

// PrintStyledReport renders result and the events collected alongside it as
// a colorized report to stdout.
func PrintStyledReport(result gepa.RunResult, events []gepa.Event, verbose bool) error {
	styles := help.DefaultStyles()

	var content strings.Builder
	content.WriteString(captureReportHeader(styles))
	content.WriteString(captureSummaryTable(result, styles))
	content.WriteString(captureOverallStats(result, events, styles))

	if verbose {
		content.WriteString(captureDetailedBreakdown(events, styles))
	}

	marginStyle := lipgloss.NewStyle().MarginTop(1).MarginBottom(1)
	fmt.Println(marginStyle.Render(content.String()))

	return nil
}

func h1(styles help.Styles, text string) string {
	return styles.Heading.Render("# "+text) + "\n\n"
}

func h2(styles help.Styles, text string) string {
	return styles.Heading.Render("## "+text) + "\n\n"
}

func h3(styles help.Styles, text string) string {
	return styles.Heading.Render("### "+text) + "\n\n"
}

func captureReportHeader(styles help.Styles) string {
	return h1(styles, "Prompt Optimization Summary")
}

func captureSummaryTable(result gepa.RunResult, styles help.Styles) string {
	var output strings.Builder

	candidates := append([]gepa.PromptCandidate(nil), result.Candidates...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].DiscoveredAtIteration < candidates[j].DiscoveredAtIteration })

	bestID := bestCandidateID(result)
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, buildCandidateRow(c, bestID, styles))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Heading).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(styles.Heading.GetForeground()).Align(lipgloss.Left).Padding(0, 2)
			}
			return lipgloss.NewStyle().Align(lipgloss.Left).Padding(0, 2)
		}).
		Headers("Candidate", "Iteration", "Score", "", "Parents").
		Rows(rows...)

	output.WriteString(t.String() + "\n\n")
	return output.String()
}

// bestCandidateID finds the candidate whose prompt matches the run's final
// prompt; RunResult doesn't carry the winning candidate's id directly.
func bestCandidateID(result gepa.RunResult) string {
	for _, c := range result.Candidates {
		if c.Prompt == result.FinalPrompt {
			return c.ID
		}
	}
	return ""
}

func buildCandidateRow(c gepa.PromptCandidate, bestID string, styles help.Styles) []string {
	id := c.ID
	if c.ID == bestID && bestID != "" {
		id = styles.Success.Render(id + " (best)")
	}

	parents := "-"
	if len(c.Parents) > 0 {
		parents = strings.Join(c.Parents, ", ")
	}

	stars := int(c.OverallScore*5 + 0.5)
	bar := lipgloss.NewStyle().Foreground(getScoreColor(stars, styles)).Render(makeScoreBar(stars))

	return []string{id, fmt.Sprintf("%d", c.DiscoveredAtIteration), fmt.Sprintf("%.3f", c.OverallScore), bar, parents}
}

func captureOverallStats(result gepa.RunResult, events []gepa.Event, styles help.Styles) string {
	var output strings.Builder
	output.WriteString(h2(styles, "Statistics"))

	accepted, rejected, errored := 0, 0, 0
	for _, e := range events {
		switch e.Kind {
		case gepa.EventIterationAccepted:
			accepted++
		case gepa.EventIterationRejected:
			rejected++
		case gepa.EventIterationError, gepa.EventReflectionFailed:
			errored++
		}
	}

	output.WriteString(fmt.Sprintf("Candidates discovered: %d\n", len(result.Candidates)))
	output.WriteString(fmt.Sprintf("Best score: %.3f\n", result.BestScore))
	output.WriteString(fmt.Sprintf("Iterations accepted: %s\n", styles.Success.Render(fmt.Sprintf("%d", accepted))))
	output.WriteString(fmt.Sprintf("Iterations rejected: %s\n", styles.Muted.Render(fmt.Sprintf("%d", rejected))))
	if errored > 0 {
		output.WriteString(fmt.Sprintf("Iterations errored: %s\n", styles.Error.Render(fmt.Sprintf("%d", errored))))
	}
	output.WriteString("\n")

	return output.String()
}

func captureDetailedBreakdown(events []gepa.Event, styles help.Styles) string {
	var output strings.Builder
	output.WriteString(h2(styles, "Iteration Detail"))

	for _, e := range events {
		switch e.Kind {
		case gepa.EventIterationAccepted:
			output.WriteString(h3(styles, fmt.Sprintf("Iteration %d: accepted", e.Iteration)))
			output.WriteString(fmt.Sprintf("Batch score %.3f -> improved score %.3f (best so far %.3f)\n\n", e.BatchScore, e.ImprovedScore, e.BestScore))
		case gepa.EventIterationRejected:
			output.WriteString(h3(styles, fmt.Sprintf("Iteration %d: rejected", e.Iteration)))
			output.WriteString(fmt.Sprintf("Batch score %.3f -> improved score %.3f did not strictly improve\n\n", e.BatchScore, e.ImprovedScore))
		case gepa.EventReflectionFailed:
			output.WriteString(fmt.Sprintf("%s iteration %d: rewrite failed: %s\n\n", styles.Error.Render("!"), e.Iteration, wrapText(e.Message, 100)))
		case gepa.EventIterationError:
			output.WriteString(fmt.Sprintf("%s iteration %d: %s\n\n", styles.Error.Render("!"), e.Iteration, wrapText(e.Message, 100)))
		case gepa.EventError:
			output.WriteString(fmt.Sprintf("%s %s: %s\n\n", styles.Error.Render("!"), e.Reason, e.Message))
		}
	}

	return output.String()
}

func getScoreColor(stars int, styles help.Styles) color.Color {
	switch {
	case stars >= 4:
		return styles.Success.GetForeground()
	case stars == 3:
		return styles.Muted.GetForeground()
	default:
		return styles.Error.GetForeground()
	}
}

func makeScoreBar(stars int) string {
	const filled, empty = "█", "░"
	var bar strings.Builder
	for i := 1; i <= 5; i++ {
		if i <= stars {
			bar.WriteString(filled)
		} else {
			bar.WriteString(empty)
		}
	}
	return bar.String()
}

func wrapText(text string, width int) string {
	if len(text) <= width {
		return text
	}

	var wrapped strings.Builder
	words := strings.Fields(text)
	lineLen := 0

	for i, word := range words {
		wordLen := len(word)
		if lineLen+wordLen+1 > width && lineLen > 0 {
			wrapped.WriteString("\n    ")
			lineLen = 0
		}
		if i > 0 && lineLen > 0 {
			wrapped.WriteString(" ")
			lineLen++
		}
		wrapped.WriteString(word)
		lineLen += wordLen
	}

	return wrapped.String()
}
