package formatter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

const (
	divider      = "═══════════════════════════════════════════════════════════════════════════════"
	sectionBreak = "───────────────────────────────────────────────────────────────────────────────"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type Formatter struct {
	useColors bool
}

func NewFormatter(useColors bool) *Formatter {
	return &Formatter{
		useColors: useColors,
	}
}

func (f *Formatter) finish(sb *strings.Builder) string {
	if f.useColors {
		return sb.String()
	}
	return ansiPattern.ReplaceAllString(sb.String(), "")
}

func (f *Formatter) writeHeader(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(Colorize(Cyan, divider))
	sb.WriteString("\n")
	sb.WriteString(Title("  " + title))
	sb.WriteString("\n")
	sb.WriteString(Colorize(Cyan, divider))
	sb.WriteString("\n\n")
}

func (f *Formatter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(SectionHeader(title))
	sb.WriteString("\n")
	sb.WriteString(Colorize(Gray, sectionBreak))
	sb.WriteString("\n")
}

func (f *Formatter) FormatIncidentAnalysis(result *models.IncidentAnalysis) string {
	var sb strings.Builder

	f.writeHeader(&sb, "🔍 ERP SENTINEL INCIDENT ANALYSIS")

	f.writeSection(&sb, "📋 INCIDENT SUMMARY")
	sb.WriteString(fmt.Sprintf("  Title:       %s\n", BoldColorize(White, result.Title)))
	sb.WriteString(fmt.Sprintf("  Severity:    %s\n", SeverityBadge(result.Severity)))
	sb.WriteString(fmt.Sprintf("  Alerts:      %s\n", Info(fmt.Sprintf("%d", result.AlertCount))))
	sb.WriteString(fmt.Sprintf("  Correlation: %s\n", Muted(result.CorrelationID)))
	sb.WriteString("\n")

	f.writeSection(&sb, "🎯 ROOT CAUSE ANALYSIS")
	sb.WriteString(fmt.Sprintf("  Confidence:  %s\n", ConfidenceBadge(result.Confidence)))
	sb.WriteString(fmt.Sprintf("  Root Cause:  %s\n\n", BoldColorize(Yellow, result.RootCause)))
	if result.Reasoning != "" {
		sb.WriteString(Colorize(Gray, "  Detailed Reasoning:"))
		sb.WriteString("\n")
		sb.WriteString(f.indentText(result.Reasoning, "    "))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(result.Timeline) > 0 {
		f.writeTimeline(&sb, result.Timeline)
	}
	if len(result.Recommendations) > 0 {
		f.writeRecommendations(&sb, result.Recommendations)
	}

	sb.WriteString(Muted(fmt.Sprintf("  Generated by %s at %s", result.Provider, result.GeneratedAt.Format(time.RFC3339))))
	sb.WriteString("\n")
	sb.WriteString(Colorize(Cyan, divider))
	sb.WriteString("\n")

	return f.finish(&sb)
}

func (f *Formatter) FormatAlerts(alerts []models.Alert) string {
	var sb strings.Builder
	f.writeSection(&sb, fmt.Sprintf("🚨 ALERTS (%d)", len(alerts)))

	if len(alerts) == 0 {
		sb.WriteString(Muted("  No alerts"))
		sb.WriteString("\n")
		return f.finish(&sb)
	}

	for _, a := range alerts {
		sb.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			Colorize(Magenta, a.CreatedAt.Local().Format("01-02 15:04:05")),
			SeverityBadge(a.Severity),
			BoldColorize(White, a.Type),
			StatusBadge(string(a.Status)),
		))
		sb.WriteString(fmt.Sprintf("    %s %s\n", Colorize(Gray, "└─"), a.Message))
		details := []string{"id " + a.ID}
		if a.Resource != "" {
			details = append(details, "on "+a.Resource)
		}
		if a.CorrelationID != "" {
			details = append(details, "correlation "+a.CorrelationID)
		}
		sb.WriteString(fmt.Sprintf("       %s\n", Muted(strings.Join(details, " · "))))
	}
	return f.finish(&sb)
}

func (f *Formatter) FormatCorrelations(correlations []models.AlertCorrelation) string {
	var sb strings.Builder
	f.writeSection(&sb, fmt.Sprintf("🔗 CORRELATIONS (%d)", len(correlations)))

	if len(correlations) == 0 {
		sb.WriteString(Muted("  No correlations"))
		sb.WriteString("\n")
		return f.finish(&sb)
	}

	for _, c := range correlations {
		sb.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			Colorize(Magenta, c.FirstDetectedAt.Local().Format("01-02 15:04:05")),
			SeverityBadge(c.Severity),
			BoldColorize(White, c.Title),
			StatusBadge(string(c.Status)),
		))
		sb.WriteString(fmt.Sprintf("    %s %d alerts, confidence %s\n", Colorize(Gray, "└─"), c.AlertCount, ScoreBadge(c.Confidence)))
		sb.WriteString(fmt.Sprintf("       %s\n", Muted(c.Reason)))
		sb.WriteString(fmt.Sprintf("       %s\n", Muted("id "+c.ID)))
	}
	return f.finish(&sb)
}

// Field is one labelled value of a cycle summary.
type Field struct {
	Label string
	Value interface{}
}

// FormatSummary renders the outcome of a single engine cycle.
func (f *Formatter) FormatSummary(title string, elapsed time.Duration, fields ...Field) string {
	var sb strings.Builder
	f.writeSection(&sb, title)

	width := 0
	for _, field := range fields {
		if len(field.Label) > width {
			width = len(field.Label)
		}
	}
	for _, field := range fields {
		sb.WriteString(fmt.Sprintf("  %-*s  %s\n", width+1, field.Label+":", Info(fmt.Sprint(field.Value))))
	}
	sb.WriteString(fmt.Sprintf("  %s\n", Success(fmt.Sprintf("✓ done in %s", elapsed.Round(time.Millisecond)))))
	return f.finish(&sb)
}

func (f *Formatter) writeTimeline(sb *strings.Builder, timeline []models.TimelineEvent) {
	f.writeSection(sb, "⏰ EVENT TIMELINE")

	for i, event := range timeline {
		timeStr := event.Timestamp.Format("15:04:05")
		sb.WriteString(fmt.Sprintf("  %s %s %s\n",
			Colorize(Magenta, timeStr),
			Colorize(Gray, "│"),
			BoldColorize(White, event.Event),
		))

		if event.Details != "" {
			sb.WriteString(fmt.Sprintf("  %s %s %s\n",
				Muted(strings.Repeat(" ", len(timeStr))),
				Colorize(Gray, "└─"),
				Muted(event.Details),
			))
		}

		if i < len(timeline)-1 {
			sb.WriteString(fmt.Sprintf("  %s %s\n",
				strings.Repeat(" ", len(timeStr)),
				Colorize(Gray, "│"),
			))
		}
	}
	sb.WriteString("\n")
}

func (f *Formatter) writeRecommendations(sb *strings.Builder, recommendations []models.Recommendation) {
	f.writeSection(sb, "💡 RECOMMENDATIONS")

	for i, rec := range recommendations {
		sb.WriteString(fmt.Sprintf("  %s. %s %s\n",
			Colorize(Yellow, fmt.Sprintf("%d", i+1)),
			PriorityBadge(rec.Priority),
			BoldColorize(White, rec.Action),
		))

		if rec.Details != "" {
			sb.WriteString(fmt.Sprintf("     %s\n", Muted(rec.Details)))
		}

		if rec.Command != "" {
			sb.WriteString(fmt.Sprintf("     %s\n", Muted("Command:")))
			sb.WriteString(fmt.Sprintf("     %s\n", Colorize(Green, rec.Command)))
		}
		sb.WriteString("\n")
	}
}

func (f *Formatter) indentText(text string, indent string) string {
	lines := strings.Split(text, "\n")
	var result strings.Builder

	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			result.WriteString(indent)
			result.WriteString(line)
		}
		if i < len(lines)-1 {
			result.WriteString("\n")
		}
	}

	return result.String()
}
