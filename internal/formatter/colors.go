package formatter

import (
	"fmt"
	"strings"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

// ANSI escapes used by the CLI reports.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BgRed    = "\033[41m"
	BgYellow = "\033[43m"
	BgBlue   = "\033[44m"
)

func Colorize(color, text string) string {
	return color + text + Reset
}

func BoldColorize(color, text string) string {
	return Bold + color + text + Reset
}

func Title(text string) string         { return BoldColorize(Cyan, text) }
func SectionHeader(text string) string { return BoldColorize(Blue, text) }
func Success(text string) string       { return Colorize(Green, text) }
func Error(text string) string         { return Colorize(Red, text) }
func Info(text string) string          { return Colorize(Cyan, text) }
func Muted(text string) string         { return Colorize(Gray, text) }

// severityColors are backgrounds so severity stands out in dense alert lists.
var severityColors = map[models.Severity]string{
	models.SeverityCritical: BgRed,
	models.SeverityWarning:  BgYellow,
	models.SeverityInfo:     BgBlue,
}

// lifecycleColors covers both alert and correlation states; both use
// "resolved" for the done state.
var lifecycleColors = map[string]string{
	string(models.AlertStatusActive):       Red,
	string(models.CorrelationStatusOpen):   Red,
	string(models.AlertStatusAcknowledged): Yellow,
	string(models.AlertStatusResolved):     Green,
	string(models.CorrelationStatusClosed): Gray,
}

// levelBadges render the LLM's free-form confidence and priority levels.
var levelBadges = map[string]struct{ color, mark string }{
	"critical": {Red, "⚠"},
	"high":     {Red, "●"},
	"medium":   {Yellow, "◉"},
	"low":      {Green, "○"},
}

func SeverityBadge(severity models.Severity) string {
	bg, ok := severityColors[severity]
	if !ok {
		return string(severity)
	}
	return fmt.Sprintf("%s%s %s %s", Bold, bg, severity, Reset)
}

func StatusBadge(status string) string {
	color, ok := lifecycleColors[status]
	if !ok {
		return status
	}
	if color == Gray {
		return Muted(status)
	}
	return BoldColorize(color, status)
}

// ConfidenceBadge is inverted relative to priority: high confidence is good.
func ConfidenceBadge(confidence string) string {
	switch confidence {
	case "high":
		return BoldColorize(Green, "● HIGH")
	case "medium":
		return BoldColorize(Yellow, "● MEDIUM")
	case "low":
		return BoldColorize(Red, "● LOW")
	default:
		return BoldColorize(Gray, "● UNKNOWN")
	}
}

func PriorityBadge(priority string) string {
	level := strings.ToLower(priority)
	b, ok := levelBadges[level]
	if !ok {
		return BoldColorize(Gray, "• NORMAL")
	}
	return BoldColorize(b.color, b.mark+" "+strings.ToUpper(level))
}

// ScoreBadge colors a 0..100 correlation confidence. 75 and 50 are three and
// two matching dimensions.
func ScoreBadge(score int) string {
	text := fmt.Sprintf("%d/100", score)
	switch {
	case score >= 75:
		return BoldColorize(Green, text)
	case score >= 50:
		return BoldColorize(Yellow, text)
	default:
		return BoldColorize(Red, text)
	}
}
