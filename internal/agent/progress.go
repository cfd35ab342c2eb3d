package agent

import "github.com/emirozbir/erp-sentinel/internal/ui"

// NoOpProgressReporter is used by the API and JSON output
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) Update(message string) {}
func (n *NoOpProgressReporter) Stop()                 {}

var _ ui.ProgressReporter = (*NoOpProgressReporter)(nil)
