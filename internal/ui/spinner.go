package ui

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// ProgressReporter reports progress of a long running cycle or analysis
type ProgressReporter interface {
	Update(message string)
	Stop()
}

// SpinnerProgress implements ProgressReporter using briandowns/spinner.
// It draws on stderr so piped output is not polluted.
type SpinnerProgress struct {
	spinner *spinner.Spinner
}

func NewSpinnerProgress() *SpinnerProgress {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Prefix = "  "
	s.Color("cyan", "bold")

	return &SpinnerProgress{
		spinner: s,
	}
}

func (sp *SpinnerProgress) Start(message string) {
	sp.spinner.Suffix = "  " + message
	sp.spinner.Start()
}

func (sp *SpinnerProgress) Update(message string) {
	sp.spinner.Lock()
	sp.spinner.Suffix = "  " + message
	sp.spinner.Unlock()
}

// Stop is safe to call more than once.
func (sp *SpinnerProgress) Stop() {
	if sp.spinner.Active() {
		sp.spinner.Stop()
	}
}
