package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"nucleus/internal/sim"
	"nucleus/internal/ui"
)

type runOutcome struct {
	report *sim.Report
	err    error
}

// runWithUI executes the runner under the live monitor. The runner owns
// the run; the monitor only watches the event channel, which is closed
// after the outcome is captured so the model sees every event first.
func runWithUI(ctx context.Context, title string, runner *sim.Runner) (*sim.Report, error) {
	if runner == nil {
		return nil, fmt.Errorf("missing runner")
	}
	events := make(chan sim.Event, 256)
	outcomeCh := make(chan runOutcome, 1)

	runner.Events = events
	go func() {
		report, err := runner.Run(ctx)
		outcomeCh <- runOutcome{report: report, err: err}
		close(events)
	}()

	cfg := runner.Config()
	model := ui.NewMonitorModel(title, cfg.Tasks, cfg.Steps, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}
