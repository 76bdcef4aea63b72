package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"drti/internal/pipeline"
	"drti/internal/ui"
)

// runWithUI runs work while a progress view renders the events it reports.
// It returns once both the view and the work have finished.
func runWithUI(title string, files []string, work func(pipeline.Sink) error) error {
	events := make(chan pipeline.Event, 256)
	outcome := make(chan error, 1)

	go func() {
		err := work(pipeline.ChannelSink{Ch: events})
		close(events)
		outcome <- err
	}()

	model := ui.NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()

	// The view may quit early; keep the workers from blocking on a full channel.
	go func() {
		for range events {
		}
	}()
	err := <-outcome
	if uiErr != nil {
		return uiErr
	}
	return err
}
