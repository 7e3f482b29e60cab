package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"mcemit/internal/codegen"
	"mcemit/internal/ui"
)

// runWithUI runs fn in the background, feeding its progress events to the
// progress view until fn returns.
func runWithUI(ctx context.Context, title string, units []string, fn func(codegen.ProgressSink) error) error {
	events := make(chan codegen.Event, 256)
	outcome := make(chan error, 1)

	go func() {
		err := fn(codegen.ChannelSink{Ch: events})
		close(events)
		outcome <- err
	}()

	model := ui.NewProgressModel(title, units, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// The view may quit early; keep the emitters from blocking on a full channel.
	go func() {
		for range events {
		}
	}()
	err := <-outcome
	if uiErr != nil && err == nil {
		return uiErr
	}
	return err
}
