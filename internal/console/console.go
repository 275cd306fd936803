package console

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run connects to the websocket at url and blocks until the user quits.
func Run(ctx context.Context, url string) error {
	client, err := Dial(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	program := tea.NewProgram(NewModel(client, client.Events()), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	return err
}
