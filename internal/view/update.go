package view

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (model *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		switch typedMessage.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return model, tea.Quit
		case tea.KeyEnter:
			value := model.textInput.Value()
			if lower := strings.ToLower(strings.TrimSpace(value)); lower == "/quit" || lower == "/exit" {
				return model, tea.Quit
			}
			model.session.SetInput(value)
			model.session.Submit()
			model.textInput.SetValue("")
			return model, nil
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typedMessage)
		return model, cmd

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		return model, nil

	case stateChangedMsg:
		// Nothing to copy: View reads straight from the session.
		return model, model.waitForChange()

	case connClosedMsg:
		model.disconnected = true
		return model, nil
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(message)
	return model, cmd
}
