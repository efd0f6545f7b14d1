// Package view renders a chat session in the terminal with bubbletea.
package view

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rosterchat/internal/session"
)

// Notifier turns session change callbacks into bubbletea messages. Pass
// Notify to session.WithOnChange.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks; bursts of changes collapse into one re-render.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Model is the bubbletea model for one chat session.
type Model struct {
	session      *session.Session
	changes      <-chan struct{}
	connDone     <-chan struct{}
	textInput    textinput.Model
	serverURL    string
	disconnected bool
	width        int
}

type (
	stateChangedMsg struct{}
	connClosedMsg   struct{}
)

// New builds the view. connDone is closed when the connection goes away and
// may be nil.
func New(sess *session.Session, notifier *Notifier, connDone <-chan struct{}, serverURL string) *Model {
	input := textinput.New()
	input.Placeholder = "Type your message…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &Model{
		session:   sess,
		changes:   notifier.ch,
		connDone:  connDone,
		textInput: input,
		serverURL: serverURL,
	}
}

func (model *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, model.waitForChange()}
	if model.connDone != nil {
		cmds = append(cmds, model.waitForClose())
	}
	return tea.Batch(cmds...)
}

// waitForChange is re-armed after every change so exactly one is pending.
func (model *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-model.changes
		return stateChangedMsg{}
	}
}

func (model *Model) waitForClose() tea.Cmd {
	return func() tea.Msg {
		<-model.connDone
		return connClosedMsg{}
	}
}

// Run starts a bubbletea program for the model and blocks until it exits.
func Run(model *Model) error {
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
