package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"rosterchat/internal/session"
)

// pre styled colors, all lipgloss
var (
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	sidebarStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).Width(24)
	sidebarTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	avatarStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 2)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	imageStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Underline(true)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *Model) View() string {
	headerSegments := []string{
		"Chat!",
		fmt.Sprintf("User %s", model.session.Username()),
	}
	if model.serverURL != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverURL))
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	body := lipgloss.JoinHorizontal(lipgloss.Top, model.renderRoster(), " ", model.renderLog())
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("Enter to send • Esc or /quit to leave")

	return lipgloss.JoinVertical(lipgloss.Left, header, model.renderStatus(), body, inputView, footerHint)
}

func (model *Model) renderStatus() string {
	switch {
	case model.disconnected:
		return errorStyle.Render("Disconnected")
	case model.session.Dropped() > 0:
		return errorStyle.Render(fmt.Sprintf("Connected • %d malformed frame(s) dropped", model.session.Dropped()))
	case model.session.LastError() != nil:
		return errorStyle.Render("Connected • " + model.session.LastError().Error())
	default:
		return connectedStyle.Render("Connected")
	}
}

func (model *Model) renderRoster() string {
	lines := []string{sidebarTitleStyle.Render("Users")}
	roster := model.session.Roster()
	if len(roster) == 0 {
		lines = append(lines, systemMessageStyle.Render("nobody yet"))
	}
	for _, profile := range roster {
		lines = append(lines, model.nameStyle(profile.Name).Render(profile.Name))
		lines = append(lines, avatarStyle.Render("  "+profile.AvatarURL))
	}
	return sidebarStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *Model) renderLog() string {
	var messageLines []string
	for _, chat := range model.session.Log() {
		messageLines = append(messageLines, model.renderChatMessage(chat))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	return messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
}

// renderChatMessage renders one log line. GIF links are tagged as images
// since a terminal cannot show them inline.
func (model *Model) renderChatMessage(chat session.ChatMessage) string {
	name := model.nameStyle(chat.From).Render(chat.From)
	var bodyText string
	if chat.Kind() == session.ContentImage {
		bodyText = imageStyle.Render("[image] " + chat.Body)
	} else {
		bodyText = messageBodyStyle.Render(strings.ReplaceAll(chat.Body, "\n", "\n   "))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, name, ": ", bodyText)
}

func (model *Model) nameStyle(name string) lipgloss.Style {
	if name == model.session.Username() {
		return activeUserStyle
	}
	return usernameStyle.Copy().Foreground(colorForUser(name))
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
