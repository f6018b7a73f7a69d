// Package tui provides the interactive terminal UI for the rwclient daemon.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/rwclient/internal/screens"
	"github.com/fentz26/rwclient/internal/tags"
	"github.com/gorilla/websocket"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 1)

	daemonOnlineStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	daemonOfflineStyle = lipgloss.NewStyle().
				Foreground(errorColor)
)

// screenOrder is the tab order of the screens.
var screenOrder = []screens.ID{screens.Status, screens.Listen, screens.Speak, screens.Queue}

const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	title        string
	registry     *screens.Registry[Screen]
	screenID     screens.ID
	screen       Screen
	cmdbar       *CmdBarModel
	suggestions  *Suggestions
	feed         *websocket.Conn
	width        int
	height       int
	message      string
	daemonOnline bool
}

// New creates a new TUI application showing start first. title is shown in
// the header.
func New(apiAddr, title string, start screens.ID) *App {
	client := NewClient(apiAddr)

	registry := screens.NewRegistry[Screen](screens.Status)
	registry.MustRegister(screens.Status, func() Screen { return NewStatusModel(client) })
	registry.MustRegister(screens.Listen, func() Screen { return NewTagListModel(client, tags.ModeListen) })
	registry.MustRegister(screens.Speak, func() Screen { return NewTagListModel(client, tags.ModeSpeak) })
	registry.MustRegister(screens.Queue, func() Screen { return NewQueueModel(client) })

	if title == "" {
		title = "rwclient"
	}
	a := &App{
		client:      client,
		title:       title,
		registry:    registry,
		cmdbar:      NewCmdBarModel(),
		suggestions: NewSuggestions(),
	}

	ids := make([]string, 0, len(screenOrder))
	for _, id := range registry.IDs() {
		ids = append(ids, string(id))
	}
	a.suggestions.SetScreens(ids)

	if !registry.Has(start) {
		start = ""
	}
	a.screen, _ = registry.Resolve(start)
	a.screenID = start
	if a.screenID == "" {
		a.screenID = screens.Status
	}
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	if a.feed != nil {
		a.feed.Close()
	}
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.screen.Refresh(),
		a.checkDaemon(),
		a.connectFeed(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.cmdbar.Focused() {
			return a, a.updateCmdBar(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case ":", "/", "@":
			cmd := a.cmdbar.Focus()
			if msg.String() != ":" {
				a.cmdbar.SetValue(msg.String())
				a.suggestions.Update(a.cmdbar.Value())
			}
			return a, cmd
		case "tab":
			return a, a.switchTo(a.nextScreen(1))
		case "shift+tab":
			return a, a.switchTo(a.nextScreen(-1))
		case "1", "2", "3", "4":
			return a, a.switchTo(screenOrder[int(msg.String()[0]-'1')])
		case "r":
			return a, a.screen.Refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.cmdbar.SetWidth(msg.Width - 6)
		a.screen.SetSize(msg.Width, a.contentHeight())
		return a, nil

	case switchScreenMsg:
		return a, a.switchTo(msg.id)

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.screen.Refresh(), a.checkDaemon(), a.tickCmd())

	case feedMsg:
		a.message = describeEvent(msg)
		return a, tea.Batch(a.screen.Refresh(), a.waitForEvent())

	case feedClosedMsg:
		a.feed = nil
		return a, nil

	case cmdResultMsg:
		a.message = msg.message
		return a, a.screen.Refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}

	var cmd tea.Cmd
	a.screen, cmd = a.screen.Update(msg)
	return a, cmd
}

func (a *App) updateCmdBar(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc":
		a.cmdbar.Blur()
		a.suggestions.Update("")
		return nil
	case "up":
		a.suggestions.Prev()
		return nil
	case "down":
		a.suggestions.Next()
		return nil
	case "tab", "enter":
		// Accept the highlighted suggestion first
		if a.suggestions.IsVisible() {
			if selected := a.suggestions.Selected(); selected != nil {
				a.cmdbar.SetValue(selected.Text + " ")
				a.suggestions.Update("")
			}
			return nil
		}
		if msg.String() == "tab" {
			return nil
		}
		input := a.cmdbar.Submit()
		return a.cmdbar.Execute(a.client, input)
	}

	cmd := a.cmdbar.Update(msg)
	a.suggestions.Update(a.cmdbar.Value())
	return cmd
}

func (a *App) nextScreen(step int) screens.ID {
	for i, id := range screenOrder {
		if id == a.screenID {
			n := (i + step + len(screenOrder)) % len(screenOrder)
			return screenOrder[n]
		}
	}
	return screens.Status
}

func (a *App) switchTo(id screens.ID) tea.Cmd {
	screen, err := a.registry.Resolve(id)
	if err != nil {
		a.message = "Error: " + err.Error()
		return nil
	}
	a.screenID = id
	a.screen = screen
	a.screen.SetSize(a.width, a.contentHeight())
	return a.screen.Refresh()
}

func (a *App) contentHeight() int {
	h := a.height - 7
	if h < 5 {
		h = 5
	}
	return h
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	// Header with daemon status
	daemonStatus := daemonOnlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = daemonOfflineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render(a.title) + "  " + daemonStatus
	if a.feed == nil {
		header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render("[no event feed]")
	}
	b.WriteString(header + "\n")

	var tabs []string
	for i, id := range screenOrder {
		label := fmt.Sprintf("%d %s", i+1, id)
		if id == a.screenID {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	b.WriteString(a.screen.View())

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	b.WriteString(a.cmdbar.View(a.width))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.screenID {
	case screens.Listen, screens.Speak:
		status = " ↑↓:nav | Space:toggle | Tab:next | r:refresh | ::command | q:quit"
	default:
		status = " Tab:next | 1-4:screen | r:refresh | ::command | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) connectFeed() tea.Cmd {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultClientTimeout)
	conn, err := a.client.DialEvents(ctx, "")
	cancel()
	if err != nil {
		return nil
	}
	a.feed = conn
	return a.waitForEvent()
}

func (a *App) waitForEvent() tea.Cmd {
	conn := a.feed
	if conn == nil {
		return nil
	}
	return func() tea.Msg {
		var msg feedMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return feedClosedMsg{err}
		}
		return msg
	}
}

// describeEvent renders an event for the message bar.
func describeEvent(msg feedMsg) string {
	var payload struct {
		Message   string `json:"message"`
		Reason    string `json:"reason"`
		Operation string `json:"operation"`
		To        string `json:"to"`
	}
	json.Unmarshal(msg.Payload, &payload)

	text := msg.Kind
	switch {
	case payload.Message != "":
		text += ": " + payload.Message
	case payload.Reason != "":
		text += ": " + payload.Reason
	case payload.Operation != "":
		text += ": " + payload.Operation
	case payload.To != "":
		text += ": " + payload.To
	}
	if !msg.Time.IsZero() {
		text += " (" + ago(msg.Time) + ")"
	}
	if strings.HasSuffix(msg.Kind, "failure") || strings.HasPrefix(msg.Kind, "message.error") || strings.HasSuffix(msg.Kind, "unable_to_play") {
		return "Error: " + text
	}
	return text
}
