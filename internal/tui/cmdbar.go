package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/rwclient/internal/screens"
)

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input   textinput.Model
	focused bool
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "heartbeat | play | stop | skip | event <type> | screen <id>"
	ti.CharLimit = 256
	return &CmdBarModel{
		input: ti,
	}
}

// Focused reports whether the bar takes key input
func (m *CmdBarModel) Focused() bool { return m.focused }

// Value returns the current input
func (m *CmdBarModel) Value() string { return m.input.Value() }

// SetValue replaces the current input
func (m *CmdBarModel) SetValue(v string) {
	m.input.SetValue(v)
	m.input.CursorEnd()
}

// SetWidth sets the input width
func (m *CmdBarModel) SetWidth(w int) { m.input.Width = w }

// Focus focuses the command bar
func (m *CmdBarModel) Focus() tea.Cmd {
	m.focused = true
	return m.input.Focus()
}

// Blur unfocuses the command bar
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Submit returns the current input and blurs
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.Blur()
	return val
}

// Update handles messages
func (m *CmdBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the command bar
func (m *CmdBarModel) View(width int) string {
	style := cmdBarStyle.Width(width)
	if m.focused {
		prompt := promptStyle.Render(": ")
		return style.Render(prompt + m.input.View())
	}
	return style.Render("Press : to enter a command, / for the command list")
}

// switchScreenMsg asks the app to show another screen.
type switchScreenMsg struct {
	id screens.ID
}

// Execute processes a command
func (m *CmdBarModel) Execute(client *Client, input string) tea.Cmd {
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	if cmd == "screen" || strings.HasPrefix(cmd, "@") {
		id := strings.TrimPrefix(cmd, "@")
		if cmd == "screen" {
			if len(args) < 1 {
				return result("Usage: screen <status|listen|speak|queue>")
			}
			id = args[0]
		}
		return func() tea.Msg { return switchScreenMsg{screens.ID(id)} }
	}

	return func() tea.Msg {
		var err error
		var done string

		switch cmd {
		case "heartbeat", "hb":
			err = client.Heartbeat()
			done = "Heartbeat sent"

		case "play":
			err = client.PlaybackStart()
			done = "Playback started"

		case "stop":
			err = client.PlaybackStop()
			done = "Playback stopped"

		case "skip":
			err = client.Skip()
			done = "Skipped"

		case "purge":
			err = client.PurgeQueue()
			done = "Queue purged"

		case "wifi":
			if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
				return cmdResultMsg{"Usage: wifi <on|off>"}
			}
			err = client.SetWifiOnly(args[0] == "on")
			done = "Wi-Fi only " + args[0]

		case "event":
			if len(args) < 1 {
				return cmdResultMsg{"Usage: event <type> [data]"}
			}
			err = client.LogEvent(args[0], strings.Join(args[1:], " "))
			done = "Event sent"

		case "vote":
			if len(args) < 2 {
				return cmdResultMsg{"Usage: vote <asset-id> <type> [value]"}
			}
			assetID, perr := strconv.Atoi(args[0])
			if perr != nil {
				return cmdResultMsg{"Invalid asset id: " + args[0]}
			}
			value := ""
			if len(args) > 2 {
				value = args[2]
			}
			err = client.Vote(assetID, args[1], value)
			done = "Vote sent"

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return cmdResultMsg{fmt.Sprintf("Unknown: %s (try: heartbeat, play, stop, skip, purge)", cmd)}
		}

		if err != nil {
			return cmdResultMsg{"Error: " + err.Error()}
		}
		return cmdResultMsg{"✓ " + done}
	}
}

func result(message string) tea.Cmd {
	return func() tea.Msg { return cmdResultMsg{message} }
}
