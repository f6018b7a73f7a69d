package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fentz26/rwclient/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// StatusModel shows the session snapshot
type StatusModel struct {
	client  *Client
	status  *models.Status
	width   int
	height  int
	loading bool
}

// NewStatusModel creates a new status screen
func NewStatusModel(client *Client) *StatusModel {
	return &StatusModel{client: client}
}

func (m *StatusModel) Title() string { return "Session" }

// SetSize sets the dimensions
func (m *StatusModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Refresh fetches the status
func (m *StatusModel) Refresh() tea.Cmd {
	m.loading = m.status == nil
	return func() tea.Msg {
		st, err := m.client.Status()
		if err != nil {
			return errMsg{err}
		}
		return statusLoadedMsg{st}
	}
}

// Update handles messages
func (m *StatusModel) Update(msg tea.Msg) (Screen, tea.Cmd) {
	if msg, ok := msg.(statusLoadedMsg); ok {
		m.loading = false
		m.status = msg.status
	}
	return m, nil
}

// View renders the status
func (m *StatusModel) View() string {
	if m.loading || m.status == nil {
		return "Loading session..."
	}
	st := m.status

	var b strings.Builder
	title := "Session"
	if st.ProjectName != "" {
		title = st.ProjectName
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(m.renderField("State", formatState(st.State)))
	b.WriteString(m.renderField("Since", ago(st.LastStateChange)))
	b.WriteString(m.renderField("Session", st.SessionID))
	b.WriteString(m.renderField("Project", st.ProjectID))
	b.WriteString(m.renderField("Configuration", string(st.ConfigSource)))
	b.WriteString(m.renderField("Tags", string(st.TagsSource)))

	b.WriteString(sectionStyle.Render("Network"))
	b.WriteString("\n")
	b.WriteString(m.renderField("Connected", yesNo(st.Connected)))
	b.WriteString(m.renderField("Wi-Fi only", yesNo(st.OnlyConnectOverWifi)))
	b.WriteString(m.renderField("Last request", ago(st.LastRequest)))
	b.WriteString(m.renderField("Queued actions", humanize.Comma(int64(st.QueueSize))))

	b.WriteString(sectionStyle.Render("Stream"))
	b.WriteString("\n")
	playing := yesNo(st.Playing)
	if st.StaticSoundtrack {
		playing += " (static soundtrack)"
	}
	b.WriteString(m.renderField("Playing", playing))
	if st.CurrentAssetID > 0 {
		b.WriteString(m.renderField("Asset", fmt.Sprintf("%d", st.CurrentAssetID)))
	}
	if st.NotificationText != "" {
		b.WriteString(m.renderField("Notification", st.NotificationText))
	}

	return b.String()
}

func (m *StatusModel) renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func formatState(state models.SessionState) string {
	switch state {
	case models.StateOnLine:
		return lipgloss.NewStyle().Foreground(successColor).Render("● ON LINE")
	case models.StateOffLine:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ OFF LINE")
	case models.StateInitializing:
		return lipgloss.NewStyle().Foreground(cyanColor).Render("◐ INITIALIZING")
	case models.StateUninitialized:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ UNINITIALIZED")
	default:
		return string(state)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
