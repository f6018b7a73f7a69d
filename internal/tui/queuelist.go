package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fentz26/rwclient/internal/models"
)

// QueueModel lists the actions waiting for delivery
type QueueModel struct {
	client  *Client
	entries []models.QueueEntry
	width   int
	height  int
	loading bool
	scroll  int
}

// NewQueueModel creates a new queue screen
func NewQueueModel(client *Client) *QueueModel {
	return &QueueModel{client: client, loading: true}
}

func (m *QueueModel) Title() string { return "Queue" }

// SetSize sets the dimensions
func (m *QueueModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Refresh fetches the queue
func (m *QueueModel) Refresh() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.client.Queue()
		if err != nil {
			return errMsg{err}
		}
		return queueLoadedMsg{entries}
	}
}

// Update handles messages
func (m *QueueModel) Update(msg tea.Msg) (Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case queueLoadedMsg:
		m.loading = false
		m.entries = msg.entries
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if m.scroll < len(m.entries)-1 {
				m.scroll++
			}
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		}
	}
	return m, nil
}

// View renders the queue
func (m *QueueModel) View() string {
	if m.loading {
		return "Loading queue..."
	}
	if len(m.entries) == 0 {
		return lipgloss.NewStyle().Foreground(mutedColor).Render("Queue is empty.")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d pending", len(m.entries))))
	b.WriteString("\n\n")

	columnStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		columnStyle.Render(fmt.Sprintf("%-6s", "ID")),
		columnStyle.Render(fmt.Sprintf("%-16s", "OPERATION")),
		columnStyle.Render(fmt.Sprintf("%-10s", "SIZE")),
		columnStyle.Render("QUEUED"),
	))

	if m.scroll >= len(m.entries) {
		m.scroll = len(m.entries) - 1
	}
	visible := m.entries[m.scroll:]
	if m.height > 4 && len(visible) > m.height-4 {
		visible = visible[:m.height-4]
	}
	for _, e := range visible {
		size := ""
		if e.SizeBytes > 0 {
			size = humanize.Bytes(uint64(e.SizeBytes))
		}
		b.WriteString(fmt.Sprintf("  %-6d  %-16s  %-10s  %s\n",
			e.ID, truncate(e.Operation, 16), size, ago(e.CreatedAt)))
	}
	return b.String()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
