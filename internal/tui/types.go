package tui

import (
	"encoding/json"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
)

// Screen is one view of the app. Screens are built by the screen registry.
type Screen interface {
	Title() string
	SetSize(w, h int)
	Refresh() tea.Cmd
	Update(msg tea.Msg) (Screen, tea.Cmd)
	View() string
}

// TagItem is one option of a tag selection list
type TagItem struct {
	TagID    int
	Code     string
	Text     string
	Selected bool
}

type errMsg struct {
	err error
}

type cmdResultMsg struct {
	message string
}

type statusLoadedMsg struct {
	status *models.Status
}

type queueLoadedMsg struct {
	entries []models.QueueEntry
}

type tagsLoadedMsg struct {
	mode  tags.Mode
	items []TagItem
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time

// feedMsg is one event read from the daemon event feed.
type feedMsg struct {
	Kind    string          `json:"kind"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

type feedClosedMsg struct {
	err error
}
