package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/rwclient/internal/tags"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tagOn  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	tagOff = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Grey
)

func (i TagItem) FilterValue() string { return i.Text }
func (i TagItem) Title() string {
	if i.Selected {
		return tagOn.Render("●") + " " + i.Text
	}
	return tagOff.Render("○") + " " + i.Text
}
func (i TagItem) Description() string { return fmt.Sprintf("%s #%d", i.Code, i.TagID) }

// TagListModel manages the selection screen of one tag mode
type TagListModel struct {
	client  *Client
	mode    tags.Mode
	list    list.Model
	items   []TagItem
	width   int
	height  int
	loading bool
}

// NewTagListModel creates a new tag list model
func NewTagListModel(client *Client, mode tags.Mode) *TagListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = titleFor(mode)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(false)
	l.Styles.Title = listTitleStyle

	return &TagListModel{
		client:  client,
		mode:    mode,
		list:    l,
		loading: true,
	}
}

func titleFor(mode tags.Mode) string {
	switch mode {
	case tags.ModeListen:
		return "Listen"
	case tags.ModeSpeak:
		return "Speak"
	}
	return string(mode)
}

func (m *TagListModel) Title() string { return titleFor(m.mode) }

// SetSize sets the list dimensions
func (m *TagListModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.list.SetSize(w, h)
}

// SelectedTag returns the highlighted option
func (m *TagListModel) SelectedTag() *TagItem {
	if item := m.list.SelectedItem(); item != nil {
		tag := item.(TagItem)
		return &tag
	}
	return nil
}

// Refresh fetches the options from the API
func (m *TagListModel) Refresh() tea.Cmd {
	mode := m.mode
	return func() tea.Msg {
		items, err := m.client.Tags(mode)
		if err != nil {
			return errMsg{err}
		}
		return tagsLoadedMsg{mode, items}
	}
}

func (m *TagListModel) toggle(item TagItem) tea.Cmd {
	mode := m.mode
	return func() tea.Msg {
		changed, err := m.client.ChangeTag(mode, item.TagID, "toggle")
		if err != nil {
			return errMsg{err}
		}
		if !changed {
			return cmdResultMsg{fmt.Sprintf("%s: selection limits reached", item.Code)}
		}
		return cmdResultMsg{fmt.Sprintf("✓ %s toggled", item.Text)}
	}
}

// Update handles messages
func (m *TagListModel) Update(msg tea.Msg) (Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case tagsLoadedMsg:
		if msg.mode != m.mode {
			return m, nil
		}
		m.loading = false
		m.items = msg.items
		items := make([]list.Item, len(m.items))
		for i, t := range m.items {
			items[i] = t
		}
		return m, m.list.SetItems(items)

	case tea.KeyMsg:
		switch msg.String() {
		case " ", "enter":
			if tag := m.SelectedTag(); tag != nil {
				return m, m.toggle(*tag)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the tag list
func (m *TagListModel) View() string {
	if m.loading {
		return "Loading tags..."
	}
	if len(m.items) == 0 {
		return fmt.Sprintf("No %s tags in this project.", m.mode)
	}
	return m.list.View()
}
