package tui

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/atotto/clipboard"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// Service is the progress surface the board reads and mutates.
type Service interface {
	ProjectProgress(context.Context, string) (app.ProjectProgress, error)
	UpdateProgress(context.Context, string, float64) ([]domain.WorkItem, error)
	UpdateWeight(context.Context, string, float64) ([]domain.WorkItem, error)
	SetOverride(context.Context, string, domain.Override) (domain.WorkItem, error)
	ListProjectChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}

// inputMode represents a selectable mode.
type inputMode int

const (
	modeNone inputMode = iota
	modeEditProgress
	modeEditWeight
	modeActivity
)

const barWidth = 20

// overrideCycle is the order the override binding steps through.
var overrideCycle = []domain.Override{
	domain.OverrideNone,
	domain.OverrideOnHold,
	domain.OverrideBlocked,
	domain.OverrideCompleted,
}

// Model is the bubbletea model for one project's progress board.
type Model struct {
	svc           Service
	projectID     string
	progress      app.ProjectProgress
	loaded        bool
	selected      int
	mode          inputMode
	input         textinput.Model
	help          help.Model
	keys          keyMap
	status        string
	err           error
	width         int
	height        int
	ready         bool
	events        []domain.ChangeEvent
	activityLimit int
	markdown      *markdownRenderer
	copyText      func(string) error
}

// loadedMsg carries a fresh progress view.
type loadedMsg struct {
	progress app.ProjectProgress
	err      error
}

// actionMsg reports the outcome of one mutation.
type actionMsg struct {
	status string
	err    error
}

// activityLoadedMsg carries recent change events.
type activityLoadedMsg struct {
	events []domain.ChangeEvent
	err    error
}

// NewModel constructs a board for projectID.
func NewModel(svc Service, projectID string, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	input := textinput.New()
	input.CharLimit = 16
	m := Model{
		svc:           svc,
		projectID:     strings.TrimSpace(projectID),
		status:        "loading...",
		help:          h,
		keys:          newKeyMap(),
		input:         input,
		activityLimit: 20,
		markdown:      &markdownRenderer{style: "auto"},
		copyText:      clipboard.WriteAll,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init loads the initial view.
func (m Model) Init() tea.Cmd {
	return m.loadData
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.loaded = true
		m.progress = msg.progress
		m.selected = clamp(m.selected, 0, len(m.progress.Items)-1)
		if m.status == "" || m.status == "loading..." {
			m.status = "ready"
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = "error: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		return m, m.loadData

	case activityLoadedMsg:
		if msg.err != nil {
			m.status = "activity unavailable: " + msg.err.Error()
			m.mode = modeNone
			return m, nil
		}
		m.events = msg.events
		return m, nil

	case tea.KeyPressMsg:
		if m.mode != modeNone {
			return m.handleInputModeKey(msg)
		}
		return m.handleNormalModeKey(msg)
	}
	return m, nil
}

// handleNormalModeKey handles board navigation and actions.
func (m Model) handleNormalModeKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	case m.err != nil:
		return m, nil
	case key.Matches(msg, m.keys.moveUp):
		m.selected = clamp(m.selected-1, 0, len(m.progress.Items)-1)
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		m.selected = clamp(m.selected+1, 0, len(m.progress.Items)-1)
		return m, nil
	case key.Matches(msg, m.keys.activity):
		m.mode = modeActivity
		m.events = nil
		return m, m.loadActivity
	}

	row, ok := m.selectedRow()
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.setProgress):
		if !row.Leaf {
			m.status = "progress of a parent is derived from its children"
			return m, nil
		}
		return m, m.startEdit(modeEditProgress, "progress: ", row.Item.Progress)
	case key.Matches(msg, m.keys.setWeight):
		return m, m.startEdit(modeEditWeight, "weight: ", row.Item.Weight)
	case key.Matches(msg, m.keys.complete):
		if !row.Leaf {
			m.status = "progress of a parent is derived from its children"
			return m, nil
		}
		return m, m.updateProgressCmd(row.Item.ID, 100)
	case key.Matches(msg, m.keys.cycleOverride):
		return m, m.setOverrideCmd(row.Item.ID, nextOverride(row.Item.Override))
	case key.Matches(msg, m.keys.copyID):
		if err := m.copyText(row.Item.ID); err != nil {
			m.status = "copy failed: " + err.Error()
			return m, nil
		}
		m.status = "copied " + row.Item.ID
		return m, nil
	}
	return m, nil
}

// handleInputModeKey handles keys while editing a value or viewing activity.
func (m Model) handleInputModeKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeActivity {
		if msg.String() == "esc" || key.Matches(msg, m.keys.activity) || key.Matches(msg, m.keys.quit) {
			m.mode = modeNone
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		m.mode = modeNone
		m.input.Blur()
		m.status = "cancelled"
		return m, nil
	case "enter":
		mode := m.mode
		m.mode = modeNone
		m.input.Blur()
		row, ok := m.selectedRow()
		if !ok {
			return m, nil
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(m.input.Value()), 64)
		if err != nil {
			m.status = "enter a number"
			return m, nil
		}
		if mode == modeEditWeight {
			return m, m.updateWeightCmd(row.Item.ID, value)
		}
		return m, m.updateProgressCmd(row.Item.ID, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startEdit opens the numeric input seeded with current.
func (m *Model) startEdit(mode inputMode, prompt string, current float64) tea.Cmd {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.SetValue(formatNumber(current))
	return m.input.Focus()
}

// selectedRow returns the highlighted progress row.
func (m Model) selectedRow() (app.ItemProgress, bool) {
	if len(m.progress.Items) == 0 {
		return app.ItemProgress{}, false
	}
	return m.progress.Items[clamp(m.selected, 0, len(m.progress.Items)-1)], true
}

// loadData loads the project progress view.
func (m Model) loadData() tea.Msg {
	progress, err := m.svc.ProjectProgress(context.Background(), m.projectID)
	return loadedMsg{progress: progress, err: err}
}

// loadActivity loads recent change events for the activity view.
func (m Model) loadActivity() tea.Msg {
	events, err := m.svc.ListProjectChangeEvents(context.Background(), m.projectID, m.activityLimit)
	return activityLoadedMsg{events: events, err: err}
}

func (m Model) updateProgressCmd(id string, value float64) tea.Cmd {
	return func() tea.Msg {
		updated, err := m.svc.UpdateProgress(context.Background(), id, value)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: fmt.Sprintf("progress %s%% (%d updated)", formatNumber(value), len(updated))}
	}
}

func (m Model) updateWeightCmd(id string, value float64) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.svc.UpdateWeight(context.Background(), id, value); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: "weight " + formatNumber(value)}
	}
}

func (m Model) setOverrideCmd(id string, override domain.Override) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.svc.SetOverride(context.Background(), id, override); err != nil {
			return actionMsg{err: err}
		}
		if override == domain.OverrideNone {
			return actionMsg{status: "override cleared"}
		}
		return actionMsg{status: "override " + string(override)}
	}
}

// nextOverride steps through overrideCycle.
func nextOverride(current domain.Override) domain.Override {
	for i, o := range overrideCycle {
		if o == current {
			return overrideCycle[(i+1)%len(overrideCycle)]
		}
	}
	return domain.OverrideNone
}

// View renders the board.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render builds the board text.
func (m Model) render() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.loaded {
		return "loading..."
	}

	accent := lipgloss.Color("62")
	muted := lipgloss.Color("241")
	dim := lipgloss.Color("239")
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	statusStyle := lipgloss.NewStyle().Foreground(dim)

	sections := []string{
		titleStyle.Render(m.progress.Project.Name) + "  " + progressBar(m.progress.Overall, accent) + " " + formatNumber(m.progress.Overall) + "%",
		"",
	}
	if m.mode == modeActivity {
		sections = append(sections, m.renderActivity(muted)...)
	} else {
		sections = append(sections, m.renderRows(accent)...)
		if detail := m.renderDetail(); detail != "" {
			sections = append(sections, "", detail)
		}
	}
	if m.mode == modeEditProgress || m.mode == modeEditWeight {
		sections = append(sections, "", m.input.View())
	}
	if s := strings.TrimSpace(m.status); s != "" && s != "ready" {
		sections = append(sections, "", statusStyle.Render(s))
	}
	content := strings.Join(sections, "\n")

	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(muted).
		BorderTop(true).
		BorderForeground(dim).
		Padding(0, 1).
		Render(helpBubble.View(m.keys))
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

// renderRows draws one line per item in tree order.
func (m Model) renderRows(accent color.Color) []string {
	if len(m.progress.Items) == 0 {
		return []string{"No work items yet."}
	}
	cursor := lipgloss.NewStyle().Foreground(accent).Bold(true)
	lines := make([]string, 0, len(m.progress.Items))
	for i, row := range m.progress.Items {
		prefix := "  "
		if i == m.selected {
			prefix = cursor.Render("> ")
		}
		title := strings.Repeat("  ", row.Depth) + row.Item.Title
		line := fmt.Sprintf("%s%-32s %s %6s%%  %s",
			prefix,
			truncate(title, 32),
			progressBar(row.Item.Progress, accent),
			formatNumber(row.Item.Progress),
			statusStyle(row.Status).Render(string(row.Status)),
		)
		if len(row.Blockers) > 0 {
			line += "  waiting on " + strings.Join(row.Blockers, ", ")
		}
		lines = append(lines, line)
	}
	return lines
}

// renderDetail renders the selected item's weight and description.
func (m Model) renderDetail() string {
	row, ok := m.selectedRow()
	if !ok {
		return ""
	}
	parts := []string{fmt.Sprintf("weight %s • kind %s • id %s", formatNumber(row.Item.Weight), row.Item.Kind, row.Item.ID)}
	if row.Item.DueAt != nil {
		parts[0] += " • due " + row.Item.DueAt.Format("2006-01-02")
	}
	if desc := m.markdown.render(row.Item.Description, max(m.width-4, 0)); desc != "" {
		parts = append(parts, desc)
	}
	return strings.Join(parts, "\n")
}

// renderActivity lists recent change events newest first.
func (m Model) renderActivity(muted color.Color) []string {
	if m.events == nil {
		return []string{"loading activity..."}
	}
	if len(m.events) == 0 {
		return []string{"No activity yet."}
	}
	ts := lipgloss.NewStyle().Foreground(muted)
	lines := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		lines = append(lines, fmt.Sprintf("%s  %-10s %s", ts.Render(ev.OccurredAt.Local().Format(time.DateTime)), ev.Operation, ev.WorkItemID))
	}
	return lines
}

// statusStyle colors a status label.
func statusStyle(status domain.Status) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch status {
	case domain.StatusCompleted:
		return style.Foreground(lipgloss.Color("42"))
	case domain.StatusInProgress:
		return style.Foreground(lipgloss.Color("39"))
	case domain.StatusOverdue:
		return style.Foreground(lipgloss.Color("196"))
	case domain.StatusBlocked:
		return style.Foreground(lipgloss.Color("208"))
	case domain.StatusOnHold:
		return style.Foreground(lipgloss.Color("244"))
	}
	return style
}

// progressBar renders a fixed-width bar for a 0..100 value.
func progressBar(value float64, fill color.Color) string {
	filled := int(value / 100 * barWidth)
	filled = clamp(filled, 0, barWidth)
	return lipgloss.NewStyle().Foreground(fill).Render(strings.Repeat("█", filled)) +
		strings.Repeat("░", barWidth-filled)
}

// formatNumber prints at most two decimals without trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(float64(int64(v*100+0.5))/100, 'f', -1, 64)
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// clamp bounds v to [minV, maxV], preferring minV when the range is empty.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// fitLines pads or truncates content to maxLines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		lines = append(lines, make([]string, maxLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}
