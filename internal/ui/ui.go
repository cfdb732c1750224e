package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/ncx/internal/tasks"
)

// logLines is how many recent log events the run view keeps.
const logLines = 8

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ConfirmView ViewState = iota
	RunView
	ResultView
)

// Plan describes the migration the TUI will start.
type Plan struct {
	Options   tasks.MigrationOptions
	SourceURL string
	DestURL   string
	SourceSO  int64
	DestSO    int64
}

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	engine *tasks.MigrationEngine
	plan   Plan
	view   ViewState
	width  int
	height int

	events     <-chan tasks.Event
	stopEvents context.CancelFunc
	done       chan Msg

	update     tasks.ProgressUpdate
	logs       []string
	cancelling bool
	bar        progress.Model
	issues     list.Model

	result *tasks.MigrationResult
	err    error
	help   help.Model
	keys   keyMap
}

// NewModel creates a model for plan. With confirm set the user must press y before the run starts.
func NewModel(ctx context.Context, engine *tasks.MigrationEngine, plan Plan, confirm bool) *Model {
	m := &Model{
		ctx:    ctx,
		engine: engine,
		plan:   plan,
		view:   RunView,
		bar:    progress.New(progress.WithDefaultGradient()),
		help:   help.New(),
		keys:   newKeyMap(),
		width:  80,
		height: 24,
	}
	if confirm {
		m.view = ConfirmView
	}
	return m
}

// Result returns the finished run, or nil if the TUI quit before a run completed.
func (m *Model) Result() (*tasks.MigrationResult, error) { return m.result, m.err }

// Init starts the run unless confirmation is required.
func (m *Model) Init() tea.Cmd {
	if m.view == RunView {
		return m.start()
	}
	return nil
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(msg.Width-4, 80)
		if m.view == ResultView {
			m.issues.SetSize(msg.Width-4, max(msg.Height-16, 4))
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			return m.handleRunKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		switch msg.kind {
		case MsgEngineEvent:
			m.apply(msg.data.(tasks.Event))
			return m, m.waitForEvent()
		case MsgRunComplete:
			out := msg.data.(runOutcome)
			m.finish(out.result, out.err)
			return m, nil
		}
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.start):
		m.view = RunView
		return m, m.start()
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleRunKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.cancel) && !m.cancelling {
		m.cancelling = true
		m.engine.Cancel()
		m.logs = appendLog(m.logs, "Cancelling... waiting for in-flight requests")
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) {
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.issues, cmd = m.issues.Update(msg)
	return m, cmd
}

// start subscribes to the engine and runs the migration in the background.
func (m *Model) start() tea.Cmd {
	subCtx, cancel := context.WithCancel(m.ctx)
	m.stopEvents = cancel
	m.events = m.engine.Events().Subscribe(subCtx)
	m.done = make(chan Msg, 1)

	go func() {
		result, err := m.engine.Run(m.ctx, m.plan.Options, m.plan.SourceSO, m.plan.DestSO)
		m.done <- runCompleteMsg(result, err)
	}()

	return tea.Batch(m.waitForEvent(), m.waitForDone())
}

func (m *Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		evt, ok := <-events
		if !ok {
			return nil
		}
		return engineEventMsg(evt)
	}
}

func (m *Model) waitForDone() tea.Cmd {
	done := m.done
	return func() tea.Msg { return <-done }
}

func (m *Model) apply(evt tasks.Event) {
	switch {
	case evt.Progress != nil:
		m.update = *evt.Progress
	case evt.Log != nil:
		line := evt.Log.Message
		if evt.Log.Level >= log.WarnLevel {
			line = strings.ToUpper(evt.Log.Level.String()) + " " + line
		}
		m.logs = appendLog(m.logs, line)
	}
}

func (m *Model) finish(result *tasks.MigrationResult, err error) {
	if m.stopEvents != nil {
		m.stopEvents()
		m.stopEvents = nil
	}
	m.result = result
	m.err = err
	m.view = ResultView

	var items []list.Item
	if result != nil {
		items = append(issueItems(result.Errors, true), issueItems(result.Warnings, false)...)
	}
	m.issues = list.New(items, list.NewDefaultDelegate(), m.width-4, max(m.height-16, 4))
	m.issues.Title = fmt.Sprintf("%d issues", len(items))
	m.issues.SetShowHelp(false)
}

func appendLog(logs []string, line string) []string {
	logs = append(logs, line)
	if len(logs) > logLines {
		logs = logs[len(logs)-logLines:]
	}
	return logs
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render("Migrate service organization?")
	info := styles.box.Render(fmt.Sprintf(
		"Source:      %s (SO %d)\nDestination: %s (SO %d)\nPhases:      %s",
		m.plan.SourceURL, m.plan.SourceSO, m.plan.DestURL, m.plan.DestSO, phaseList(m.plan.Options),
	))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.start, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}

func (m *Model) renderRun() string {
	title := styles.title.Render("Migrating " + m.plan.SourceURL + " → " + m.plan.DestURL)

	phase := m.update.Phase.String()
	if m.update.Total > 0 {
		phase = fmt.Sprintf("%s (%d/%d)", phase, m.update.Current, m.update.Total)
	}

	status := m.help.ShortHelpView([]key.Binding{m.keys.cancel})
	if m.cancelling {
		status = styles.warn.Render("Cancelling...")
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\n\n%s\n\n%s",
		title,
		m.bar.ViewAs(m.update.Percent/100),
		styles.ok.Render(phase),
		m.update.Message,
		styles.muted.Render(strings.Join(m.logs, "\n")),
		status,
	)
}

func (m *Model) renderResult() string {
	if m.result == nil {
		return styles.err.Render(fmt.Sprintf("Migration failed: %v\n\nPress q to quit", m.err))
	}

	var title string
	switch {
	case m.err != nil:
		title = styles.err.Render("✗ Migration failed: " + m.err.Error())
	case m.result.Cancelled:
		title = styles.warn.Render("Migration cancelled")
	default:
		title = styles.ok.Render("✓ Migration complete")
	}

	rows := []string{lipgloss.JoinHorizontal(lipgloss.Top,
		styles.heading.Width(15).Align(lipgloss.Left).Render("Phase"),
		styles.heading.Render("Matched"),
		styles.heading.Render("Created"),
		styles.heading.Render("Skipped"),
		styles.heading.Render("Failed"),
	)}
	for _, phase := range resultPhases {
		t, ok := m.result.Phases[phase]
		if !ok {
			continue
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(15).Render(phase.String()),
			styles.cell.Render(fmt.Sprint(t.Matched)),
			styles.cell.Render(fmt.Sprint(t.Created)),
			styles.cell.Render(fmt.Sprint(t.Skipped)),
			styles.cell.Render(fmt.Sprint(t.Failed)),
		))
	}
	table := styles.box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	footer := styles.muted.Render(fmt.Sprintf("Run %s in %s", m.result.RunID, m.result.Duration.Round(time.Millisecond)))

	issues := ""
	if len(m.issues.Items()) > 0 {
		issues = "\n" + m.issues.View()
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.up, m.keys.down, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n%s\n%s\n\n%s", title, table, footer, issues, helpView)
}

var resultPhases = []tasks.Phase{
	tasks.PhaseCustomers, tasks.PhaseSites, tasks.PhaseRoles,
	tasks.PhaseAccessGroups, tasks.PhaseUsers, tasks.PhaseProperties,
}

func phaseList(o tasks.MigrationOptions) string {
	var names []string
	for _, p := range []struct {
		on   bool
		name string
	}{
		{o.Customers, "customers+sites"},
		{o.UserRoles, "roles"},
		{o.AccessGroups, "access groups"},
		{o.Users, "users"},
		{o.OrgProperties, "properties"},
		{o.DeviceProperties, "device properties"},
	} {
		if p.on {
			names = append(names, p.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// Run shows the TUI until the user quits and returns the migration outcome.
func Run(ctx context.Context, engine *tasks.MigrationEngine, plan Plan, confirm bool) (*tasks.MigrationResult, error) {
	model := NewModel(ctx, engine, plan, confirm)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && model.result == nil {
		engine.Cancel()
		return nil, fmt.Errorf("TUI failed: %w", err)
	}
	if model.view == ConfirmView {
		return nil, nil
	}
	return model.Result()
}
