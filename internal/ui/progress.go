package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"mcemit/internal/codegen"
)

type progressModel struct {
	title   string
	events  <-chan codegen.Event
	spinner spinner.Model
	prog    progress.Model
	items   []unitItem
	index   map[string]int
	width   int
	done    bool
}

type unitItem struct {
	name   string
	status string
	stage  codegen.StageName
	detail string
}

type eventMsg codegen.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders emission progress
// for units until events is closed. A unit is finished by a done event with
// no stage, or by any error event.
func NewProgressModel(title string, units []string, events <-chan codegen.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]unitItem, 0, len(units))
	index := make(map[string]int, len(units))
	for i, name := range units {
		items = append(items, unitItem{name: name, status: "queued"})
		index[name] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(codegen.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	detailStyle := lipgloss.NewStyle().Faint(true)
	header := m.title
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-16, 20)
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		line := "  " + status + " " + truncate(item.name, nameWidth)
		if item.detail != "" {
			line += " " + detailStyle.Render("("+item.detail+")")
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev codegen.Event) tea.Cmd {
	idx, ok := m.index[ev.Unit]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	if item.status == "done" || item.status == "error" {
		return nil
	}
	switch {
	case ev.Status == codegen.StatusError:
		item.status = "error"
		if ev.Stage != "" {
			item.detail = "in " + string(ev.Stage)
		}
	case ev.Status == codegen.StatusDone && ev.Stage == "":
		item.status = "done"
		if ev.Elapsed > 0 {
			item.detail = ev.Elapsed.Round(time.Microsecond).String()
		}
	case ev.Status == codegen.StatusWorking:
		item.status = stageLabel(ev.Stage)
		item.stage = ev.Stage
	}
	return m.prog.SetPercent(m.fraction())
}

func (m *progressModel) fraction() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		if item.status == "done" || item.status == "error" {
			total++
			continue
		}
		total += progressFromStage(item.stage)
	}
	return total / float64(len(m.items))
}

// stageSteps lists the default stages in run order with their labels.
var stageSteps = []struct {
	name  codegen.StageName
	label string
}{
	{codegen.StageLegalize, "legalizing"},
	{codegen.StageMangle, "mangling"},
	{codegen.StageLayout, "laying out"},
	{codegen.StageUnwind, "unwinding"},
}

// progressFromStage places a running stage in (0, 1). The remaining share
// is the write.
func progressFromStage(stage codegen.StageName) float64 {
	for i, step := range stageSteps {
		if step.name == stage {
			return float64(i+1) / float64(len(stageSteps)+1)
		}
	}
	return 0
}

func stageLabel(stage codegen.StageName) string {
	for _, step := range stageSteps {
		if step.name == stage {
			return step.label
		}
	}
	return "working"
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "queued":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
