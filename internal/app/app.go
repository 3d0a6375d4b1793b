package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brensch/docingest/internal/upload"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxRecent = 8

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	doneStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	recentStyle      = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("248"))
	countStyle       = map[string]lipgloss.Style{
		"Uploaded":  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Duplicate": lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"Failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Task is the work shown by the view. It must send snapshots on ch and
// return when done; ch is closed by Run afterwards.
type Task func(ctx context.Context, ch chan<- upload.Progress) (string, error)

type AppModel struct {
	Title string
	State AppState

	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	last     upload.Progress
	recent   []string
	start    time.Time
	stopping bool

	Err     error
	Message string

	termWidth  int
	termHeight int

	cancel    context.CancelFunc
	uiMsgChan <-chan tea.Msg
}

func NewAppModel(title string, msgs <-chan tea.Msg, cancel context.CancelFunc) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &AppModel{
		Title:           title,
		State:           Running,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		start:           time.Now(),
		cancel:          cancel,
		uiMsgChan:       msgs,
		termWidth:       80,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForActivityCmd())
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.State != Running || m.stopping {
				m.State = Exiting
				return m, tea.Quit
			}
			// First press asks the task to stop; it still drains in-flight work.
			m.stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-4)
		m.overallProgress.Width = m.progressBarWidth
	case ProgressMsg:
		m.last = msg.Progress
		if msg.Current != "" {
			m.recent = append(m.recent, msg.Current)
			if len(m.recent) > maxRecent {
				m.recent = m.recent[len(m.recent)-maxRecent:]
			}
		}
		var percent float64
		if msg.Total > 0 {
			percent = float64(msg.Processed) / float64(msg.Total)
		}
		cmds = append(cmds, m.overallProgress.SetPercent(percent), m.waitForActivityCmd())
	case TaskFinishedMsg:
		m.Err = msg.Err
		m.Message = msg.Message
		m.State = Finished
		if msg.Err != nil {
			m.State = ShowError
		}
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *AppModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- " + m.Title + " ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		if m.stopping {
			b.WriteString(infoStyle.Render("Stopping after in-flight uploads... press q again to leave now."))
		} else {
			b.WriteString(infoStyle.Render("'q' or Ctrl+C to stop."))
		}
	case Finished:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(doneStyle.Render(fmt.Sprintf("Done in %s. %s", time.Since(m.start).Round(time.Millisecond), m.Message)))
	case ShowError:
		b.WriteString(errorStyle.Render("Failed:"))
		b.WriteString("\n")
		b.WriteString(wrapText(m.Err.Error(), m.termWidth-4))
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *AppModel) viewProgress() string {
	var b strings.Builder
	p := m.last
	fmt.Fprintf(&b, "%s Uploading %d/%d", m.spinner.View(), p.Processed, p.Total)
	if p.Rate > 0 {
		fmt.Fprintf(&b, "  %.1f/s", p.Rate)
	}
	if p.ETA > 0 {
		fmt.Fprintf(&b, "  eta %s", p.ETA)
	}
	b.WriteString("\n")
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	b.WriteString("\n\n")

	for _, c := range []struct {
		label string
		value int64
	}{
		{"Uploaded", p.Stats.Uploaded},
		{"Duplicate", p.Stats.SkippedDuplicate},
		{"Failed", p.Stats.Failed},
	} {
		b.WriteString(countStyle[c.label].Render(fmt.Sprintf("%-10s %d", c.label+":", c.value)))
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\nRecent:\n")
		for _, name := range m.recent {
			if w := m.termWidth - 4; w > 3 && len(name) > w {
				name = name[:w-3] + "..."
			}
			b.WriteString(recentStyle.Render(name))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *AppModel) waitForActivityCmd() tea.Cmd {
	if m.uiMsgChan == nil {
		return nil
	}
	ch := m.uiMsgChan
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// Run shows a live progress view while task executes and returns the
// task's message and error. Quitting the view cancels the task's context
// and waits for it to return.
func Run(ctx context.Context, title string, task Task, opts ...tea.ProgramOption) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progressCh := make(chan upload.Progress, 64)
	msgs := make(chan tea.Msg, 64)
	type result struct {
		msg string
		err error
	}
	taskDone := make(chan result, 1)
	finished := make(chan result, 1)
	start := time.Now()

	go func() {
		msg, err := task(ctx, progressCh)
		close(progressCh)
		taskDone <- result{msg, err}
	}()
	go func() {
		for p := range progressCh {
			msgs <- NewProgress(p)
		}
		r := <-taskDone
		msgs <- NewTaskFinished(title, start, r.err, r.msg)
		close(msgs)
		finished <- r
	}()

	m := NewAppModel(title, msgs, cancel)
	_, uiErr := tea.NewProgram(m, opts...).Run()
	cancel()

	// Drain so the forwarder can finish if the view left early.
	go func() {
		for range msgs {
		}
	}()
	r := <-finished
	if uiErr != nil {
		return r.msg, fmt.Errorf("progress view: %w", uiErr)
	}
	return r.msg, r.err
}

func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var b strings.Builder
	line := 0
	for _, word := range strings.Fields(text) {
		if line > 0 && line+1+len(word) > width {
			b.WriteString("\n")
			line = 0
		} else if line > 0 {
			b.WriteString(" ")
			line++
		}
		b.WriteString(word)
		line += len(word)
	}
	return b.String()
}
