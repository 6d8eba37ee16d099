// Package tui shows startup progress and frame timing in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type status int

const (
	pending status = iota
	done
	failed
)

// StageMsg marks a pipeline stage finished, or failed when Err is set.
type StageMsg struct {
	Stage   string
	Message string
	Err     error
	Elapsed time.Duration
}

// FrameMsg reports one rendered frame.
type FrameMsg struct {
	Index    int
	Duration time.Duration
}

// DoneMsg ends the monitor.
type DoneMsg struct{ Err error }

type stage struct {
	name    string
	message string
	status  status
	elapsed time.Duration
	err     error
}

type model struct {
	title  string
	stages []stage
	index  map[string]int

	frames  int
	history []float64
	maxHist int

	finished bool
	err      error
	width    int
}

// NewMonitor lists stages in the order they are expected to finish.
func NewMonitor(name string, stages []string) tea.Model {
	m := model{
		title:   name,
		index:   make(map[string]int, len(stages)),
		maxHist: 60,
		width:   80,
	}
	for i, s := range stages {
		m.stages = append(m.stages, stage{name: s})
		m.index[s] = i
	}
	return m
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case StageMsg:
		i, ok := m.index[msg.Stage]
		if !ok {
			i = len(m.stages)
			m.stages = append(m.stages, stage{name: msg.Stage})
			m.index[msg.Stage] = i
		}
		s := &m.stages[i]
		s.elapsed = msg.Elapsed
		s.message = msg.Message
		if msg.Err != nil {
			s.status, s.err = failed, msg.Err
		} else {
			s.status = done
		}
	case FrameMsg:
		m.frames++
		m.history = append(m.history, float64(msg.Duration.Microseconds())/1000)
		if len(m.history) > m.maxHist {
			m.history = m.history[1:]
		}
	case DoneMsg:
		m.finished, m.err = true, msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(title.Render(m.title) + "\n\n")

	for _, s := range m.stages {
		icon, name := dimmer.Render("○"), dim.Render(fmt.Sprintf("%-10s", s.name))
		detail := ""
		switch s.status {
		case done:
			icon, name = green.Render("●"), white.Render(fmt.Sprintf("%-10s", s.name))
			detail = dim.Render(s.message)
			if s.elapsed > 0 {
				detail += "  " + dimmer.Render(s.elapsed.Round(time.Microsecond).String())
			}
		case failed:
			icon, name = red.Render("✗"), red.Render(fmt.Sprintf("%-10s", s.name))
			detail = red.Render(s.err.Error())
		}
		b.WriteString(fmt.Sprintf(" %s %s %s\n", icon, name, detail))
	}

	if m.frames > 0 {
		b.WriteString(fmt.Sprintf("\n %s %s  %s\n",
			dim.Render("frames"), white.Render(fmt.Sprint(m.frames)),
			cyan.Render(sparkline(m.history, 30))))
	}

	switch {
	case m.finished && m.err != nil:
		b.WriteString("\n " + red.Render("failed") + "\n")
	case m.finished:
		b.WriteString("\n " + green.Render("ok") + "\n")
	default:
		b.WriteString("\n " + yellow.Render("working") + dim.Render("   q quit") + "\n")
	}
	return panel.Render(b.String())
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	start := 0
	if len(data) > width {
		start = len(data) - width
	}
	var sb strings.Builder
	for _, v := range data[start:] {
		idx := int((v - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Run shows the monitor while work executes. work reports progress through
// send; its error is returned once the monitor exits.
func Run(ctx context.Context, name string, stages []string, work func(ctx context.Context, send func(tea.Msg)) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewMonitor(name, stages), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	errc := make(chan error, 1)
	go func() {
		err := work(ctx, p.Send)
		p.Send(DoneMsg{Err: err})
		errc <- err
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	cancel()
	return <-errc
}
