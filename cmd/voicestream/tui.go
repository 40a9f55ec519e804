package main

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/session"
	"github.com/muesli/reflow/wordwrap"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	stateStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	transcriptStyle = lipgloss.NewStyle().Padding(1, 2).Border(lipgloss.RoundedBorder())
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const meterWidth = 30

// controller is the part of the orchestrator the UI drives.
type controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (string, error)
	Cancel()
	Reset()
	State() session.State
	Events() <-chan events.Event
}

type (
	sessionEventMsg struct{ event events.Event }
	eventsClosedMsg struct{}
	startResultMsg  struct{ err error }
	stopResultMsg   struct {
		transcript string
		err        error
	}
)

type model struct {
	ctx        context.Context
	controller controller

	state      session.State
	transcript string
	final      bool
	err        error

	inputLevel  float64
	outputLevel float64

	spinner     spinner.Model
	inputMeter  progress.Model
	outputMeter progress.Model
	width       int
}

func newModel(ctx context.Context, c controller) model {
	return model{
		ctx:         ctx,
		controller:  c,
		state:       c.State(),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		inputMeter:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(meterWidth), progress.WithoutPercentage()),
		outputMeter: progress.New(progress.WithScaledGradient("#5A56E0", "#EE6FF8"), progress.WithWidth(meterWidth), progress.WithoutPercentage()),
		width:       80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.controller.Events()))
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return sessionEventMsg{event: event}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case sessionEventMsg:
		m.apply(msg.event)
		return m, waitForEvent(m.controller.Events())

	case eventsClosedMsg:
		return m, tea.Quit

	case startResultMsg:
		if msg.err != nil && !errors.Is(msg.err, session.ErrCancelled) {
			m.err = msg.err
		}
		return m, nil

	case stopResultMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.transcript = msg.transcript
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case " ", "r":
		switch m.state {
		case session.Idle:
			m.err = nil
			m.transcript = ""
			m.final = false
			return m, m.start()
		case session.Recording:
			return m, m.stop()
		case session.Failed:
			m.controller.Reset()
			m.err = nil
			return m, m.start()
		}

	case "c", "esc":
		m.controller.Cancel()
		m.err = nil
	}
	return m, nil
}

func (m model) start() tea.Cmd {
	return func() tea.Msg {
		return startResultMsg{err: m.controller.Start(m.ctx)}
	}
}

func (m model) stop() tea.Cmd {
	return func() tea.Msg {
		transcript, err := m.controller.Stop(m.ctx)
		return stopResultMsg{transcript: transcript, err: err}
	}
}

func (m *model) apply(event events.Event) {
	switch event := event.(type) {
	case events.StateChanged:
		m.state = m.controller.State()
		if event.To == session.Idle.String() {
			m.inputLevel, m.outputLevel = 0, 0
		}
	case events.TranscriptDelta:
		m.transcript = event.Transcript
	case events.TranscriptFinal:
		m.transcript = event.Transcript
		m.final = true
	case events.Error:
		m.err = event.Err
	case events.InputLevel:
		m.inputLevel = event.Level
	case events.OutputLevel:
		m.outputLevel = event.Level
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voicestream"))
	b.WriteString("\n\n")

	status := m.state.String()
	if m.state == session.Connecting || m.state == session.Stopping {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(stateStyle.Render(status))
	b.WriteString("\n\n")

	b.WriteString("mic     " + m.inputMeter.ViewAs(clamp(m.inputLevel)) + "\n")
	b.WriteString("speaker " + m.outputMeter.ViewAs(clamp(m.outputLevel)) + "\n\n")

	text := m.transcript
	if text == "" {
		text = helpStyle.Render("(nothing transcribed yet)")
	} else if m.final {
		text += " ✓"
	}
	wrap := max(m.width-8, 20)
	b.WriteString(transcriptStyle.Render(wordwrap.String(text, wrap)))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("space/r start or stop • c cancel • q quit"))
	return b.String()
}

func clamp(level float64) float64 {
	return min(max(level, 0), 1)
}
