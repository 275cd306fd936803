package console

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-call/internal/protocol"
	"github.com/muesli/reflow/wordwrap"
)

const maxLines = 200

// metricsCommand typed on its own asks the server for session metrics.
const metricsCommand = "/metrics"

type sender interface {
	SendTranscription(text string) error
	RequestMetrics() error
}

type audioReply struct {
	fragments int
	bytes     int
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type EventMsg Event

type disconnectedMsg struct{}

type Model struct {
	client sender
	events <-chan Event

	input    textinput.Model
	viewport viewport.Model
	lines    []string
	replies  map[string]*audioReply

	sessionID string
	status    string
	width     int
	height    int
	quitting  bool
}

func NewModel(client sender, events <-chan Event) Model {
	input := textinput.New()
	input.Placeholder = "type what the caller says, " + metricsCommand + " for metrics"
	input.Focus()
	input.CharLimit = 500

	return Model{
		client:   client,
		events:   events,
		input:    input,
		viewport: viewport.New(80, 20),
		replies:  map[string]*audioReply{},
		status:   "connecting",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m Model) listen() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return disconnectedMsg{}
		}
		return EventMsg(event)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit(strings.TrimSpace(m.input.Value()))
			m.input.Reset()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()

	case EventMsg:
		m.handleEvent(Event(msg))
		cmds = append(cmds, m.listen())

	case disconnectedMsg:
		m.status = "disconnected"
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) submit(text string) {
	if text == "" {
		return
	}

	if text == metricsCommand {
		if err := m.client.RequestMetrics(); err != nil {
			m.addLine(errorStyle.Render("error: " + err.Error()))
		}
		return
	}

	m.addLine(userStyle.Render("you: ") + text)
	if err := m.client.SendTranscription(text); err != nil {
		m.addLine(errorStyle.Render("error: " + err.Error()))
	}
}

func (m *Model) handleEvent(event Event) {
	switch {
	case event.Err != nil:
		m.addLine(errorStyle.Render("error: " + event.Err.Error()))
	case event.Audio != nil:
		m.handleAudio(*event.Audio)
	case event.Server != nil:
		m.handleServerEvent(*event.Server)
	}
}

func (m *Model) handleAudio(frame protocol.AudioFrame) {
	reply, ok := m.replies[frame.RequestID]
	if !ok {
		reply = &audioReply{}
		m.replies[frame.RequestID] = reply
	}
	if len(frame.Audio) > 0 {
		reply.fragments++
		reply.bytes += len(frame.Audio)
	}

	if frame.IsFinal {
		delete(m.replies, frame.RequestID)
		m.addLine(replyStyle.Render("ema: ") + fmt.Sprintf("[audio] %d fragments, %d bytes", reply.fragments, reply.bytes))
	}
}

func (m *Model) handleServerEvent(event protocol.ServerEvent) {
	switch event.Type {
	case protocol.TypeConnected:
		m.sessionID = event.SessionID
		m.status = "connected"
	case protocol.TypeTextResponse:
		m.addLine(replyStyle.Render("ema: ") + event.Text)
	case protocol.TypeError:
		m.addLine(errorStyle.Render("error: " + event.Message))
	case protocol.TypeMetrics:
		if event.Metrics != nil {
			m.addLine(statusStyle.Render(formatMetrics(*event.Metrics)))
		}
	}
}

func formatMetrics(metrics protocol.SessionMetrics) string {
	stages := slices.Sorted(maps.Keys(metrics.Metrics))
	parts := make([]string, 0, len(stages))
	for _, stage := range stages {
		parts = append(parts, fmt.Sprintf("%s=%.0fms", stage, metrics.Metrics[stage]))
	}
	if len(parts) == 0 {
		parts = append(parts, "no latency recorded")
	}
	return fmt.Sprintf("metrics: %d turns, %s", len(metrics.History), strings.Join(parts, " "))
}

func (m *Model) addLine(line string) {
	m.lines = append(m.lines, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), line))
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	content := strings.Join(m.lines, "\n")
	if m.viewport.Width > 0 {
		content = wordwrap.String(content, m.viewport.Width)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	status := m.status
	if m.sessionID != "" {
		status += " " + m.sessionID
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("EMA CALL")+" "+statusStyle.Render(status),
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render("enter=send  esc/ctrl+c=quit"),
	)
}
