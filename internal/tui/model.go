// Package tui is the terminal chat surface. It renders the session store and
// hands submissions to the coordinator; it never mutates the transcript itself.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/model/turn"
	"github.com/zhouzirui/agent-playground/internal/service/session"
	"github.com/zhouzirui/agent-playground/internal/service/submit"
)

const (
	toastTTL         = 4 * time.Second
	agentLoadTimeout = 10 * time.Second
	inputHeight      = 3
	// header, toast and help lines around the viewport and the input box
	chromeHeight = 3 + inputHeight
)

// AgentLister loads the agents the user can talk to.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]agent.Agent, error)
}

// Config wires the model to the submission pipeline.
type Config struct {
	Store       *session.Store
	Coordinator *submit.Coordinator
	Selection   *submit.Selection
	Agents      AgentLister
	// MarkdownStyle is a glamour standard style name; "dark" when empty.
	MarkdownStyle string
}

type (
	agentsMsg struct {
		agents []agent.Agent
		err    error
	}
	submitDoneMsg struct {
		outcome submit.Outcome
	}
	clearToastMsg struct {
		seq int
	}
)

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx       context.Context
	store     *session.Store
	coord     *submit.Coordinator
	selection *submit.Selection
	lister    AgentLister

	agents   []agent.Agent
	agentIdx int

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	style    string
	renderer *glamour.TermRenderer
	rendered map[turn.ID]string

	width, height int
	ready         bool
	submitting    bool

	toast    string
	toastSeq int
}

// New builds the chat model. ctx bounds every submission; cancel it to abort
// an in-flight stream.
func New(ctx context.Context, cfg Config) Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Prompt = "┃ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	// Plain letters belong to the input box; the transcript only pages.
	vp := viewport.New(80, 20)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	style := cfg.MarkdownStyle
	if style == "" {
		style = "dark"
	}

	m := Model{
		ctx:       ctx,
		store:     cfg.Store,
		coord:     cfg.Coordinator,
		selection: cfg.Selection,
		lister:    cfg.Agents,
		input:     ta,
		viewport:  vp,
		spinner:   sp,
		style:     style,
		rendered:  make(map[turn.ID]string),
		width:     80,
	}
	m.renderer = newRenderer(style, m.width)
	return m
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		log.Warn().Str("component", "tui").Err(err).Str("style", style).Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

// Init starts the cursor blink and the spinner and loads the agent list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.loadAgents())
}

func (m Model) loadAgents() tea.Cmd {
	if m.lister == nil {
		return nil
	}
	lister, parent := m.lister, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, agentLoadTimeout)
		defer cancel()
		agents, err := lister.ListAgents(ctx)
		return agentsMsg{agents: agents, err: err}
	}
}

func (m Model) submit(text string) tea.Cmd {
	coord, ctx := m.coord, m.ctx
	return func() tea.Msg {
		return submitDoneMsg{outcome: coord.Submit(ctx, text)}
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+n":
			m.cycleAgent()
			return m, nil
		case "enter":
			return m.handleEnter()
		}

	case agentsMsg:
		if msg.err != nil {
			return m.showToast(fmt.Sprintf("Could not load agents: %v", msg.err))
		}
		m.setAgents(msg.agents)
		return m, nil

	case submitDoneMsg:
		m.submitting = false
		m.refresh()
		return m, nil

	case changeMsg:
		if msg.Kind == session.ChangeTurnCompleted || msg.Kind == session.ChangeTurnFailed {
			delete(m.rendered, msg.Turn.ID)
		}
		m.refresh()
		return m, nil

	case notifyMsg:
		return m.showToast(string(msg))

	case clearToastMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case clearInputMsg:
		m.input.Reset()
		return m, nil

	case focusMsg:
		return m, m.input.Focus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.store.IsStreaming() {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleEnter submits the input. The submission is dropped locally while a
// previous one is still running; the coordinator applies the remaining gates.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	if m.submitting || m.store.IsStreaming() || m.coord == nil {
		return m, nil
	}
	if _, ok := m.selection.SelectedAgent(); !ok {
		return m, nil
	}
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.submitting = true
	m.input.Blur()
	return m, m.submit(text)
}

func (m *Model) setAgents(agents []agent.Agent) {
	m.agents = agents
	m.agentIdx = 0
	if id, ok := m.selection.SelectedAgent(); ok {
		for i, a := range agents {
			if a.ID == id {
				m.agentIdx = i
				return
			}
		}
		return
	}
	if len(agents) > 0 {
		m.selection.Select(agents[0].ID)
	}
}

func (m *Model) cycleAgent() {
	if len(m.agents) == 0 {
		return
	}
	m.agentIdx = (m.agentIdx + 1) % len(m.agents)
	m.selection.Select(m.agents[m.agentIdx].ID)
}

func (m Model) showToast(text string) (tea.Model, tea.Cmd) {
	m.toastSeq++
	m.toast = text
	seq := m.toastSeq
	return m, tea.Tick(toastTTL, func(time.Time) tea.Msg {
		return clearToastMsg{seq: seq}
	})
}

func (m *Model) resize(width, height int) {
	if width != m.width {
		m.renderer = newRenderer(m.style, width)
		m.rendered = make(map[turn.ID]string)
	}
	m.width, m.height = width, height
	m.input.SetWidth(width)
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 1)
	m.ready = true
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *Model) transcript() string {
	turns := m.store.Messages()
	if len(turns) == 0 {
		return helpStyle.Render("No messages yet.")
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch t.Role {
		case turn.RoleUser:
			b.WriteString(userLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(userStyle.Width(max(m.width-2, 10)).Render(t.Content))
		default:
			b.WriteString(agentLabelStyle.Render("Agent"))
			b.WriteString("\n")
			b.WriteString(m.agentBody(t))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) agentBody(t turn.Turn) string {
	switch t.Status {
	case turn.StatusComplete:
		return m.markdown(t)
	case turn.StatusFailed:
		var b strings.Builder
		if t.Content != "" {
			b.WriteString(streamingStyle.Render(t.Content))
			b.WriteString("\n")
		}
		b.WriteString(errorStyle.Render("✗ " + t.FailureReason))
		return b.String()
	default:
		return streamingStyle.Render(t.Content + " " + m.spinner.View())
	}
}

// markdown renders a finished turn once per width.
func (m *Model) markdown(t turn.Turn) string {
	if out, ok := m.rendered[t.ID]; ok {
		return out
	}
	out := streamingStyle.Render(t.Content)
	if m.renderer != nil {
		if r, err := m.renderer.Render(t.Content); err == nil {
			out = strings.TrimRight(r, "\n")
		}
	}
	m.rendered[t.ID] = out
	return out
}

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := titleStyle.Render("Agent Playground")
	if a, ok := m.currentAgent(); ok {
		header += "  " + agentStyle.Render(a)
	} else {
		header += "  " + helpStyle.Render("no agent selected")
	}
	if m.store.IsStreaming() {
		header += " " + m.spinner.View()
	}

	help := helpStyle.Render("enter send • alt+enter newline • ctrl+n next agent • ctrl+c quit")

	return strings.Join([]string{
		header,
		m.viewport.View(),
		toastStyle.Render(m.toast),
		m.input.View(),
		help,
	}, "\n")
}

func (m Model) currentAgent() (string, bool) {
	id, ok := m.selection.SelectedAgent()
	if !ok {
		return "", false
	}
	for _, a := range m.agents {
		if a.ID == id && a.Name != "" {
			return a.Name, true
		}
	}
	return id, true
}
