// Package ui contains the terminal front-ends: a bubbletea chat screen and a
// plain line-oriented mode for non-interactive terminals.
package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/bootstrap"
	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/remote"
)

// Controller is the part of *chat.SessionManager the UI drives.
type Controller interface {
	Start(ctx context.Context, p chat.Profile) error
	Send(ctx context.Context, text string) error
	Retry(ctx context.Context) error
	Interrupt()
}

// EventMsg delivers a session event to the program.
type EventMsg struct {
	Event chat.Event
}

// ForwardFunc returns a callback that injects events into p, for use with
// events.Forwarder.
func ForwardFunc(p *tea.Program) func(chat.Event) {
	return func(e chat.Event) {
		p.Send(EventMsg{Event: e})
	}
}

type opDoneMsg struct {
	op  string
	err error
}

type mode int

const (
	modeProfile mode = iota
	modeChat
	modeAPIKey
)

type Option func(*Model)

// WithCredentials enables the API key prompt after credential failures.
func WithCredentials(c remote.CredentialSetter) Option {
	return func(m *Model) { m.credentials = c }
}

// WithProfile skips the profile form and starts the session right away.
func WithProfile(p chat.Profile) Option {
	return func(m *Model) { m.initial = &p }
}

// WithClipboard replaces the clipboard writer.
func WithClipboard(f func(string) error) Option {
	return func(m *Model) { m.copy = f }
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx         context.Context
	ctrl        Controller
	doc         *bootstrap.Document
	credentials remote.CredentialSetter
	copy        func(string) error
	initial     *chat.Profile

	mode    mode
	form    *huh.Form
	answers map[string]*string
	apiKey  *string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	history chat.History
	state   chat.State
	lastErr *chat.ErrorInfo
	lastSeq uint64
	status  string
	width   int
	height  int
}

func New(ctx context.Context, ctrl Controller, doc *bootstrap.Document, opts ...Option) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask for changes to the plan..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = modelStyle

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		doc:      doc,
		copy:     clipboard.WriteAll,
		apiKey:   new(string),
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		width:    80,
		height:   24,
	}
	for _, o := range opts {
		o(&m)
	}
	if m.initial != nil {
		m.mode = modeChat
	} else {
		m.form, m.answers = NewProfileForm(doc)
	}
	m.renderer = newRenderer(m.width)
	return m
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, textarea.Blink}
	if m.initial != nil {
		cmds = append(cmds, m.start(*m.initial))
	} else {
		cmds = append(cmds, m.form.Init())
	}
	return tea.Batch(cmds...)
}

func (m Model) start(p chat.Profile) tea.Cmd {
	return m.run("start", func(ctx context.Context) error { return m.ctrl.Start(ctx, p) })
}

func (m Model) run(op string, f func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: f(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(msg.Width - 2)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-9, 3)
		m.renderer = newRenderer(msg.Width)
		m.refresh()
		return m, nil
	case EventMsg:
		m.applyEvent(msg.Event)
		return m, nil
	case opDoneMsg:
		return m.opDone(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	switch m.mode {
	case modeProfile, modeAPIKey:
		return m.updateForm(msg)
	default:
		return m.updateChat(msg)
	}
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "ctrl+c" {
		return m, tea.Quit
	}
	fm, cmd := m.form.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateAborted:
		if m.mode == modeProfile {
			return m, tea.Quit
		}
		m.mode = modeChat
		m.form = nil
		m.status = "API key unchanged; press r to retry"
		return m, nil
	case huh.StateCompleted:
		return m.formCompleted()
	}
	return m, cmd
}

func (m Model) formCompleted() (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeProfile:
		p, err := bootstrap.ProfileFromAnswers(collectAnswers(m.answers))
		if err != nil {
			// answers are validated field by field, so this is a document problem
			m.status = err.Error()
			m.form, m.answers = NewProfileForm(m.doc)
			return m, m.form.Init()
		}
		m.mode = modeChat
		m.form = nil
		m.status = "Planning a trip to " + p.Destination
		return m, m.start(p)
	case modeAPIKey:
		m.credentials.SetAPIKey(strings.TrimSpace(*m.apiKey))
		*m.apiKey = ""
		m.mode = modeChat
		m.form = nil
		m.status = "Retrying with the new API key"
		return m, m.run("retry", m.ctrl.Retry)
	}
	return m, nil
}

func (m Model) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c":
			m.ctrl.Interrupt()
			return m, tea.Quit
		case "esc":
			if m.state.Busy() {
				m.ctrl.Interrupt()
				m.status = "Interrupted"
			}
			return m, nil
		case "ctrl+y":
			if reply, ok := m.history.LastOfRole(chat.RoleModel); ok {
				if err := m.copy(reply.Content); err != nil {
					m.status = "Copy failed: " + err.Error()
				} else {
					m.status = "Copied the last reply"
				}
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if m.state != chat.StateReady {
				m.status = "Wait for the current reply to finish"
				return m, nil
			}
			m.input.Reset()
			m.status = ""
			return m, m.run("send", func(ctx context.Context) error { return m.ctrl.Send(ctx, text) })
		}
		if m.state == chat.StateFailed && m.input.Value() == "" {
			switch k.String() {
			case "r":
				m.status = "Retrying"
				return m, m.run("retry", m.ctrl.Retry)
			case "k":
				if m.credentials != nil {
					return m.askAPIKey()
				}
			}
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) askAPIKey() (tea.Model, tea.Cmd) {
	m.mode = modeAPIKey
	m.form = NewAPIKeyForm(m.apiKey)
	return m, m.form.Init()
}

func (m Model) opDone(msg opDoneMsg) (tea.Model, tea.Cmd) {
	if msg.err == nil || errors.Is(msg.err, chat.ErrSuperseded) {
		return m, nil
	}
	log.Debug().Err(msg.err).Str("component", "ui").Str("op", msg.op).Msg("operation failed")
	if chat.IsKind(msg.err, chat.KindSessionNotReady) || chat.IsKind(msg.err, chat.KindInvalidProfileField) {
		m.status = msg.err.Error()
	}
	var ce *chat.Error
	if errors.As(msg.err, &ce) && ce.Credential && m.credentials != nil && m.mode == modeChat {
		return m.askAPIKey()
	}
	return m, nil
}

func (m *Model) applyEvent(e chat.Event) {
	if e.Seq != 0 && e.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = e.Seq
	m.state = e.State
	if e.History != nil || e.Type == chat.EventHistory {
		m.history = e.History
	}
	switch {
	case e.Type == chat.EventError:
		m.lastErr = e.Error
	case e.State != chat.StateFailed:
		m.lastErr = nil
	}
	m.refresh()
}

func (m *Model) refresh() {
	var sb strings.Builder
	for i, msg := range m.history {
		if i == 0 && msg.Role == chat.RoleUser {
			// bootstrap utterance
			sb.WriteString(userStyle.Render("Trip request"))
			sb.WriteString("\n")
			sb.WriteString(statusStyle.Render(firstLine(msg.Content)))
			sb.WriteString("\n\n")
			continue
		}
		if msg.Role == chat.RoleUser {
			sb.WriteString(userStyle.Render("You"))
		} else {
			sb.WriteString(modelStyle.Render("Planner"))
		}
		sb.WriteString("\n")
		sb.WriteString(m.render(msg.Content))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *Model) render(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (m Model) View() string {
	if m.mode != modeChat && m.form != nil {
		header := titleStyle.Render("Itinerary")
		if m.status != "" {
			header += "\n" + statusStyle.Render(m.status)
		}
		return header + "\n\n" + m.form.View()
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Itinerary"))
	sb.WriteString(statusStyle.Render(m.state.String()))
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	switch {
	case m.state.Busy():
		sb.WriteString(statusStyle.Render(m.spinner.View() + " waiting for the planner"))
	case m.lastErr != nil:
		sb.WriteString(errorStyle.Render(m.lastErr.Message))
	case m.status != "":
		sb.WriteString(statusStyle.Render(m.status))
	}
	sb.WriteString("\n")
	sb.WriteString(inputBox.Render(m.input.View()))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render(m.helpLine()))
	return sb.String()
}

func (m Model) helpLine() string {
	parts := []string{"enter send", "esc interrupt", "ctrl+y copy reply"}
	if m.state == chat.StateFailed {
		parts = append(parts, "r retry")
		if m.credentials != nil && m.lastErr != nil && m.lastErr.Credential {
			parts = append(parts, "k new API key")
		}
	}
	parts = append(parts, "ctrl+c quit")
	return strings.Join(parts, " • ")
}
