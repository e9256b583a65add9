// Package tui is the terminal client for a conversation. It drives the same
// conversation store as the web page and renders it with bubbletea.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	chatservice "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

const (
	defaultWidth  = 80
	defaultHeight = 24

	headerHeight = 2
	footerHeight = 2
	inputHeight  = 3

	placeholder = "Type a message (Enter to send, Esc to quit)"
)

// replyMsg carries the outcome of a completion request.
type replyMsg struct {
	message chat.Message
	err     error
}

// Model is the bubbletea model of one conversation.
type Model struct {
	chatSvc     *chatservice.Service
	sessionID   string
	personaName string

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	style     string
	styles    styles

	view   chat.View
	width  int
	height int
	err    error
	log    zerolog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithMarkdownStyle selects the glamour style used for replies, e.g. "dark", "light" or "notty".
func WithMarkdownStyle(name string) Option {
	return func(m *Model) {
		m.style = name
	}
}

// New builds the model for an existing session.
func New(ctx context.Context, chatSvc *chatservice.Service, sessionID string, opts ...Option) (Model, error) {
	p, err := chatSvc.Persona(ctx, sessionID)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "> "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		chatSvc:     chatSvc,
		sessionID:   sessionID,
		personaName: p.Name,
		textinput:   ti,
		spinner:     sp,
		style:       "dark",
		styles:      defaultStyles(),
		log:         logger.Component("tui").With().Str(logger.FieldSession, sessionID).Logger(),
	}
	for _, opt := range opts {
		opt(&m)
	}

	m.viewport = newViewport(defaultWidth, defaultHeight)
	m.resize(defaultWidth, defaultHeight)
	m.refresh()
	return m, nil
}

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	// typing must not scroll the transcript
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}
	return vp
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleSubmit()
		case tea.KeyPgUp, tea.KeyPgDown:
			m.viewport, vpCmd = m.viewport.Update(msg)
			return m, vpCmd
		}

		if m.view.Pending() {
			return m, nil
		}
		m.textinput, tiCmd = m.textinput.Update(msg)
		if err := m.chatSvc.SetInput(context.Background(), m.sessionID, m.textinput.Value()); err != nil {
			m.err = err
		}
		return m, tiCmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.view.Pending() {
			return m, nil
		}
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		m.refresh()
		return m, spCmd

	case replyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.log.Warn().Err(msg.err).Msg("respond failed")
		}
		m.refresh()
		return m, m.textinput.Focus()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, vpCmd
}

// handleSubmit sends the input line. Blank input and input typed while a reply is
// outstanding are ignored.
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	if m.view.Pending() {
		return m, nil
	}

	_, err := m.chatSvc.Submit(context.Background(), m.sessionID, m.textinput.Value())
	if err != nil {
		if !errors.Is(err, chatservice.ErrEmptyMessage) {
			m.err = err
		}
		return m, nil
	}

	m.err = nil
	m.textinput.Reset()
	m.textinput.Blur()
	m.refresh()

	return m, tea.Batch(
		m.spinner.Tick,
		m.respond(),
	)
}

func (m Model) respond() tea.Cmd {
	chatSvc, sessionID := m.chatSvc, m.sessionID
	return func() tea.Msg {
		reply, err := chatSvc.Respond(context.Background(), sessionID)
		return replyMsg{message: reply, err: err}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	vpHeight := height - headerHeight - footerHeight - inputHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.textinput.Width = width - 6

	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.log.Debug().Err(err).Msg("markdown renderer unavailable")
		renderer = nil
	}
	m.renderer = renderer
}

// refresh reloads the conversation and keeps the newest message in view.
func (m *Model) refresh() {
	view, err := m.chatSvc.Snapshot(context.Background(), m.sessionID)
	if err != nil {
		m.err = err
		return
	}
	m.view = view
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	for _, msg := range m.view.Messages {
		if msg.Sender == chat.SenderUser {
			b.WriteString(m.styles.user.Render("You"))
			b.WriteString("\n")
			b.WriteString(m.styles.userText.Render(msg.Text))
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(m.styles.ai.Render("AI"))
		b.WriteString("\n")
		b.WriteString(m.renderMarkdown(msg.Text))
		b.WriteString("\n")
	}
	if m.view.Pending() {
		b.WriteString(m.styles.ai.Render("AI"))
		b.WriteString("\n  ")
		b.WriteString(m.spinner.View())
		b.WriteString(" thinking...\n")
	}
	return b.String()
}

func (m Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return m.styles.userText.Render(text)
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return m.styles.userText.Render(text)
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.header.Render(m.personaName))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.styles.input.Width(m.width - 2).Render(m.textinput.View()))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(m.styles.err.Render(m.err.Error()))
	} else {
		b.WriteString(m.styles.help.Render("enter send • pgup/pgdn scroll • esc quit"))
	}
	return b.String()
}

// Run opens the conversation in the terminal and blocks until the user quits.
func Run(ctx context.Context, chatSvc *chatservice.Service, sessionID string, opts ...Option) error {
	m, err := New(ctx, chatSvc, sessionID, opts...)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
