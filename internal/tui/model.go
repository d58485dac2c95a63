// Package tui is a terminal front-end for the data assistant built on bubbletea.
package tui

import (
	"context"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/render"
)

const (
	// Title is shown in the header bar.
	Title = "Enterprise Data Assistant"
	// Placeholder is shown in the empty input.
	Placeholder = "Type your query here..."

	headerHeight = 2
	footerHeight = 4
	defaultWidth = 80
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("39")).
			Padding(0, 1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// replyMsg carries a successful, validated reply.
type replyMsg struct {
	reply *chat.Reply
}

// failedMsg carries the reason a query produced the fallback message.
type failedMsg struct {
	err error
}

// Options configures the model.
type Options struct {
	Mode chat.Mode
	// GlamourStyle is a glamour standard style name.
	GlamourStyle string
	Logger       *slog.Logger
}

// Model is the bubbletea model for one conversation.
type Model struct {
	ctx     context.Context
	querier chat.Querier
	mode    chat.Mode
	style   string
	logger  *slog.Logger

	state    chat.State
	expanded bool

	sanitizer *render.Sanitizer
	renderer  *render.TerminalRenderer
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model

	width  int
	height int
	ready  bool
}

// New creates a model with an empty transcript. Queries are cancelled when
// ctx is done.
func New(ctx context.Context, querier chat.Querier, opts Options) (Model, error) {
	if opts.Mode == "" {
		opts.Mode = chat.ModeSteps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sanitizer := render.NewSanitizer()
	renderer, err := render.NewTerminalRenderer(defaultWidth, opts.GlamourStyle, sanitizer)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.Placeholder = Placeholder
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = defaultWidth - 4
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		ctx:       ctx,
		querier:   querier,
		mode:      opts.Mode,
		style:     opts.GlamourStyle,
		logger:    opts.Logger,
		sanitizer: sanitizer,
		renderer:  renderer,
		input:     ti,
		viewport:  viewport.New(defaultWidth, 20),
		spinner:   sp,
		width:     defaultWidth,
	}, nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.expanded = !m.expanded
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if !m.state.InFlight {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case replyMsg:
		m.state = m.state.Arrived(m.mode, *msg.reply)
		m.refresh()
		return m, nil

	case failedMsg:
		m.logger.Error("Query request failed", "error", msg.err)
		m.state = m.state.Failed()
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// submit moves the input into the transcript and starts the query. Blank
// input and a submit while a query is outstanding do nothing.
func (m Model) submit() (tea.Model, tea.Cmd) {
	next, query, ok := m.state.WithDraft(m.input.Value()).Submit()
	if !ok {
		return m, nil
	}
	m.state = next
	m.input.Reset()
	m.refresh()
	return m, tea.Batch(m.query(query), m.spinner.Tick)
}

func (m Model) query(text string) tea.Cmd {
	ctx, querier, mode := m.ctx, m.querier, m.mode
	return func() tea.Msg {
		reply, err := querier.Query(ctx, text)
		if err == nil {
			err = reply.Validate(mode)
		}
		if err != nil {
			return failedMsg{err: err}
		}
		return replyMsg{reply: reply}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 4

	if r, err := render.NewTerminalRenderer(width, m.style, m.sanitizer); err == nil {
		m.renderer = r
	} else {
		m.logger.Warn("Failed to resize renderer", "width", width, "error", err)
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderer.Render(chat.Snapshot{State: m.state}, m.expanded))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Width(m.width).Render(Title))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.state.InFlight {
		b.WriteString(m.spinner.View() + " waiting for the query service")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	help := "enter send • tab show steps • esc quit"
	if m.expanded {
		help = "enter send • tab hide steps • esc quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

// State returns the current conversation state.
func (m Model) State() chat.State {
	return m.state.Clone()
}
