// Package tui implements the interactive terminal chat.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hasanmiraz/shakespeareChatBot/internal/history"
	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
)

// Answerer is the chat-facing subset of orchestrator.Pipeline.
type Answerer interface {
	AnswerWithOptions(ctx context.Context, question string, opts orchestrator.AnswerOptions) (*orchestrator.Response, error)
}

// Recorder persists answered questions. Optional.
type Recorder interface {
	Record(ctx context.Context, e *history.Exchange) error
}

// Options configure a chat session.
type Options struct {
	Style narrative.Style
	TopK  int

	// MaxHistory caps how many earlier questions are folded into a
	// follow-up. Zero keeps all of them.
	MaxHistory int

	// Timeout bounds one answer; zero means none
	Timeout time.Duration

	Recorder Recorder

	// History holds questions from an earlier session, oldest first.
	// They count as already asked.
	History []string
}

type turn struct {
	question string
	answer   string
	err      error
}

// answerMsg carries a finished answer back into Update.
type answerMsg struct {
	question string
	resp     *orchestrator.Response
	err      error
}

// Model is the Bubble Tea model of the chat.
type Model struct {
	answerer Answerer
	opts     Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	turns    []turn
	history  []string
	pending  string
	thinking bool
	ready    bool
	status   string
}

// New creates a chat model.
func New(answerer Answerer, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about Shakespeare and press Enter"
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	return Model{
		answerer: answerer,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		history:  append([]string(nil), opts.History...),
		status:   "Ask a question. Ctrl+C to quit.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, qh := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.thinking {
				return m, nil
			}
			m.input.Reset()
			m.pending = q
			m.thinking = true
			m.status = "Consulting the folio..."
			m.refresh()
			return m, tea.Batch(m.ask(q, m.recentHistory()), m.spinner.Tick)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.thinking = false
		m.pending = ""
		t := turn{question: msg.question, err: msg.err}
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			t.answer = msg.resp.Answer.Text
			m.status = fmt.Sprintf("Answered from %d passages (%s) in %s",
				len(msg.resp.Retrieval.Results), msg.resp.Retrieval.Path, msg.resp.Elapsed.Round(time.Millisecond))
			m.history = append(m.history, msg.question)
		}
		m.turns = append(m.turns, t)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.thinking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the transcript, the input box and the status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("gonzago")
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + m.viewport.View() + "\n" + input + "\n" + status
}

// History returns the questions answered so far, oldest first.
func (m Model) History() []string { return m.history }

func (m Model) recentHistory() []string {
	h := m.history
	if m.opts.MaxHistory > 0 && len(h) > m.opts.MaxHistory {
		h = h[len(h)-m.opts.MaxHistory:]
	}
	out := make([]string, len(h))
	copy(out, h)
	return out
}

// ask answers q off the event loop.
func (m Model) ask(q string, previous []string) tea.Cmd {
	answerer, opts := m.answerer, m.opts
	return func() tea.Msg {
		ctx := context.Background()
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		resp, err := answerer.AnswerWithOptions(ctx, q, orchestrator.AnswerOptions{
			TopK:    opts.TopK,
			Style:   opts.Style,
			History: previous,
		})
		if err == nil && opts.Recorder != nil {
			ids := make([]string, len(resp.Retrieval.Results))
			for i, r := range resp.Retrieval.Results {
				ids[i] = r.ID
			}
			// transcript loss is not fatal to the chat
			_ = opts.Recorder.Record(ctx, &history.Exchange{
				Question:      q,
				Answer:        resp.Answer.Text,
				Style:         string(opts.Style),
				RetrievalPath: string(resp.Retrieval.Path),
				Passages:      ids,
			})
		}
		return answerMsg{question: q, resp: resp, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 && m.pending == "" {
		return hintStyle.Render("\"What happens in Act 1 Scene 1?\" is a fine place to begin.")
	}

	width := max(20, m.viewport.Width-2)
	var b strings.Builder
	for _, t := range m.turns {
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		if t.err != nil {
			b.WriteString(errorStyle.Width(width).Render(t.err.Error()))
		} else {
			b.WriteString(answerStyle.Width(width).Render(t.answer))
		}
		b.WriteString("\n\n")
	}
	if m.pending != "" {
		b.WriteString(questionStyle.Render("You: " + m.pending))
		b.WriteString("\n")
		b.WriteString(m.spinner.View())
		b.WriteString(thinkingStyle.Render(" thinking"))
	}
	return b.String()
}

var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F780FF")).Bold(true)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Italic(true)
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E9E9F4"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	inputBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
