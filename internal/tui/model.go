// Package tui is a terminal presentation of a chat.Session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"AIChatbot/internal/chat"
	"AIChatbot/internal/session"
)

var placeholders = map[session.MessageType]string{
	session.TypeText:  "Write a message...",
	session.TypeImage: "Describe the image...",
	session.TypeVideo: "Describe the video...",
}

// StateMsg carries a session snapshot into the program. Forward session
// changes with Subscribe and Program.Send.
type StateMsg session.State

// submitDoneMsg is sent when a submission cmd returns
type submitDoneMsg struct{ err error }

// modeSetMsg is sent when a mode change cmd returns
type modeSetMsg struct{ err error }

// Model is the Bubble Tea model of the terminal chat
type Model struct {
	ctx      context.Context
	sess     *chat.Session
	state    session.State
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	status   string
	width    int
	height   int
}

// NewModel creates a model bound to sess
func NewModel(ctx context.Context, sess *chat.Session) Model {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		sess:     sess,
		state:    sess.Snapshot(),
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
		height:   24,
	}
	m.input.Placeholder = placeholders[m.state.Mode]
	m.viewport.SetContent(m.renderTranscript())
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(3, msg.Height-6)
		m.input.Width = max(10, msg.Width-4)
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil

	case StateMsg:
		wasLoading := m.state.Loading
		m.state = session.State(msg)
		m.input.Placeholder = placeholders[m.state.Mode]
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		if m.state.Loading {
			m.input.Blur()
			if !wasLoading {
				return m, m.spinner.Tick
			}
			return m, nil
		}
		return m, m.input.Focus()

	case submitDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil

	case modeSetMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.updateKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "tab":
		return m, m.setMode(m.state.Mode.Next())

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		if m.state.Loading {
			return m, nil
		}
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		m.status = ""
		return m, m.submit(text, m.state.Mode)
	}

	if m.state.Loading {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Session calls run as cmds: they notify subscribers, which feed
// StateMsg back through Program.Send, and Send blocks inside Update.
func (m Model) submit(text string, mode session.MessageType) tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		err := sess.Submit(ctx, text, mode)
		if errors.Is(err, chat.ErrBusy) {
			err = errors.New("wait for the current reply")
		}
		return submitDoneMsg{err: err}
	}
}

func (m Model) setMode(mode session.MessageType) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return modeSetMsg{err: sess.SetMode(mode)}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("AI Chatbot"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	modes := make([]string, 0, len(session.Modes))
	for _, mode := range session.Modes {
		if mode == m.state.Mode {
			modes = append(modes, activeModeStyle.Render(string(mode)))
		} else {
			modes = append(modes, modeStyle.Render(string(mode)))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, modes...))
	if m.state.Loading {
		b.WriteString("  " + m.spinner.View() + dimStyle.Render(" generating..."))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
	} else {
		b.WriteString(helpStyle.Render("enter send • tab mode • pgup/pgdown scroll • esc quit"))
	}
	return b.String()
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.state.Messages {
		label := aiStyle.Render(" AI ")
		if msg.Sender == session.SenderUser {
			label = userStyle.Render(" You ")
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, dimStyle.Render(msg.Timestamp.Format("15:04"))))

		switch {
		case msg.Sender == session.SenderUser || msg.Type == session.TypeText:
			b.WriteString(msg.Content)
		case msg.Type == session.TypeImage:
			b.WriteString("Here is your image: " + mediaStyle.Render(msg.Content))
		case msg.Type == session.TypeVideo:
			b.WriteString("Here is your video: " + mediaStyle.Render(msg.Content))
		}
		b.WriteString("\n\n")
	}
	return lipgloss.NewStyle().Width(max(20, m.width-2)).Render(b.String())
}
