package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/model"
)

const (
	maxNotices = 3
	// header, input panel and footer lines around the message log.
	chromeHeight = 7
)

type opener func(ctx context.Context, conversationID string) (*chat.Session, error)

type sentMsg struct {
	body string
	err  error
}

type openedMsg struct {
	session *chat.Session
	err     error
}

type styles struct {
	header   lipgloss.Style
	status   lipgloss.Style
	errorMsg lipgloss.Style
	own      lipgloss.Style
	peer     lipgloss.Style
	muted    lipgloss.Style
	notice   lipgloss.Style
	input    lipgloss.Style
}

func newStyles() styles {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue),
		status:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorMsg: lipgloss.NewStyle().Foreground(pink).Bold(true),
		own:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		peer:     lipgloss.NewStyle().Foreground(blue).Bold(true),
		muted:    lipgloss.NewStyle().Foreground(muted),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
	}
}

// view is the bubbletea model of the chat screen.
type view struct {
	ctx     context.Context
	userID  string
	bridge  *bridge
	open    opener
	session *chat.Session

	input    textinput.Model
	timeline viewport.Model
	styles   styles

	messages   []model.Message
	notices    []string
	status     chat.Status
	statusErr  error
	lastErr    string
	failedBody string
	width      int
}

func newView(ctx context.Context, userID string, b *bridge, open opener, session *chat.Session) view {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Write a message. /open <ticket> switches tickets, ctrl+r resends a failed message."
	input.Focus()

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return view{
		ctx:      ctx,
		userID:   userID,
		bridge:   b,
		open:     open,
		session:  session,
		input:    input,
		timeline: timeline,
		styles:   newStyles(),
		status:   chat.StatusConnecting,
	}
}

func (v view) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, v.bridge.next())
}

func (v view) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		v.timeline.Width = msg.Width
		v.timeline.Height = max(msg.Height-chromeHeight, 1)
		v.input.Width = max(msg.Width-6, 10)
		v.refresh()
		return v, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return v, tea.Quit
		case "enter":
			return v.submit()
		case "ctrl+r":
			if v.failedBody == "" {
				return v, nil
			}
			body := v.failedBody
			v.failedBody = ""
			v.lastErr = ""
			return v, v.send(body)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			v.timeline, cmd = v.timeline.Update(msg)
			return v, cmd
		}

	case bridgeMsg:
		v.apply(msg)
		return v, v.bridge.next()

	case sentMsg:
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, chat.ErrSendFailed):
			v.failedBody = msg.body
			v.lastErr = "not sent: " + chat.Preview(msg.body, 40) + " (ctrl+r to retry)"
		case errors.Is(msg.err, chat.ErrConversationChanged):
		default:
			v.lastErr = msg.err.Error()
		}
		return v, nil

	case openedMsg:
		if msg.err != nil {
			v.lastErr = msg.err.Error()
			return v, nil
		}
		v.session = msg.session
		v.notices = nil
		v.failedBody = ""
		v.lastErr = ""
		return v, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		v.timeline, cmd = v.timeline.Update(msg)
		return v, cmd
	}

	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return v, cmd
}

// submit handles the enter key: a slash command or a message.
func (v view) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(v.input.Value())
	v.input.Reset()
	if text == "" {
		return v, nil
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		return v, tea.Quit
	case "/open":
		if len(fields) != 2 {
			v.lastErr = "usage: /open <ticket>"
			return v, nil
		}
		id := fields[1]
		return v, func() tea.Msg {
			s, err := v.open(v.ctx, id)
			return openedMsg{session: s, err: err}
		}
	}
	v.lastErr = ""
	return v, v.send(text)
}

func (v view) send(body string) tea.Cmd {
	session := v.session
	return func() tea.Msg {
		if session == nil {
			return sentMsg{body: body, err: chat.ErrNoConversation}
		}
		return sentMsg{body: body, err: session.ComposeAndSend(v.ctx, body)}
	}
}

func (v *view) apply(msg bridgeMsg) {
	if msg.hasStatus {
		v.status = msg.status
		v.statusErr = msg.statusErr
	}
	if len(msg.notices) > 0 {
		v.notices = append(v.notices, msg.notices...)
		if len(v.notices) > maxNotices {
			v.notices = v.notices[len(v.notices)-maxNotices:]
		}
	}
	if msg.hasSnapshot {
		v.messages = msg.snapshot
		v.refresh()
	}
}

func (v *view) refresh() {
	atBottom := v.timeline.AtBottom()
	v.timeline.SetContent(v.renderTimeline())
	if atBottom {
		v.timeline.GotoBottom()
	}
}

func (v view) renderTimeline() string {
	if len(v.messages) == 0 {
		return v.styles.muted.Render("No messages yet.")
	}
	lines := make([]string, 0, len(v.messages))
	for _, m := range v.messages {
		lines = append(lines, v.renderMessage(m))
	}
	return strings.Join(lines, "\n")
}

func (v view) renderMessage(m model.Message) string {
	name := m.SenderDisplayName
	if name == "" {
		name = m.SenderID
	}
	nameStyle := v.styles.peer
	if m.SenderID == v.userID {
		nameStyle = v.styles.own
	}
	line := fmt.Sprintf("%s %s %s",
		v.styles.muted.Render(m.CreatedAt.Local().Format("15:04")),
		nameStyle.Render(name+":"),
		m.Body,
	)
	switch m.State {
	case model.StatePending:
		line += v.styles.muted.Render("  sending…")
	case model.StateFailed:
		line += v.styles.errorMsg.Render("  failed")
	}
	return line
}

func (v view) View() string {
	ticket := "no ticket"
	if v.session != nil {
		ticket = "Ticket " + v.session.ConversationID()
	}
	status := v.styles.status.Render(string(v.status))
	if v.statusErr != nil && v.status == chat.StatusReconnecting {
		status = v.styles.errorMsg.Render(string(v.status))
	}
	header := v.styles.header.Render(ticket + "  " + status)

	var footer []string
	for _, n := range v.notices {
		footer = append(footer, v.styles.notice.Render("new message from "+n))
	}
	if v.lastErr != "" {
		footer = append(footer, v.styles.errorMsg.Render(v.lastErr))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		v.timeline.View(),
		v.styles.input.Render(v.input.View()),
		strings.Join(footer, "\n"),
	)
}
