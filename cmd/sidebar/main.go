// Pulse sidebar - terminal client for the PSA assistant
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/psalabs/pulse/internal/config"
	"github.com/psalabs/pulse/internal/domain"
	"github.com/psalabs/pulse/internal/event"
	"github.com/psalabs/pulse/internal/session"
	"github.com/psalabs/pulse/internal/stream"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	cardStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("196")).Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dotStyles   = map[stream.State]lipgloss.Style{
		stream.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		stream.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		stream.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// feedUpdatedMsg arrives whenever the feed has new content.
type feedUpdatedMsg struct{}

// sendDoneMsg arrives when a SendMessage round trip finishes.
type sendDoneMsg struct{}

// pollTickMsg re-renders the collapsed badge and connection dot.
type pollTickMsg time.Time

type model struct {
	sess     *session.Session
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	width    int
	height   int
	ready    bool
}

func newModel(sess *session.Session) model {
	ti := textinput.New()
	ti.Placeholder = "Ask about projects, staffing, quotes..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	return model{sess: sess, input: ti, spin: sp}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitNotify(), m.pollTick(), textinput.Blink)
}

// waitNotify blocks on the feed's coalesced change signal.
func (m model) waitNotify() tea.Cmd {
	ch := m.sess.Feed.Notify()
	return func() tea.Msg {
		<-ch
		return feedUpdatedMsg{}
	}
}

func (m model) pollTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m model) sendMessage(text string) tea.Cmd {
	return func() tea.Msg {
		m.sess.Sidebar.SendMessage(context.Background(), text)
		return sendDoneMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(m.renderTimeline())
		m.viewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.sess.Close()
			return m, tea.Quit
		case "tab":
			m.sess.Sidebar.Toggle()
			if m.sess.Sidebar.IsOpen() {
				m.viewport.SetContent(m.renderTimeline())
				m.viewport.GotoBottom()
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || !m.sess.Sidebar.IsOpen() || m.sess.Sidebar.InFlight() {
				return m, nil
			}
			m.input.Reset()
			cmds = append(cmds, m.sendMessage(text), m.spin.Tick)
		}

	case feedUpdatedMsg:
		if m.ready {
			m.viewport.SetContent(m.renderTimeline())
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, m.waitNotify())

	case sendDoneMsg:
		if m.ready {
			m.viewport.SetContent(m.renderTimeline())
			m.viewport.GotoBottom()
		}

	case pollTickMsg:
		cmds = append(cmds, m.pollTick())

	case spinner.TickMsg:
		if m.sess.Sidebar.InFlight() {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if m.sess.Sidebar.IsOpen() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)

		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	if !m.sess.Sidebar.IsOpen() {
		return m.collapsedView()
	}
	return m.openView()
}

func (m model) collapsedView() string {
	dot := dotStyles[m.sess.Stream.State()].Render("●")
	line := fmt.Sprintf("%s PSA Assistant %s", dot, m.sess.Stream.State())
	if n := m.sess.Sidebar.Unread(); n > 0 {
		line += "  " + badgeStyle.Render(fmt.Sprintf("%d new", n))
	}
	help := helpStyle.Render("tab: open sidebar • ctrl+c: quit")
	return "\n" + line + "\n\n" + help + "\n"
}

func (m model) openView() string {
	dot := dotStyles[m.sess.Stream.State()].Render("●")
	header := fmt.Sprintf("%s %s", dot, titleStyle.Render("PSA Assistant"))

	footer := m.input.View()
	if m.sess.Sidebar.InFlight() {
		footer = m.spin.View() + " thinking...\n" + footer
	} else {
		footer = "\n" + footer
	}
	help := helpStyle.Render("enter: send • tab: collapse • ctrl+c: quit")

	return header + "\n\n" + m.viewport.View() + "\n" + footer + "\n" + help
}

func (m model) renderTimeline() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	wrap := lipgloss.NewStyle().Width(width - 4)

	var b strings.Builder
	for _, ev := range m.sess.Feed.Events() {
		switch ev := ev.(type) {
		case event.ChatEvent:
			stamp := timeStyle.Render(event.FormatTimestamp(ev.Timestamp))
			if ev.Role == event.RoleUser {
				b.WriteString(userStyle.Render("You") + " " + stamp + "\n")
			} else {
				b.WriteString(assistantStyle.Render("Assistant") + " " + stamp + "\n")
			}
			b.WriteString(wrap.Render(ev.Content) + "\n\n")
		case event.BusinessEvent:
			style := cardStyle
			if ev.Type == event.TypeError {
				style = errorCardStyle
			}
			title := cardTitleStyle.Render(event.Label(ev.Type))
			stamp := timeStyle.Render(event.FormatTimestamp(ev.Timestamp))
			body := title + " " + stamp + "\n" + ev.Message
			b.WriteString(style.Width(width-4).Render(body) + "\n\n")
		}
	}
	return b.String()
}

func main() {
	logPath := os.Getenv("PULSE_SIDEBAR_LOG")
	if logPath == "" {
		logPath = "sidebar.log"
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	user := &domain.User{
		UserID:   "anon_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Username: "sidebar-user",
	}

	sess, err := session.Start(context.Background(), session.Config{
		AgentBaseURL: cfg.Sidebar.AgentBaseURL,
		Transport:    stream.Transport(cfg.Sidebar.Transport),
		Retry: stream.RetryPolicy{
			MaxAttempts: cfg.Sidebar.RetryMax,
			BaseDelay:   cfg.Sidebar.RetryBase,
			MaxDelay:    cfg.Sidebar.RetryCap,
		},
		QueryTimeout: cfg.Sidebar.QueryTimeout,
		Logger:       logger,
	}, user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	p := tea.NewProgram(newModel(sess), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sidebar failed: %v\n", err)
		os.Exit(1)
	}
}
