package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Top      key.Binding
	// Follow toggles auto-scroll, which is remembered between sessions
	Follow key.Binding
	Quit   key.Binding
}

var defaultKeyMap = keyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Top: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	Follow: key.NewBinding(
		key.WithKeys("G", "end", "f"),
		key.WithHelp("G", "jump to bottom"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	timestampStyle = lipgloss.NewStyle().Faint(true)
	footerStyle    = lipgloss.NewStyle().Faint(true)
	levelStyles    = map[model.Level]lipgloss.Style{
		model.LevelInfo:    lipgloss.NewStyle(),
		model.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		model.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
	stateStyles = map[connState]lipgloss.Style{
		Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Polling:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}
	jobStyles = map[model.JobState]lipgloss.Style{
		model.JobPending:     lipgloss.NewStyle().Faint(true),
		model.JobDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		model.JobSucceeded:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		model.JobFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

type eventMsg struct {
	event model.Event
}

type statusMsg struct {
	status status
}

// forward returns client callbacks feeding msgs. Sends give up once ctx
// is done so the client never blocks on a UI that has exited.
func forward(ctx context.Context, msgs chan<- tea.Msg) (func(model.Event), func(status)) {
	send := func(msg tea.Msg) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	}
	return func(e model.Event) { send(eventMsg{e}) },
		func(s status) { send(statusMsg{s}) }
}

// listen delivers the next client message to the program
func listen(msgs <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-msgs
	}
}

type ui struct {
	view      *view
	status    status
	keys      keyMap
	msgs      <-chan tea.Msg
	prefs     prefs
	prefsPath string
	title     string
}

func newUI(v *view, msgs <-chan tea.Msg, p prefs, prefsPath, title string) ui {
	v.render = renderLine
	v.refresh()
	return ui{
		view:      v,
		keys:      defaultKeyMap,
		msgs:      msgs,
		prefs:     p,
		prefsPath: prefsPath,
		title:     title,
	}
}

func (m ui) Init() tea.Cmd {
	return listen(m.msgs)
}

func (m ui) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// header and footer take a line each
		m.view.resize(msg.Width, msg.Height-2)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.view.scroll(-1)
		case key.Matches(msg, m.keys.Down):
			m.view.scroll(1)
		case key.Matches(msg, m.keys.PageUp):
			m.view.pageUp()
		case key.Matches(msg, m.keys.PageDown):
			m.view.pageDown()
		case key.Matches(msg, m.keys.Top):
			m.view.top()
		case key.Matches(msg, m.keys.Follow):
			if m.view.autoScroll && m.view.scrolledAway {
				m.view.jumpToBottom()
				break
			}
			m.prefs.AutoScroll = m.view.toggleAutoScroll()
			if m.prefsPath != "" {
				if err := m.prefs.save(m.prefsPath); err != nil {
					logrus.Warnf("viewer: error saving preferences: %s", err)
				}
			}
		}
		return m, nil

	case eventMsg:
		m.view.apply(msg.event)
		return m, listen(m.msgs)

	case statusMsg:
		m.status = msg.status
		return m, listen(m.msgs)
	}
	return m, nil
}

func (m ui) View() string {
	var sb strings.Builder

	indicator := stateStyles[m.status.State].Render("● " + m.status.String())
	sb.WriteString(titleStyle.Render(m.title) + "  " + indicator + "\n")

	sb.WriteString(m.view.port.View() + "\n")

	sb.WriteString(m.footer())
	return sb.String()
}

// renderLine styles one log line; the viewport cuts it to the width
func renderLine(line model.LogLine) string {
	return timestampStyle.Render(line.Time) + " " + levelStyles[line.Level].Render(line.Text)
}

func (m ui) footer() string {
	var parts []string
	for _, job := range m.view.activeJobs() {
		parts = append(parts, fmt.Sprintf("%s: %s", job.Source, jobStyles[job.State].Render(job.State.String())))
	}
	follow := "off"
	if m.view.following() {
		follow = "on"
	} else if m.view.autoScroll {
		follow = "paused"
	}
	parts = append(parts, fmt.Sprintf("follow %s", follow),
		fmt.Sprintf("%s %s", m.keys.Follow.Help().Key, m.keys.Follow.Help().Desc),
		fmt.Sprintf("%s %s", m.keys.Quit.Help().Key, m.keys.Quit.Help().Desc))
	return footerStyle.Render(strings.Join(parts, " · "))
}
