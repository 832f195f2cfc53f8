package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/formatter"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

const maxBarWidth = 60

// Controller is the part of the coordinator the widget may call.
type Controller interface {
	RetryNow()
	Logout()
	Activity()
}

// Model represents the widget state.
type Model struct {
	updates  <-chan tasks.Update
	ctrl     Controller
	update   tasks.Update
	received time.Time
	now      func() time.Time
	bar      progress.Model
	help     help.Model
	keys     keyMap
	width    int
	quitting bool
}

// NewModel creates a widget reading from updates, starting from initial.
func NewModel(updates <-chan tasks.Update, ctrl Controller, initial tasks.Update) *Model {
	return &Model{
		updates:  updates,
		ctrl:     ctrl,
		update:   initial,
		received: time.Now(),
		now:      time.Now,
		bar:      progress.New(progress.WithSolidFill("#1DB954"), progress.WithoutPercentage(), progress.WithWidth(40)),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init starts listening for updates and the progress ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-4, 10), maxBarWidth)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		switch msg.kind {
		case MsgUpdate:
			m.update = msg.data.(tasks.Update)
			m.received = m.now()
			return m, m.waitForUpdate()
		case MsgTick:
			return m, tick()
		case MsgClosed:
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.ctrl.Activity()

	switch {
	case key.Matches(msg, m.keys.quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.retry):
		m.ctrl.RetryNow()
	case key.Matches(msg, m.keys.logout):
		m.ctrl.Logout()
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.updates
		if !ok {
			return closedMsg()
		}
		return updateMsg(u)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// View renders the widget.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("Now Playing"))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")
	b.WriteString(m.renderTrack())

	if m.update.Err != nil && m.update.Message != "" {
		style := styles.err
		if m.update.Retryable() {
			style = styles.warn
		}
		b.WriteString("\n")
		b.WriteString(style.Render(m.update.Message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderStatus() string {
	switch m.update.State {
	case models.LoggedOut:
		return styles.muted.Render("● logged out")
	case models.Refreshing:
		return styles.warn.Render("● refreshing session")
	case models.Degraded:
		return styles.warn.Render("● degraded")
	default:
		if m.update.Loading {
			return styles.muted.Render("● loading")
		}
		return styles.status.Render("● connected")
	}
}

func (m *Model) renderTrack() string {
	snap := m.update.Snapshot
	if snap == nil || snap.Track == nil {
		if m.update.State == models.LoggedOut {
			return styles.muted.Render("Run `nowplaying auth login` to connect Spotify.") + "\n"
		}
		if m.update.Loading {
			return styles.muted.Render("Loading...") + "\n"
		}
		return styles.muted.Render("Nothing playing") + "\n"
	}

	t := snap.Track
	elapsed := m.elapsed()

	var b strings.Builder
	b.WriteString(styles.track.Render(t.Name))
	b.WriteString("\n")
	b.WriteString(t.Artist)
	b.WriteString("\n")
	if t.Album != "" {
		b.WriteString(styles.muted.Render(t.Album))
		b.WriteString("\n")
	}
	if !snap.IsPlaying {
		b.WriteString(styles.muted.Render("Paused"))
		b.WriteString("\n")
	}

	ratio := 0.0
	if t.DurationMs > 0 {
		ratio = float64(elapsed) / float64(t.Duration())
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(min(max(ratio, 0), 1)))
	b.WriteString(fmt.Sprintf(" %s / %s\n", formatter.FormatDuration(elapsed), formatter.FormatDuration(t.Duration())))
	return b.String()
}

// elapsed advances the reported progress by the time since the update arrived while playing.
func (m *Model) elapsed() time.Duration {
	snap := m.update.Snapshot
	if snap == nil || snap.Track == nil {
		return 0
	}
	t := snap.Track
	elapsed := t.Elapsed()
	if snap.IsPlaying && m.update.State != models.Degraded {
		elapsed += m.now().Sub(m.received)
	}
	if d := t.Duration(); d > 0 && elapsed > d {
		elapsed = d
	}
	return elapsed
}
