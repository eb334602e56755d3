// Package tui is a terminal note list that follows generated titles over the
// push channel.
package tui

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"notecrm/api/internal/pushclient"
)

// NoteLister loads the caller's notes.
type NoteLister interface {
	ListNotes(ctx context.Context) ([]Note, error)
}

type pushConsumer interface {
	Mount()
	Focus()
	Unmount()
}

type notesLoadedMsg struct {
	notes []Note
	err   error
}

type titleUpdatedMsg struct {
	noteID string
	title  string
}

type highlightChangedMsg struct{}

type connStateMsg struct {
	state pushclient.State
}

type Options struct {
	API       NoteLister
	EventsURL string
	Header    http.Header
	// Highlight is how long a retitled row stays highlighted.
	Highlight   time.Duration
	ReadTimeout time.Duration
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Model is the root Bubble Tea model.
type Model struct {
	api      NoteLister
	consumer pushConsumer
	tracker  *pushclient.Tracker
	events   chan tea.Msg
	done     chan struct{}

	keys   KeyMap
	width  int
	height int

	notes       []Note
	selectedIdx int
	state       pushclient.State
	loading     bool
	err         error
}

// New builds the model together with its push consumer and highlight
// tracker. The consumer is mounted by Init.
func New(opts Options) Model {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	m := newModel(opts.API)
	m.tracker = pushclient.NewTracker(clk, opts.Highlight, func() {
		m.send(highlightChangedMsg{})
	})
	m.consumer = pushclient.NewConsumer(pushclient.ConsumerConfig{
		URL:    opts.EventsURL,
		Header: opts.Header,
		OnTitleUpdate: func(noteID, title string) {
			m.send(titleUpdatedMsg{noteID: noteID, title: title})
		},
		OnStateChange: func(state pushclient.State) {
			m.send(connStateMsg{state: state})
		},
		ReadTimeout: opts.ReadTimeout,
		Logger:      opts.Logger,
	})
	return m
}

func newModel(api NoteLister) Model {
	return Model{
		api:     api,
		events:  make(chan tea.Msg, 64),
		done:    make(chan struct{}),
		keys:    DefaultKeyMap(),
		loading: true,
	}
}

// send hands a message from a consumer or tracker goroutine to the program.
// Once the model has quit, messages are dropped instead of blocking.
func (m Model) send(msg tea.Msg) {
	select {
	case m.events <- msg:
	case <-m.done:
	}
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.done:
			return nil
		}
	}
}

func (m Model) fetchNotes() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notes, err := m.api.ListNotes(ctx)
		return notesLoadedMsg{notes: notes, err: err}
	}
}

// Init loads the list and opens the push connection.
func (m Model) Init() tea.Cmd {
	consumer := m.consumer
	return tea.Batch(
		m.fetchNotes(),
		func() tea.Msg {
			consumer.Mount()
			return nil
		},
		m.waitForEvent(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.FocusMsg:
		m.consumer.Focus()
		return m, nil

	case notesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.notes = msg.notes
		if m.selectedIdx >= len(m.notes) {
			m.selectedIdx = max(len(m.notes)-1, 0)
		}
		return m, nil

	case titleUpdatedMsg:
		found := false
		for i := range m.notes {
			if m.notes[i].ID == msg.noteID {
				m.notes[i].Title = msg.title
				m.notes[i].TitleSource = "generated"
				found = true
				break
			}
		}
		m.tracker.Mark(msg.noteID)
		if !found {
			// Created elsewhere; pick it up with the rest of the list.
			return m, tea.Batch(m.fetchNotes(), m.waitForEvent())
		}
		return m, m.waitForEvent()

	case highlightChangedMsg:
		return m, m.waitForEvent()

	case connStateMsg:
		m.state = msg.state
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		return m, m.fetchNotes()

	case key.Matches(msg, m.keys.Down):
		if len(m.notes) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.notes)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.notes) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.notes)) % len(m.notes)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) close() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	m.consumer.Unmount()
	m.tracker.DisposeAll()
}

func (m Model) View() string {
	var b strings.Builder

	st := stateStyle(m.state == pushclient.Connected, m.state == pushclient.Connecting)
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("Notes"),
		"  ",
		st.Render("● "+m.state.String()),
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	case m.loading && len(m.notes) == 0:
		b.WriteString(helpStyle.Render("loading…"))
		b.WriteString("\n")
	case len(m.notes) == 0:
		b.WriteString(helpStyle.Render("no notes yet"))
		b.WriteString("\n")
	}

	for i, note := range m.notes {
		b.WriteString(m.renderRow(i, note))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s · %s · %s",
		helpText(m.keys.Down), helpText(m.keys.Refresh), helpText(m.keys.Quit))))
	return b.String()
}

func (m Model) renderRow(i int, note Note) string {
	title := note.Title
	if title == "" {
		title = "(untitled)"
	}
	if m.tracker.IsHighlighted(note.ID) {
		title = highlightStyle.Render(title)
	}
	line := title + " " + sourceStyle.Render(note.TitleSource)
	if i == m.selectedIdx {
		return selectedStyle.Render(line)
	}
	return rowStyle.Render(line)
}

func helpText(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}
