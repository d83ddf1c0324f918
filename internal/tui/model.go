// Package tui is the terminal host: it renders the client state and maps
// keys to client actions.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"seektune/internal/app"
	"seektune/internal/audio"
	"seektune/internal/progress"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E06C75"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#25A065")).
			Padding(0, 1)
)

type keyMap struct {
	Listen      key.Binding
	Source      key.Binding
	Fingerprint key.Binding
	Download    key.Binding
	Refresh     key.Binding
	Devices     key.Binding
	Back        key.Binding
	Submit      key.Binding
	Up          key.Binding
	Down        key.Binding
	Quit        key.Binding
}

var keys = keyMap{
	Listen:      key.NewBinding(key.WithKeys("r", " "), key.WithHelp("r", "listen/stop")),
	Source:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "source")),
	Fingerprint: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "fingerprint")),
	Download:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "add song")),
	Refresh:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "song count")),
	Devices:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "devices")),
	Back:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Submit:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	Up:          key.NewBinding(key.WithKeys("up", "k")),
	Down:        key.NewBinding(key.WithKeys("down", "j")),
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Client is the part of app.App the UI drives.
type Client interface {
	Snapshot() app.Snapshot
	ToggleListening(ctx context.Context) error
	ToggleSource() audio.Source
	StartFingerprinting(filename string)
	RequestDownload(rawURL string) error
	RequestSongCount() error
}

// ScreenType defines which screen is currently active
type ScreenType int

const (
	MainScreen ScreenType = iota
	DownloadScreen
	DevicesScreen
)

type snapshotMsg app.Snapshot

// tickMsg refreshes the capture timer while listening.
type tickMsg struct{}

const tickInterval = time.Second

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type actionMsg struct {
	err error
}

// Model is the root Bubble Tea model.
type Model struct {
	ctx    context.Context
	client Client
	snap   app.Snapshot

	activeScreen ScreenType
	input        textinput.Model
	bar          bar.Model
	devices      deviceList
	width        int
	height       int
	err          error
	ticking      bool
}

// New creates the root model. inputDevice marks the configured microphone
// on the devices screen.
func New(ctx context.Context, client Client, inputDevice int) Model {
	in := textinput.New()
	in.Placeholder = "https://www.youtube.com/watch?v=..."
	in.CharLimit = 512
	in.Width = 60
	in.Cursor.SetMode(cursor.CursorStatic)

	return Model{
		ctx:     ctx,
		client:  client,
		snap:    client.Snapshot(),
		input:   in,
		bar:     bar.New(bar.WithDefaultGradient(), bar.WithWidth(40)),
		devices: newDeviceList(inputDevice),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{err: fn()}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.devices = m.devices.resize(msg.Width, msg.Height-4)
		return m, nil

	case snapshotMsg:
		return m.setSnapshot(app.Snapshot(msg))

	case actionMsg:
		m.err = msg.err
		return m.setSnapshot(m.client.Snapshot())

	case tickMsg:
		m.ticking = false
		return m.setSnapshot(m.client.Snapshot())

	case devicesMsg, errMsg:
		var cmd tea.Cmd
		m.devices, cmd = m.devices.update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.activeScreen {
		case DownloadScreen:
			return m.updateDownload(msg)
		case DevicesScreen:
			if key.Matches(msg, keys.Back) || key.Matches(msg, keys.Quit) {
				m.activeScreen = MainScreen
				return m, nil
			}
			var cmd tea.Cmd
			m.devices, cmd = m.devices.update(msg)
			return m, cmd
		}
		return m.updateMain(msg)
	}
	return m, nil
}

// setSnapshot stores s and keeps one tick running while a capture is active.
func (m Model) setSnapshot(s app.Snapshot) (Model, tea.Cmd) {
	m.snap = s
	if !s.Capturing || m.ticking {
		return m, nil
	}
	m.ticking = true
	return m, tick()
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Listen):
		return m, m.do(func() error { return m.client.ToggleListening(m.ctx) })

	case key.Matches(msg, keys.Source):
		m.client.ToggleSource()
		m.snap = m.client.Snapshot()
		return m, nil

	case key.Matches(msg, keys.Fingerprint):
		if !m.snap.Job.OfferFingerprint {
			return m, nil
		}
		return m, m.do(func() error {
			m.client.StartFingerprinting("")
			return nil
		})

	case key.Matches(msg, keys.Download):
		m.activeScreen = DownloadScreen
		m.input.Reset()
		return m, m.input.Focus()

	case key.Matches(msg, keys.Refresh):
		return m, m.do(m.client.RequestSongCount)

	case key.Matches(msg, keys.Devices):
		m.activeScreen = DevicesScreen
		return m, fetchDevices
	}
	return m, nil
}

func (m Model) updateDownload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.input.Blur()
		m.activeScreen = MainScreen
		return m, nil

	case key.Matches(msg, keys.Submit):
		url := strings.TrimSpace(m.input.Value())
		if url == "" {
			return m, nil
		}
		m.input.Blur()
		m.activeScreen = MainScreen
		return m, m.do(func() error { return m.client.RequestDownload(url) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	var title, body, help string

	switch m.activeScreen {
	case DevicesScreen:
		title = titleStyle.Render("Audio Device List")
		body = m.devices.view()
		help = infoStyle.Render("↑/↓: Navigate • Esc: Back")
	case DownloadScreen:
		title = titleStyle.Render("Add a Song")
		body = "Song URL:\n\n" + m.input.View()
		help = infoStyle.Render("Enter: Submit • Esc: Cancel")
	default:
		title = titleStyle.Render("seektune")
		body = m.renderMain()
		help = infoStyle.Render(m.helpLine())
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m Model) helpLine() string {
	parts := []string{"r: Listen", "s: Source", "n: Add song", "c: Song count", "d: Devices", "q: Quit"}
	if m.snap.Job.OfferFingerprint {
		parts = append([]string{"f: Fingerprint"}, parts...)
	}
	return strings.Join(parts, " • ")
}

func (m Model) renderMain() string {
	var sb strings.Builder
	s := m.snap

	source := "System audio"
	if s.Source == audio.SourceMic {
		source = "Microphone"
	}
	state := dimStyle.Render("idle")
	if s.Capturing {
		state = highlightStyle.Render(fmt.Sprintf("● listening %ds", int(s.Listening/time.Second)))
	}
	fmt.Fprintf(&sb, "Source: %s   %s\n", source, state)

	if s.HaveCount {
		fmt.Fprintf(&sb, "Songs in library: %d\n", s.SongCount)
	}
	if r := s.LastResult; r != nil && !s.Capturing {
		fmt.Fprintf(&sb, "%s\n", dimStyle.Render(describeResult(r)))
	}

	if s.Job.Visible {
		sb.WriteString("\n")
		sb.WriteString(boxStyle.Render(m.renderJob(s.Job)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(renderMatches(s))

	if m.err != nil {
		fmt.Fprintf(&sb, "\n%s", errorStyle.Render("Error: "+m.err.Error()))
	} else if s.Notice != "" {
		fmt.Fprintf(&sb, "\n%s", errorStyle.Render(s.Notice))
	}
	return sb.String()
}

func (m Model) renderJob(v progress.View) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", v.Icon, highlightStyle.Render(v.Headline))
	if v.Title != "" {
		song := v.Title
		if v.Artist != "" {
			song += " by " + v.Artist
		}
		fmt.Fprintf(&sb, "%s\n", song)
	}
	fmt.Fprintf(&sb, "%s %3.0f%%\n", m.bar.ViewAs(v.Percentage/100), v.Percentage)
	fmt.Fprintf(&sb, "%s\n", v.Detail)

	steps := make([]string, len(v.Steps))
	for i, st := range v.Steps {
		switch {
		case st.Done:
			steps[i] = highlightStyle.Render("✓ " + st.Label)
		case st.Active:
			steps[i] = infoStyle.Render("• " + st.Label)
		default:
			steps[i] = dimStyle.Render("○ " + st.Label)
		}
	}
	sb.WriteString(strings.Join(steps, "  "))

	if v.OfferFingerprint {
		sb.WriteString("\n\nPress f to create fingerprints for this song.")
	}
	return sb.String()
}

func renderMatches(s app.Snapshot) string {
	if len(s.Matches) == 0 {
		return dimStyle.Render("No matches yet.")
	}
	var sb strings.Builder
	sb.WriteString("Matches:\n")
	for i, match := range s.Matches {
		fmt.Fprintf(&sb, "  %d. %s - %s", i+1, match.SongTitle, match.SongArtist)
		if match.YouTubeID != "" {
			fmt.Fprintf(&sb, "  https://youtu.be/%s?t=%d", match.YouTubeID, match.Timestamp/1000)
		}
		fmt.Fprintf(&sb, "  %s\n", dimStyle.Render(fmt.Sprintf("score %.0f", match.Score)))
	}
	return sb.String()
}

func describeResult(r *audio.Result) string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("Last capture failed: %v", r.Err)
	case r.Sent && r.Payload != nil:
		return fmt.Sprintf("Sent %.1fs of audio, waiting for matches", r.Payload.Duration)
	default:
		return fmt.Sprintf("Last capture ended (%s)", r.Trigger)
	}
}
