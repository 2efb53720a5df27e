package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nateberkopec/sunsetalert/internal/geo"
	"github.com/nateberkopec/sunsetalert/internal/persistence"
	"github.com/nateberkopec/sunsetalert/internal/scheduler"
)

// sunsetPoller captures the scheduler operation the model drives. This makes
// it easy to stub in tests without a time service.
type sunsetPoller interface {
	Poll(ctx context.Context, now time.Time, loc geo.Location) scheduler.Outcome
}

type focusArea int

const (
	focusNone focusArea = iota
	focusLatitude
	focusLongitude
	focusPlace
)

type statusKind int

const (
	statusNeutral statusKind = iota
	statusError
	statusSuccess
)

type statusMessage struct {
	text    string
	kind    statusKind
	expires time.Time
}

// Config wires external dependencies for the app.
type Config struct {
	Scheduler    sunsetPoller
	Store        *persistence.Store
	Settings     persistence.Settings
	Location     geo.Location
	PlaceName    string
	PollInterval time.Duration
	BellEnabled  bool
	// Now and Zone default to the wall clock and time.Local.
	Now    func() time.Time
	Zone   *time.Location
	Logger *slog.Logger
	Bell   io.Writer
}

// Model implements the Bubble Tea program.
type Model struct {
	poller       sunsetPoller
	store        *persistence.Store
	settings     persistence.Settings
	pollInterval time.Duration
	now          func() time.Time
	zone         *time.Location
	logger       *slog.Logger
	bell         io.Writer

	location  geo.Location
	placeName string

	bellEnabled bool
	focus       focusArea
	width       int
	height      int

	inputs [3]textinput.Model
	spin   spinner.Model

	status     statusMessage
	polling    bool
	pollQueued bool

	outcome   scheduler.Outcome
	armed     time.Time
	lastFired time.Time
	lastPoll  time.Time

	recentIndex int
}

// New creates a Bubble Tea model for the sunset watcher.
func New(cfg Config) *Model {
	if cfg.Scheduler == nil {
		panic("app: Scheduler is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	zone := cfg.Zone
	if zone == nil {
		zone = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bell := cfg.Bell
	if bell == nil {
		bell = os.Stdout
	}

	m := &Model{
		poller:       cfg.Scheduler,
		store:        cfg.Store,
		settings:     cfg.Settings,
		pollInterval: pollInterval,
		now:          now,
		zone:         zone,
		logger:       logger,
		bell:         bell,
		location:     cfg.Location,
		placeName:    cfg.PlaceName,
		bellEnabled:  cfg.BellEnabled,
		spin:         spinner.New(spinner.WithSpinner(spinner.Ellipsis)),
		recentIndex:  -1,
	}

	m.inputs[0] = newInput("latitude", 10)
	m.inputs[1] = newInput("longitude", 10)
	m.inputs[2] = newInput("place name", 40)
	m.fillInputs(m.location, m.placeName)

	return m
}

func newInput(placeholder string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = ""
	ti.CharLimit = limit
	ti.Width = 12
	ti.Blur()
	return ti
}

// Init satisfies the tea.Model interface.
func (m *Model) Init() tea.Cmd {
	spinCmd := func() tea.Msg { return m.spin.Tick() }
	return tea.Batch(textinput.Blink, m.requestPoll(), m.scheduleTick(), spinCmd)
}

// Update drives the Bubble Tea state machine.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.maybeExpireStatus()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.configureLayout()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	case pollTickMsg:
		return m, tea.Batch(m.scheduleTick(), m.requestPoll())
	case pollResultMsg:
		m.polling = false
		cmd := m.absorbOutcome(msg)
		if m.pollQueued {
			m.pollQueued = false
			cmd = tea.Batch(cmd, m.requestPoll())
		}
		return m, cmd
	}

	if m.focus != focusNone {
		return m, m.updateFocusedInput(msg)
	}
	return m, nil
}

// View renders the TUI.
func (m *Model) View() string {
	return renderView(m)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c", "ctrl+d":
		m.save()
		return m, tea.Quit
	case "tab":
		m.setFocus((m.focus + 1) % 4)
		return m, nil
	case "shift+tab":
		m.setFocus((m.focus + 3) % 4)
		return m, nil
	case "esc":
		m.fillInputs(m.location, m.placeName)
		m.setFocus(focusNone)
		return m, nil
	}

	if m.focus != focusNone {
		switch key {
		case "enter":
			return m, m.applyLocation()
		case "up":
			m.navigateRecent(1)
			return m, nil
		case "down":
			m.navigateRecent(-1)
			return m, nil
		}
		return m, m.updateFocusedInput(msg)
	}

	switch key {
	case "q":
		m.save()
		return m, tea.Quit
	case "e", "enter":
		m.setFocus(focusLatitude)
	case "r":
		m.setStatus("Refreshing…", statusNeutral)
		return m, m.requestPoll()
	case "b":
		m.bellEnabled = !m.bellEnabled
		if m.bellEnabled {
			m.setStatus("Bell enabled", statusSuccess)
		} else {
			m.setStatus("Bell muted", statusNeutral)
		}
	}
	return m, nil
}

func (m *Model) updateFocusedInput(msg tea.Msg) tea.Cmd {
	idx := int(m.focus) - 1
	var cmd tea.Cmd
	m.inputs[idx], cmd = m.inputs[idx].Update(msg)
	return cmd
}

// applyLocation validates the inputs and, when they describe a new location,
// switches to it and polls straight away.
func (m *Model) applyLocation() tea.Cmd {
	loc, err := geo.Parse(m.inputs[0].Value(), m.inputs[1].Value())
	if err != nil {
		m.setStatus(err.Error(), statusError)
		return nil
	}
	place := strings.TrimSpace(m.inputs[2].Value())

	m.setFocus(focusNone)
	m.recentIndex = -1
	if loc == m.location && place == m.placeName {
		m.setStatus("Location unchanged", statusNeutral)
		return nil
	}

	m.location = loc
	m.placeName = place
	m.armed = time.Time{}
	m.settings.Remember(loc, place)
	m.save()
	m.logger.Info("location set", "location", loc.String(), "place", place)
	m.setStatus(fmt.Sprintf("Watching sunset at %s", m.locationLabel()), statusSuccess)
	return m.requestPoll()
}

func (m *Model) navigateRecent(delta int) {
	recent := m.settings.Recent
	if len(recent) == 0 {
		return
	}
	idx := m.recentIndex + delta
	if idx < -1 {
		idx = -1
	}
	if idx >= len(recent) {
		idx = len(recent) - 1
	}
	m.recentIndex = idx
	if idx == -1 {
		m.fillInputs(m.location, m.placeName)
		return
	}
	r := recent[idx]
	loc, err := r.Location()
	if err != nil {
		return
	}
	m.fillInputs(loc, r.PlaceName)
}

func (m *Model) fillInputs(loc geo.Location, place string) {
	if loc.Valid() {
		m.inputs[0].SetValue(strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		m.inputs[1].SetValue(strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	} else {
		m.inputs[0].SetValue("")
		m.inputs[1].SetValue("")
	}
	m.inputs[2].SetValue(place)
	for i := range m.inputs {
		m.inputs[i].CursorEnd()
	}
}

func (m *Model) setFocus(area focusArea) {
	m.focus = area
	for i := range m.inputs {
		if int(area) == i+1 {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *Model) save() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.settings); err != nil {
		m.logger.Warn("failed to save settings", "error", err)
	}
}

func (m *Model) absorbOutcome(msg pollResultMsg) tea.Cmd {
	var cmd tea.Cmd
	if msg.Outcome.Kind == scheduler.Fired {
		m.lastFired = msg.Outcome.Sunset
		m.setStatus("It's sunset!", statusSuccess)
		if m.bellEnabled {
			cmd = m.ringBell()
		}
	}

	// A result for a location the user has since replaced only matters if it
	// fired.
	if msg.Location != m.location {
		return cmd
	}

	m.outcome = msg.Outcome
	m.lastPoll = msg.At
	switch msg.Outcome.Kind {
	case scheduler.Armed:
		m.armed = msg.Outcome.Sunset
	case scheduler.Fired:
		m.armed = time.Time{}
	case scheduler.Rollover:
		m.armed = msg.Outcome.Sunset
		if msg.Outcome.Err != nil {
			m.setStatus(msg.Outcome.Err.Error(), statusError)
		}
	case scheduler.FetchFailed:
		m.setStatus(msg.Outcome.Err.Error(), statusError)
	case scheduler.WaitingForLocation:
		m.armed = time.Time{}
	}
	if msg.Outcome.Kind == scheduler.Fired && msg.Outcome.Err != nil {
		m.setStatus(msg.Outcome.Err.Error(), statusError)
	}
	return cmd
}

func (m *Model) ringBell() tea.Cmd {
	w := m.bell
	return func() tea.Msg {
		fmt.Fprint(w, "\a")
		return nil
	}
}

func (m *Model) configureLayout() {
	if m.width <= 0 {
		return
	}
	m.inputs[2].Width = max(12, m.width-2*16-8)
}

func (m *Model) scheduleTick() tea.Cmd {
	if m.pollInterval <= 0 {
		return nil
	}
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

// requestPoll starts a poll unless one is already running, in which case
// another is queued behind it.
func (m *Model) requestPoll() tea.Cmd {
	if m.polling {
		m.pollQueued = true
		return nil
	}
	m.polling = true
	poller := m.poller
	loc := m.location
	now := m.now()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return pollResultMsg{Outcome: poller.Poll(ctx, now, loc), Location: loc, At: now}
	}
}

func (m *Model) setStatus(text string, kind statusKind) {
	if text == "" {
		m.status = statusMessage{}
		return
	}
	m.status = statusMessage{
		text:    text,
		kind:    kind,
		expires: m.now().Add(10 * time.Second),
	}
}

func (m *Model) maybeExpireStatus() {
	if m.status.text == "" {
		return
	}
	if m.now().After(m.status.expires) {
		m.status = statusMessage{}
	}
}

func (m *Model) locationLabel() string {
	if !m.location.Valid() {
		return "no location"
	}
	if m.placeName != "" {
		return fmt.Sprintf("%s (%s)", m.placeName, m.location.String())
	}
	return m.location.String()
}

type pollTickMsg struct{}

type pollResultMsg struct {
	Outcome  scheduler.Outcome
	Location geo.Location
	At       time.Time
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
