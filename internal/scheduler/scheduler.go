// Package scheduler tracks the next sunset for a location and decides, on each
// poll, whether to fetch, wait, or deliver the day's single alert.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nateberkopec/sunsetalert/internal/geo"
	"github.com/nateberkopec/sunsetalert/internal/sunsetclient"
)

// DefaultFetchTimeout bounds a single time service lookup.
const DefaultFetchTimeout = 10 * time.Second

// sunsetSource captures the lookup the scheduler needs. It is satisfied by
// sunsetclient.Client, Solar and Cached, and by stubs in tests.
type sunsetSource interface {
	FetchSunset(ctx context.Context, loc geo.Location, forTomorrow bool) (sunsetclient.Info, error)
}

// Notifier delivers the alert for a sunset instant.
type Notifier interface {
	Notify(ctx context.Context, sunset time.Time) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, sunset time.Time) error

func (f NotifierFunc) Notify(ctx context.Context, sunset time.Time) error {
	return f(ctx, sunset)
}

// OutcomeKind says what a Poll did.
type OutcomeKind int

const (
	WaitingForLocation OutcomeKind = iota
	Armed
	FetchFailed
	Fired
	Rollover
)

func (k OutcomeKind) String() string {
	switch k {
	case WaitingForLocation:
		return "waiting for location"
	case Armed:
		return "armed"
	case FetchFailed:
		return "fetch failed"
	case Fired:
		return "fired"
	case Rollover:
		return "rollover"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Poll. Sunset is the armed or fired instant when
// there is one; Err carries a lookup or delivery failure.
type Outcome struct {
	Kind   OutcomeKind
	Sunset time.Time
	Err    error
}

func (o Outcome) String() string {
	s := o.Kind.String()
	if !o.Sunset.IsZero() {
		s = fmt.Sprintf("%s %s", s, o.Sunset.Format(time.RFC3339))
	}
	if o.Err != nil {
		s = fmt.Sprintf("%s: %v", s, o.Err)
	}
	return s
}

// State is the scheduler's working memory. Absent values are the zero Location,
// a nil Pending and a zero FiredFor.
type State struct {
	Location geo.Location
	Pending  *sunsetclient.Info
	FiredFor time.Time
}

// Options wires the scheduler's collaborators.
type Options struct {
	Source       sunsetSource
	Notifier     Notifier
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Scheduler is the sunset state machine. Poll calls are serialized; the zero
// value is not usable, construct one with New.
type Scheduler struct {
	mu           sync.Mutex
	state        State
	source       sunsetSource
	notifier     Notifier
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// New creates a scheduler with empty state.
func New(opts Options) *Scheduler {
	if opts.Source == nil {
		panic("scheduler: Source is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, time.Time) error { return nil })
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       opts.Source,
		notifier:     notifier,
		fetchTimeout: timeout,
		logger:       logger,
	}
}

// State returns a copy of the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.Pending != nil {
		pending := *st.Pending
		st.Pending = &pending
	}
	return st
}

// Poll advances the state machine for the given instant and location. It is
// meant to be called on a fixed interval and whenever the location changes.
func (s *Scheduler) Poll(ctx context.Context, now time.Time, loc geo.Location) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !loc.Valid() {
		return Outcome{Kind: WaitingForLocation}
	}

	if loc != s.state.Location {
		if s.state.Location.Valid() {
			s.logger.Info("location changed", "from", s.state.Location.String(), "to", loc.String())
		}
		s.state = State{Location: loc}
	}

	pending := s.state.Pending
	switch {
	case pending == nil:
		return s.refresh(ctx, now, loc)
	case pending.Sunset.After(now):
		return Outcome{Kind: Armed, Sunset: pending.Sunset}
	case pending.Sunset.Equal(s.state.FiredFor):
		s.state.Pending = nil
		out := s.fetchTomorrow(ctx, now, loc)
		if out.Kind == Armed {
			return Outcome{Kind: Rollover, Sunset: out.Sunset}
		}
		return Outcome{Kind: Rollover, Err: out.Err}
	default:
		return s.fire(ctx, pending.Sunset)
	}
}

func (s *Scheduler) fire(ctx context.Context, sunset time.Time) Outcome {
	s.state.FiredFor = sunset
	s.state.Pending = nil

	s.logger.Info("sunset reached, sending alert", "location", s.state.Location.String(), "sunset", sunset)
	out := Outcome{Kind: Fired, Sunset: sunset}
	if err := s.notifier.Notify(ctx, sunset); err != nil {
		s.logger.Warn("alert delivery failed", "sunset", sunset, "error", err)
		out.Err = fmt.Errorf("notify: %w", err)
	}
	return out
}

// refresh fetches today's sunset, looking ahead to tomorrow when today's has
// already passed.
func (s *Scheduler) refresh(ctx context.Context, now time.Time, loc geo.Location) Outcome {
	info, err := s.fetch(ctx, loc, false)
	if err != nil {
		return Outcome{Kind: FetchFailed, Err: err}
	}
	if info.Sunset.After(now) {
		s.state.Pending = &info
		s.logger.Info("armed for sunset", "location", loc.String(), "sunset", info.Sunset)
		return Outcome{Kind: Armed, Sunset: info.Sunset}
	}
	return s.fetchTomorrow(ctx, now, loc)
}

// fetchTomorrow makes the single look-ahead attempt. A result that is still
// not in the future is dropped so that no backdated alert can fire.
func (s *Scheduler) fetchTomorrow(ctx context.Context, now time.Time, loc geo.Location) Outcome {
	info, err := s.fetch(ctx, loc, true)
	if err != nil {
		return Outcome{Kind: FetchFailed, Err: err}
	}
	if !info.Sunset.After(now) {
		s.logger.Warn("time service returned a past sunset for tomorrow", "location", loc.String(), "sunset", info.Sunset)
		return Outcome{Kind: Rollover}
	}
	s.state.Pending = &info
	s.logger.Info("armed for sunset", "location", loc.String(), "sunset", info.Sunset, "tomorrow", true)
	return Outcome{Kind: Armed, Sunset: info.Sunset}
}

func (s *Scheduler) fetch(ctx context.Context, loc geo.Location, forTomorrow bool) (sunsetclient.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	info, err := s.source.FetchSunset(ctx, loc, forTomorrow)
	if err != nil {
		s.logger.Warn("sunset lookup failed", "location", loc.String(), "tomorrow", forTomorrow, "error", err)
		var fe *sunsetclient.FetchError
		if !errors.As(err, &fe) {
			err = &sunsetclient.FetchError{Kind: sunsetclient.KindNetwork, Err: err}
		}
		return sunsetclient.Info{}, err
	}
	return info, nil
}
