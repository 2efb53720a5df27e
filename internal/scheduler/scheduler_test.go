package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nateberkopec/sunsetalert/internal/geo"
	"github.com/nateberkopec/sunsetalert/internal/sunsetclient"
)

var t0 = time.Date(2024, 6, 21, 20, 0, 0, 0, time.UTC)

type fetchCall struct {
	loc         geo.Location
	forTomorrow bool
}

// stubSource answers with fn and records every lookup.
type stubSource struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(forTomorrow bool) (time.Time, error)
}

func (s *stubSource) FetchSunset(_ context.Context, loc geo.Location, forTomorrow bool) (sunsetclient.Info, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fetchCall{loc: loc, forTomorrow: forTomorrow})
	fn := s.fn
	s.mu.Unlock()

	sunset, err := fn(forTomorrow)
	if err != nil {
		return sunsetclient.Info{}, err
	}
	return sunsetclient.Info{Sunset: sunset, ForTomorrow: forTomorrow}, nil
}

func (s *stubSource) reset() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.calls
	s.calls = nil
	return calls
}

func always(at time.Time) func(bool) (time.Time, error) {
	return func(bool) (time.Time, error) { return at, nil }
}

type recordingNotifier struct {
	sunsets []time.Time
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, sunset time.Time) error {
	n.sunsets = append(n.sunsets, sunset)
	return n.err
}

func newTestScheduler(src *stubSource) (*Scheduler, *recordingNotifier) {
	n := &recordingNotifier{}
	return New(Options{Source: src, Notifier: n}), n
}

func mustLocation(t *testing.T, lat, lng float64) geo.Location {
	t.Helper()
	loc, err := geo.New(lat, lng)
	require.NoError(t, err)
	return loc
}

func TestSunsetScenario(t *testing.T) {
	src := &stubSource{fn: always(t0.Add(10 * time.Second))}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)
	ctx := context.Background()

	out := s.Poll(ctx, t0, loc)
	assert.Equal(t, Outcome{Kind: Armed, Sunset: t0.Add(10 * time.Second)}, out)
	assert.Len(t, src.reset(), 1)

	out = s.Poll(ctx, t0.Add(5*time.Second), loc)
	assert.Equal(t, Armed, out.Kind)
	assert.Empty(t, src.reset(), "armed poll must not refetch")

	out = s.Poll(ctx, t0.Add(11*time.Second), loc)
	assert.Equal(t, Outcome{Kind: Fired, Sunset: t0.Add(10 * time.Second)}, out)
	assert.Equal(t, []time.Time{t0.Add(10 * time.Second)}, n.sunsets)

	out = s.Poll(ctx, t0.Add(12*time.Second), loc)
	assert.Equal(t, Rollover, out.Kind)
	assert.NoError(t, out.Err)
	assert.Len(t, n.sunsets, 1, "stale instant must not alert twice")
	assert.Equal(t, []fetchCall{{loc, false}, {loc, true}}, src.reset())
}

func TestFiresExactlyOnceForFutureInstant(t *testing.T) {
	sunset := t0.Add(time.Hour)
	src := &stubSource{fn: always(sunset)}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 48.74, -0.96)

	var fired []time.Time
	for now := t0; now.Before(t0.Add(3 * time.Hour)); now = now.Add(30 * time.Second) {
		if out := s.Poll(context.Background(), now, loc); out.Kind == Fired {
			fired = append(fired, now)
		}
	}

	require.Len(t, fired, 1)
	assert.False(t, fired[0].Before(sunset))
	assert.True(t, fired[0].Sub(sunset) < 30*time.Second)
	assert.Equal(t, []time.Time{sunset}, n.sunsets)
}

func TestPastTodayLooksAheadExactlyOnce(t *testing.T) {
	tomorrow := t0.Add(24 * time.Hour)
	src := &stubSource{fn: func(forTomorrow bool) (time.Time, error) {
		if forTomorrow {
			return tomorrow, nil
		}
		return t0.Add(-time.Hour), nil
	}}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)

	out := s.Poll(context.Background(), t0, loc)
	assert.Equal(t, Outcome{Kind: Armed, Sunset: tomorrow}, out)
	assert.Equal(t, []fetchCall{{loc, false}, {loc, true}}, src.reset())
	assert.Empty(t, n.sunsets, "no backdated alert")

	st := s.State()
	require.NotNil(t, st.Pending)
	assert.True(t, st.Pending.ForTomorrow)
}

func TestLookAheadIsBounded(t *testing.T) {
	src := &stubSource{fn: always(t0.Add(-time.Minute))}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)

	out := s.Poll(context.Background(), t0, loc)
	assert.Equal(t, Rollover, out.Kind)
	assert.Len(t, src.reset(), 2)
	assert.Nil(t, s.State().Pending)
	assert.Empty(t, n.sunsets)
}

func TestLookAheadFailure(t *testing.T) {
	fail := &sunsetclient.FetchError{Kind: sunsetclient.KindBadStatus, Code: 503}
	src := &stubSource{fn: func(forTomorrow bool) (time.Time, error) {
		if forTomorrow {
			return time.Time{}, fail
		}
		return t0.Add(-time.Hour), nil
	}}
	s, _ := newTestScheduler(src)

	out := s.Poll(context.Background(), t0, mustLocation(t, 51.5, -0.1))
	assert.Equal(t, FetchFailed, out.Kind)
	assert.ErrorIs(t, out.Err, sunsetclient.ErrBadStatus)
	assert.Nil(t, s.State().Pending)
}

func TestFetchFailureLeavesStateUntouched(t *testing.T) {
	sunset := t0.Add(time.Hour)
	src := &stubSource{fn: always(sunset)}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)

	require.Equal(t, Armed, s.Poll(context.Background(), t0, loc).Kind)
	require.Equal(t, Fired, s.Poll(context.Background(), sunset, loc).Kind)
	before := s.State()

	src.fn = func(bool) (time.Time, error) {
		return time.Time{}, &sunsetclient.FetchError{Kind: sunsetclient.KindNetwork, Err: errors.New("offline")}
	}
	for i := 1; i <= 3; i++ {
		out := s.Poll(context.Background(), sunset.Add(time.Duration(i)*time.Minute), loc)
		assert.Equal(t, FetchFailed, out.Kind)
		assert.ErrorIs(t, out.Err, sunsetclient.ErrNetwork)
		assert.Equal(t, before, s.State())
	}
	assert.Len(t, n.sunsets, 1)
}

func TestFetchFailureThenRecovery(t *testing.T) {
	sunset := t0.Add(time.Hour)
	failing := true
	src := &stubSource{fn: func(bool) (time.Time, error) {
		if failing {
			return time.Time{}, &sunsetclient.FetchError{Kind: sunsetclient.KindDecode}
		}
		return sunset, nil
	}}
	s, _ := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)

	out := s.Poll(context.Background(), t0, loc)
	assert.Equal(t, FetchFailed, out.Kind)
	assert.ErrorIs(t, out.Err, sunsetclient.ErrDecode)
	assert.Nil(t, s.State().Pending)

	failing = false
	out = s.Poll(context.Background(), t0.Add(30*time.Second), loc)
	assert.Equal(t, Outcome{Kind: Armed, Sunset: sunset}, out)
}

func TestUntypedErrorsBecomeNetworkErrors(t *testing.T) {
	src := &stubSource{fn: func(bool) (time.Time, error) { return time.Time{}, context.DeadlineExceeded }}
	s, _ := newTestScheduler(src)

	out := s.Poll(context.Background(), t0, mustLocation(t, 51.5, -0.1))
	assert.Equal(t, FetchFailed, out.Kind)
	assert.ErrorIs(t, out.Err, sunsetclient.ErrNetwork)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestInvalidLocationWaits(t *testing.T) {
	src := &stubSource{fn: always(t0.Add(time.Hour))}
	s, _ := newTestScheduler(src)

	out := s.Poll(context.Background(), t0, geo.Location{})
	assert.Equal(t, Outcome{Kind: WaitingForLocation}, out)
	assert.Empty(t, src.reset())
}

func TestLocationChangeDiscardsState(t *testing.T) {
	sunset := t0.Add(time.Hour)
	src := &stubSource{fn: always(sunset)}
	s, n := newTestScheduler(src)
	london := mustLocation(t, 51.5, -0.1)
	paris := mustLocation(t, 48.85, 2.35)

	require.Equal(t, Armed, s.Poll(context.Background(), t0, london).Kind)
	require.Equal(t, Fired, s.Poll(context.Background(), sunset, london).Kind)
	require.Equal(t, sunset, s.State().FiredFor)
	src.reset()

	// The same instant at a new location is a new event.
	src.fn = always(sunset.Add(time.Minute))
	out := s.Poll(context.Background(), sunset, paris)
	assert.Equal(t, Outcome{Kind: Armed, Sunset: sunset.Add(time.Minute)}, out)
	assert.Equal(t, []fetchCall{{paris, false}}, src.reset())

	st := s.State()
	assert.Equal(t, paris, st.Location)
	assert.True(t, st.FiredFor.IsZero())

	out = s.Poll(context.Background(), sunset.Add(2*time.Minute), paris)
	assert.Equal(t, Fired, out.Kind)
	assert.Len(t, n.sunsets, 2)
}

func TestLocationChangeWhileArmedRefetches(t *testing.T) {
	src := &stubSource{fn: always(t0.Add(time.Hour))}
	s, _ := newTestScheduler(src)
	london := mustLocation(t, 51.5, -0.1)
	paris := mustLocation(t, 48.85, 2.35)

	s.Poll(context.Background(), t0, london)
	src.reset()
	s.Poll(context.Background(), t0.Add(time.Second), paris)
	assert.Equal(t, []fetchCall{{paris, false}}, src.reset())
}

func TestAlreadyFiredPendingRollsOver(t *testing.T) {
	sunset := t0.Add(-time.Minute)
	next := t0.Add(24 * time.Hour)
	src := &stubSource{fn: always(next)}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)

	s.state = State{
		Location: loc,
		Pending:  &sunsetclient.Info{Sunset: sunset},
		FiredFor: sunset,
	}

	out := s.Poll(context.Background(), t0, loc)
	assert.Equal(t, Outcome{Kind: Rollover, Sunset: next}, out)
	assert.Equal(t, []fetchCall{{loc, true}}, src.reset())
	assert.Empty(t, n.sunsets)
	require.NotNil(t, s.State().Pending)
	assert.Equal(t, next, s.State().Pending.Sunset)
}

func TestAlreadyFiredPendingRolloverFailure(t *testing.T) {
	sunset := t0.Add(-time.Minute)
	src := &stubSource{fn: func(bool) (time.Time, error) {
		return time.Time{}, &sunsetclient.FetchError{Kind: sunsetclient.KindNetwork}
	}}
	s, n := newTestScheduler(src)
	loc := mustLocation(t, 51.5, -0.1)
	s.state = State{Location: loc, Pending: &sunsetclient.Info{Sunset: sunset}, FiredFor: sunset}

	out := s.Poll(context.Background(), t0, loc)
	assert.Equal(t, Rollover, out.Kind)
	assert.ErrorIs(t, out.Err, sunsetclient.ErrNetwork)
	assert.Nil(t, s.State().Pending)
	assert.Empty(t, n.sunsets)
}

func TestNotifierErrorStillMarksDelivered(t *testing.T) {
	sunset := t0.Add(time.Minute)
	src := &stubSource{fn: always(sunset)}
	n := &recordingNotifier{err: errors.New("no notification daemon")}
	s := New(Options{Source: src, Notifier: n})
	loc := mustLocation(t, 51.5, -0.1)

	s.Poll(context.Background(), t0, loc)
	out := s.Poll(context.Background(), sunset, loc)
	assert.Equal(t, Fired, out.Kind)
	assert.ErrorContains(t, out.Err, "no notification daemon")
	assert.Equal(t, sunset, s.State().FiredFor)

	s.Poll(context.Background(), sunset.Add(time.Second), loc)
	assert.Len(t, n.sunsets, 1)
}

func TestFetchCarriesTimeout(t *testing.T) {
	src := &deadlineSource{}
	s := New(Options{Source: src, FetchTimeout: 5 * time.Second})

	s.Poll(context.Background(), t0, mustLocation(t, 51.5, -0.1))
	require.True(t, src.hadDeadline)
}

type deadlineSource struct {
	hadDeadline bool
}

func (d *deadlineSource) FetchSunset(ctx context.Context, _ geo.Location, _ bool) (sunsetclient.Info, error) {
	_, d.hadDeadline = ctx.Deadline()
	return sunsetclient.Info{Sunset: t0.Add(time.Hour)}, nil
}

func TestConcurrentPollsAreSerialized(t *testing.T) {
	sunset := t0.Add(time.Minute)
	src := &stubSource{fn: always(sunset)}
	var mu sync.Mutex
	alerts := 0
	s := New(Options{Source: src, Notifier: NotifierFunc(func(context.Context, time.Time) error {
		mu.Lock()
		alerts++
		mu.Unlock()
		return nil
	})})
	loc := mustLocation(t, 51.5, -0.1)
	s.Poll(context.Background(), t0, loc)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Poll(context.Background(), sunset.Add(time.Second), loc)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, alerts)
}

func TestOutcomeString(t *testing.T) {
	out := Outcome{Kind: Armed, Sunset: t0}
	assert.Equal(t, "armed 2024-06-21T20:00:00Z", out.String())
	out = Outcome{Kind: FetchFailed, Err: errors.New("boom")}
	assert.Equal(t, "fetch failed: boom", out.String())
}
