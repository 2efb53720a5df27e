package sunsetclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

const okBody = `{
  "results": {
    "sunrise": "2024-06-21T03:43:12+00:00",
    "sunset": "2024-06-21T20:21:40+00:00",
    "solar_noon": "2024-06-21T12:02:26+00:00",
    "day_length": 59308
  },
  "status": "OK"
}`

func london(t *testing.T) geo.Location {
	t.Helper()
	loc, err := geo.New(51.5, -0.1)
	require.NoError(t, err)
	return loc
}

func TestFetchSunsetToday(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"lat":       q.Get("lat"),
			"lng":       q.Get("lng"),
			"formatted": q.Get("formatted"),
			"date":      q.Get("date"),
		}
		fmt.Fprint(w, okBody)
	}))
	defer srv.Close()

	client := New(WithEndpoint(srv.URL))
	info, err := client.FetchSunset(context.Background(), london(t), false)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 21, 20, 21, 40, 0, time.UTC), info.Sunset)
	assert.False(t, info.ForTomorrow)
	assert.Equal(t, map[string]string{"lat": "51.5", "lng": "-0.1", "formatted": "0", "date": "today"}, gotQuery)
}

func TestFetchSunsetTomorrow(t *testing.T) {
	var date string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date = r.URL.Query().Get("date")
		fmt.Fprint(w, okBody)
	}))
	defer srv.Close()

	info, err := New(WithEndpoint(srv.URL)).FetchSunset(context.Background(), london(t), true)
	require.NoError(t, err)
	assert.True(t, info.ForTomorrow)
	assert.Equal(t, "tomorrow", date)
}

func TestFetchSunsetBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(WithEndpoint(srv.URL)).FetchSunset(context.Background(), london(t), false)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindBadStatus, fe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, fe.Code)
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Contains(t, err.Error(), "slow down")
}

func TestFetchSunsetDecodeFailures(t *testing.T) {
	cases := map[string]string{
		"malformed":       `{"results":`,
		"status not ok":   `{"results":{"sunset":"2024-06-21T20:21:40+00:00"},"status":"INVALID_REQUEST"}`,
		"missing sunset":  `{"results":{},"status":"OK"}`,
		"bad timestamp":   `{"results":{"sunset":"8:21:40 PM"},"status":"OK"}`,
		"sun never sets":  `{"results":{"sunset":"1970-01-01T00:00:01+00:00"},"status":"OK"}`,
		"unexpected type": `[]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			_, err := New(WithEndpoint(srv.URL)).FetchSunset(context.Background(), london(t), false)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestFetchSunsetNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := New(WithEndpoint(endpoint)).FetchSunset(context.Background(), london(t), false)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetchSunsetTimeoutIsNetwork(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(WithEndpoint(srv.URL)).FetchSunset(ctx, london(t), false)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(WithEndpoint(srv.URL))
	for i := 0; i < 6; i++ {
		_, err := client.FetchSunset(context.Background(), london(t), false)
		require.ErrorIs(t, err, ErrBadStatus)
	}

	_, err := client.FetchSunset(context.Background(), london(t), false)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(6), hits.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(WithEndpoint(srv.URL))
	for i := 0; i < 10; i++ {
		_, err := client.FetchSunset(context.Background(), london(t), false)
		require.ErrorIs(t, err, ErrBadStatus)
	}
	assert.Equal(t, int32(10), hits.Load())
}

func TestFetchErrorMessages(t *testing.T) {
	assert.Equal(t, "sunset lookup failed (bad status 503)", (&FetchError{Kind: KindBadStatus, Code: 503}).Error())
	assert.Equal(t, "sunset lookup failed (decode): boom", (&FetchError{Kind: KindDecode, Err: errors.New("boom")}).Error())
	assert.False(t, errors.Is(&FetchError{Kind: KindDecode}, ErrNetwork))
}
