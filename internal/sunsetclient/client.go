package sunsetclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

// DefaultEndpoint is the public sunrise-sunset.org JSON API.
const DefaultEndpoint = "https://api.sunrise-sunset.org/json"

const maxBodySize = 1 << 20

// Info is the result of a successful sunset lookup.
type Info struct {
	Sunset      time.Time
	ForTomorrow bool
}

// Client talks to the sunrise-sunset time service. It keeps no scheduling
// state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	endpoint   string
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint points the client at a different service URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if strings.TrimSpace(endpoint) != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[[]byte]) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// New creates a time service client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		endpoint: DefaultEndpoint,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker("sunrise-sunset", c.logger)
	}
	return c
}

// NewBreaker builds the circuit breaker used by New. It opens after more than
// five consecutive failures and probes again after 30 seconds.
func NewBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("time service circuit changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Client errors such as 400 mean the request was wrong, not that the service is
// unhealthy.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindBadStatus {
		return fe.Code >= 400 && fe.Code < 500 && fe.Code != http.StatusTooManyRequests
	}
	return false
}

// FetchSunset returns the sunset instant for today, or for the next calendar
// day when forTomorrow is set. The location must be valid.
func (c *Client) FetchSunset(ctx context.Context, loc geo.Location, forTomorrow bool) (Info, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, loc, forTomorrow)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return Info{}, fe
		}
		return Info{}, networkError(err)
	}

	sunset, err := decodeSunset(body)
	if err != nil {
		return Info{}, err
	}
	c.logger.Debug("fetched sunset", "location", loc.String(), "tomorrow", forTomorrow, "sunset", sunset)
	return Info{Sunset: sunset, ForTomorrow: forTomorrow}, nil
}

func (c *Client) get(ctx context.Context, loc geo.Location, forTomorrow bool) ([]byte, error) {
	req, err := c.newRequest(ctx, loc, forTomorrow)
	if err != nil {
		return nil, networkError(err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		fe := &FetchError{Kind: KindBadStatus, Code: res.StatusCode}
		if msg := strings.TrimSpace(string(body)); msg != "" {
			fe.Err = errors.New(msg)
		}
		return nil, fe
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, networkError(err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, loc geo.Location, forTomorrow bool) (*http.Request, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	lat, lng := loc.Query()
	q := u.Query()
	q.Set("lat", lat)
	q.Set("lng", lng)
	q.Set("formatted", "0")
	if forTomorrow {
		q.Set("date", "tomorrow")
	} else {
		q.Set("date", "today")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sunsetalert")
	return req, nil
}

func decodeSunset(body []byte) (time.Time, error) {
	var payload sunsetResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return time.Time{}, &FetchError{Kind: KindDecode, Err: err}
	}
	if payload.Status != "OK" {
		return time.Time{}, decodeError("service status %q", payload.Status)
	}
	if payload.Results.Sunset == "" {
		return time.Time{}, decodeError("response has no sunset")
	}
	sunset, err := time.Parse(time.RFC3339, payload.Results.Sunset)
	if err != nil {
		return time.Time{}, decodeError("parse sunset %q: %w", payload.Results.Sunset, err)
	}
	// The service reports the epoch when the sun does not set that day.
	if sunset.Unix() <= 1 {
		return time.Time{}, decodeError("no sunset on the requested day")
	}
	return sunset.UTC(), nil
}

type sunsetResponse struct {
	Results sunsetResults `json:"results"`
	Status  string        `json:"status"`
}

type sunsetResults struct {
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	SolarNoon string `json:"solar_noon"`
	DayLength int    `json:"day_length"`
}

func (i Info) String() string {
	day := "today"
	if i.ForTomorrow {
		day = "tomorrow"
	}
	return fmt.Sprintf("%s (%s)", i.Sunset.Format(time.RFC3339), day)
}
