package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/gen2brain/beeep"
	"github.com/google/uuid"
)

const (
	defaultTitle   = "Sunset Alert"
	defaultMessage = "It's sunset!"
)

// Swapped out in tests so no real notification is shown.
var (
	alertFunc  = func(title, message string) error { return beeep.Alert(title, message, "") }
	notifyFunc = func(title, message string) error { return beeep.Notify(title, message, "") }
)

// Desktop shows a system notification when the sun sets. Alert uses the
// platform notification sound unless Silent is set.
type Desktop struct {
	Title    string
	Message  string
	Silent   bool
	Location *time.Location
	Attempts uint
	Delay    time.Duration
	Logger   *slog.Logger
}

// NewDesktop returns a notifier with the default wording and three delivery
// attempts.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{
		Title:    defaultTitle,
		Message:  defaultMessage,
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		Logger:   logger,
	}
}

// Notify shows one alert for sunset. Transient failures of the notification
// daemon are retried; the returned error is the last failure.
func (d *Desktop) Notify(ctx context.Context, sunset time.Time) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := d.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := d.Delay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	id := uuid.NewString()
	title := firstNonEmpty(d.Title, defaultTitle)
	message := fmt.Sprintf("%s (%s)", firstNonEmpty(d.Message, defaultMessage), d.localTime(sunset).Format("15:04 MST"))
	send := alertFunc
	if d.Silent {
		send = notifyFunc
	}

	err := retry.Do(
		func() error {
			return send(title, message)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("retrying sunset alert", "alert_id", id, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	logger.Info("sunset alert shown", "alert_id", id, "sunset", sunset, "silent", d.Silent)
	return nil
}

func (d *Desktop) localTime(t time.Time) time.Time {
	if d.Location != nil {
		return t.In(d.Location)
	}
	return t.Local()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
