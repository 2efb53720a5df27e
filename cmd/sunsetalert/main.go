package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"github.com/nateberkopec/sunsetalert/internal/app"
	"github.com/nateberkopec/sunsetalert/internal/config"
	"github.com/nateberkopec/sunsetalert/internal/geo"
	"github.com/nateberkopec/sunsetalert/internal/notify"
	"github.com/nateberkopec/sunsetalert/internal/persistence"
	"github.com/nateberkopec/sunsetalert/internal/scheduler"
	"github.com/nateberkopec/sunsetalert/internal/sunsetclient"
	"github.com/nateberkopec/sunsetalert/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var headless, once bool
	flag.StringVar(&cfg.Latitude, "lat", cfg.Latitude, "latitude in decimal degrees")
	flag.StringVar(&cfg.Longitude, "lng", cfg.Longitude, "longitude in decimal degrees")
	flag.StringVar(&cfg.PlaceName, "place", cfg.PlaceName, "display name for the location")
	flag.DurationVar(&cfg.PollInterval, "interval", cfg.PollInterval, "how often to check the sunset time")
	flag.StringVar(&cfg.Source, "source", cfg.Source, "sunset source: api or solar")
	flag.BoolVar(&cfg.Bell, "bell", cfg.Bell, "ring the terminal bell at sunset")
	flag.BoolVar(&cfg.Sound, "sound", cfg.Sound, "play the notification sound at sunset")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.BoolVar(&headless, "headless", false, "run without the terminal UI")
	flag.BoolVar(&once, "once", false, "poll once, print the outcome and exit")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := persistence.DefaultStore()
	if err != nil {
		return err
	}

	logOut, closeLog, err := logDestination(headless || once, store.Dir())
	if err != nil {
		return err
	}
	defer closeLog()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	settings, err := store.Load()
	if err != nil {
		logger.Warn("ignoring saved settings", "error", err)
		settings = persistence.Settings{}
	}

	loc, place, err := resolveLocation(cfg, settings)
	if err != nil {
		return err
	}

	desktop := notify.NewDesktop(logger)
	desktop.Silent = !cfg.Sound
	sched := scheduler.New(scheduler.Options{
		Source:       newSource(cfg, logger),
		Notifier:     desktop,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       logger,
	})

	switch {
	case once:
		return pollOnce(sched, loc, place)
	case headless:
		return runHeadless(sched, loc, cfg.PollInterval, logger)
	}

	if cfg.HasLocation() {
		settings.Remember(loc, place)
	}
	program := tea.NewProgram(
		app.New(app.Config{
			Scheduler:    sched,
			Store:        store,
			Settings:     settings,
			Location:     loc,
			PlaceName:    place,
			PollInterval: cfg.PollInterval,
			BellEnabled:  cfg.Bell,
			Logger:       logger,
		}),
		tea.WithAltScreen(),
	)
	_, err = program.Run()
	return err
}

func newSource(cfg *config.Config, logger *slog.Logger) sunsetclient.Source {
	if cfg.Source == config.SourceSolar {
		return sunsetclient.NewSolar()
	}
	client := sunsetclient.New(
		sunsetclient.WithEndpoint(cfg.Endpoint),
		sunsetclient.WithTimeout(cfg.FetchTimeout),
		sunsetclient.WithLogger(logger),
	)
	return sunsetclient.NewCached(client, cfg.CacheTTL, logger)
}

// resolveLocation prefers flags and environment, then the last location
// chosen in the UI.
func resolveLocation(cfg *config.Config, settings persistence.Settings) (geo.Location, string, error) {
	if cfg.HasLocation() {
		loc, err := cfg.Location()
		return loc, cfg.PlaceName, err
	}
	if settings.Current != nil {
		if loc, err := settings.Current.Location(); err == nil {
			return loc, settings.Current.PlaceName, nil
		}
	}
	return geo.Location{}, "", nil
}

// logDestination sends logs to stderr for the line-oriented modes and to a
// file next to the settings while the UI owns the terminal.
func logDestination(toStderr bool, dir string) (io.Writer, func(), error) {
	if toStderr {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "sunsetalert.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func runHeadless(sched *scheduler.Scheduler, loc geo.Location, interval time.Duration, logger *slog.Logger) error {
	if !loc.Valid() {
		return errors.New("headless mode needs a location: pass -lat and -lng or set SUNSETALERT_LAT and SUNSETALERT_LNG")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &watch.Runner{
		Scheduler: sched,
		Location:  loc,
		Interval:  interval,
		Logger:    logger,
	}
	return runner.Run(ctx)
}

func pollOnce(sched *scheduler.Scheduler, loc geo.Location, place string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	label := loc.String()
	if place != "" {
		label = fmt.Sprintf("%s (%s)", place, label)
	}

	outcome := sched.Poll(ctx, time.Now(), loc)
	switch outcome.Kind {
	case scheduler.FetchFailed:
		color.Red("%s: %v", label, outcome.Err)
		return outcome.Err
	case scheduler.Armed, scheduler.Rollover:
		if outcome.Sunset.IsZero() {
			color.Yellow("%s: %s", label, outcome)
			return outcome.Err
		}
		color.Green("%s: sunset at %s", label, outcome.Sunset.Local().Format("Mon 15:04 MST"))
	case scheduler.Fired:
		color.Magenta("%s: it's sunset!", label)
	default:
		color.Yellow("%s: %s", label, outcome)
	}
	return nil
}
