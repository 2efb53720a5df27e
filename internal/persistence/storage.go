package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

const (
	settingsVersion = 1
	maxRecent       = 10
	settingsFile    = "settings.json"
)

// SavedLocation is a location as the user last entered it.
type SavedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	PlaceName string  `json:"place_name,omitempty"`
}

// Location validates the saved coordinates.
func (s SavedLocation) Location() (geo.Location, error) {
	return geo.New(s.Latitude, s.Longitude)
}

// Settings is everything remembered between runs.
type Settings struct {
	Current *SavedLocation  `json:"current,omitempty"`
	Recent  []SavedLocation `json:"recent"`
}

// Remember makes loc the current location and moves it to the front of the
// recent list.
func (s *Settings) Remember(loc geo.Location, placeName string) {
	entry := SavedLocation{Latitude: loc.Latitude, Longitude: loc.Longitude, PlaceName: placeName}
	s.Current = &entry

	recent := []SavedLocation{entry}
	for _, r := range s.Recent {
		if r.Latitude == entry.Latitude && r.Longitude == entry.Longitude {
			continue
		}
		recent = append(recent, r)
	}
	if len(recent) > maxRecent {
		recent = recent[:maxRecent]
	}
	s.Recent = recent
}

type settingsData struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Settings
}

// Store reads and writes settings below a directory of fs.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// DefaultStore uses the real filesystem and DataDir.
func DefaultStore() (*Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return NewStore(afero.NewOsFs(), dir), nil
}

// DataDir is $XDG_DATA_HOME/sunsetalert, defaulting to ~/.local/share.
func DataDir() (string, error) {
	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		xdgData = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(xdgData, "sunsetalert"), nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path() string {
	return filepath.Join(s.dir, settingsFile)
}

// Save writes settings atomically.
func (s *Store) Save(settings Settings) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(settingsData{
		Version:  settingsVersion,
		SavedAt:  time.Now(),
		Settings: settings,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	path := s.path()
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads settings. A missing file yields empty settings.
func (s *Store) Load() (Settings, error) {
	data, err := afero.ReadFile(s.fs, s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var stored settingsData
	if err := json.Unmarshal(data, &stored); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if stored.Version != settingsVersion {
		return Settings{}, fmt.Errorf("unsupported settings version: %d", stored.Version)
	}
	return stored.Settings, nil
}
