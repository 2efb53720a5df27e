package sunsetclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

// Source is anything that can look up a sunset instant.
type Source interface {
	FetchSunset(ctx context.Context, loc geo.Location, forTomorrow bool) (Info, error)
}

// Cached remembers successful lookups for a while so repeated polls do not hit
// the upstream service. Failed lookups are never cached.
type Cached struct {
	source Source
	cache  *otter.Cache[string, Info]
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// NewCached wraps source with an in-memory cache whose entries expire ttl
// after they are written.
func NewCached(source Source, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache := otter.Must(&otter.Options[string, Info]{
		MaximumSize:      1_000,
		ExpiryCalculator: otter.ExpiryWriting[string, Info](ttl),
	})
	return &Cached{
		source: source,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
}

func (c *Cached) FetchSunset(ctx context.Context, loc geo.Location, forTomorrow bool) (Info, error) {
	key := c.key(loc, forTomorrow)
	if info, ok := c.cache.GetIfPresent(key); ok {
		c.logger.Debug("sunset cache hit", "key", key)
		return info, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		info, err := c.source.FetchSunset(ctx, loc, forTomorrow)
		if err != nil {
			return Info{}, err
		}
		c.cache.Set(key, info)
		return info, nil
	})
	if err != nil {
		return Info{}, err
	}
	c.logger.Debug("sunset cache miss", "key", key, "shared", shared)
	return v.(Info), nil
}

// The UTC date is part of the key so "today" never outlives the day it was
// fetched on.
func (c *Cached) key(loc geo.Location, forTomorrow bool) string {
	day := "today"
	if forTomorrow {
		day = "tomorrow"
	}
	lat, lng := loc.Query()
	return fmt.Sprintf("%s,%s/%s/%s", lat, lng, c.now().UTC().Format(time.DateOnly), day)
}
