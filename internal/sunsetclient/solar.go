package sunsetclient

import (
	"context"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/nateberkopec/sunsetalert/internal/geo"
)

// Solar computes sunset locally instead of asking the time service. It honors
// the same contract as Client.FetchSunset.
type Solar struct {
	now func() time.Time
}

// NewSolar returns an offline sunset source using the wall clock.
func NewSolar() *Solar {
	return &Solar{now: time.Now}
}

func (s *Solar) FetchSunset(ctx context.Context, loc geo.Location, forTomorrow bool) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, networkError(err)
	}

	day := solarDate(s.now(), loc.Longitude)
	if forTomorrow {
		day = day.AddDate(0, 0, 1)
	}
	_, set := sunrise.SunriseSunset(loc.Latitude, loc.Longitude, day.Year(), day.Month(), day.Day())
	if set.IsZero() {
		return Info{}, decodeError("no sunset at %s on %s", loc, day.Format(time.DateOnly))
	}
	return Info{Sunset: set.UTC(), ForTomorrow: forTomorrow}, nil
}

// solarDate approximates the calendar date at the given longitude by shifting
// UTC one hour per 15 degrees.
func solarDate(now time.Time, longitude float64) time.Time {
	return now.UTC().Add(time.Duration(longitude / 15 * float64(time.Hour)))
}
