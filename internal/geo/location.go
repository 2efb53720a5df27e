package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Location is a point on the globe in decimal degrees. The zero value is not a
// valid location; build one with New or Parse.
type Location struct {
	Latitude  float64
	Longitude float64
	valid     bool
}

// ErrMissingCoordinate is returned by Parse when either component is blank.
var ErrMissingCoordinate = errors.New("latitude and longitude are both required")

// New validates the coordinates and returns a Location.
func New(lat, lng float64) (Location, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return Location{}, fmt.Errorf("longitude %v out of range [-180, 180]", lng)
	}
	return Location{Latitude: lat, Longitude: lng, valid: true}, nil
}

// Parse converts user provided latitude and longitude strings into a Location.
func Parse(lat, lng string) (Location, error) {
	lat = strings.TrimSpace(lat)
	lng = strings.TrimSpace(lng)
	if lat == "" || lng == "" {
		return Location{}, ErrMissingCoordinate
	}

	latVal, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q", lat)
	}
	lngVal, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q", lng)
	}
	return New(latVal, lngVal)
}

// Valid reports whether the location may be used to query a time source.
func (l Location) Valid() bool {
	return l.valid
}

func (l Location) String() string {
	if !l.valid {
		return "unset"
	}
	return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
}

// Query returns the coordinates formatted for use as URL query values.
func (l Location) Query() (lat, lng string) {
	return strconv.FormatFloat(l.Latitude, 'f', -1, 64), strconv.FormatFloat(l.Longitude, 'f', -1, 64)
}
