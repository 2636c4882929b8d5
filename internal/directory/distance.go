package directory

import (
	"fmt"
	"time"

	"github.com/golang/geo/s2"

	"meshmon/internal/model"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between two positions. ok is
// false when either side lacks a coordinate.
func DistanceKm(a, b model.Position) (km float64, ok bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	p := s2.LatLngFromDegrees(*a.Latitude, *a.Longitude)
	q := s2.LatLngFromDegrees(*b.Latitude, *b.Longitude)
	return p.Distance(q).Radians() * earthRadiusKm, true
}

// FormatUptime renders seconds as HH:MM:SS, prefixed with "N days, " once
// the value reaches a full day.
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	days := seconds / 86400
	rem := d - time.Duration(days)*24*time.Hour
	hms := fmt.Sprintf("%02d:%02d:%02d", int(rem.Hours()), int(rem.Minutes())%60, int(rem.Seconds())%60)
	if days > 0 {
		return fmt.Sprintf("%d days, %s", days, hms)
	}
	return hms
}
