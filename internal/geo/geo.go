package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const (
	EarthRadiusM = 6371000.0 // Mean earth radius in meters
	MetersPerNM  = 1852.0
	NMPerDegLat  = 60.0
)

// BBox is a geographic bounding box in decimal degrees.
// Value object: all methods return new boxes, never mutate.
type BBox struct {
	LatMin float64 `json:"lat_min"`
	LonMin float64 `json:"lon_min"`
	LatMax float64 `json:"lat_max"`
	LonMax float64 `json:"lon_max"`
}

// Width returns the longitudinal extent in degrees
func (b BBox) Width() float64 {
	return b.LonMax - b.LonMin
}

// Height returns the latitudinal extent in degrees
func (b BBox) Height() float64 {
	return b.LatMax - b.LatMin
}

// IsFinite reports whether every bound is a finite number
func (b BBox) IsFinite() bool {
	for _, v := range []float64{b.LatMin, b.LonMin, b.LatMax, b.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks that the box is finite and not inverted. A
// zero-area box is valid: it covers a single point and fetches as a
// single tile.
func (b BBox) Validate() error {
	if !b.IsFinite() {
		return fmt.Errorf("bounding box contains non-finite values")
	}
	if b.LatMin > b.LatMax {
		return fmt.Errorf("lat_min (%f) must not exceed lat_max (%f)", b.LatMin, b.LatMax)
	}
	if b.LonMin > b.LonMax {
		return fmt.Errorf("lon_min (%f) must not exceed lon_max (%f)", b.LonMin, b.LonMax)
	}
	return nil
}

// Clamped returns the box limited to valid geographic coordinates
// (latitude [-90, 90], longitude [-180, 180])
func (b BBox) Clamped() BBox {
	return BBox{
		LatMin: clamp(b.LatMin, -90, 90),
		LonMin: clamp(b.LonMin, -180, 180),
		LatMax: clamp(b.LatMax, -90, 90),
		LonMax: clamp(b.LonMax, -180, 180),
	}
}

// Contains reports whether the given point lies within the box (inclusive)
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Key returns a canonical cache key for the box. Bounds are rounded to
// three decimals (~110m at the equator) so visually identical requests
// map to the same cache entry.
func (b BBox) Key() string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", b.LatMin, b.LonMin, b.LatMax, b.LonMax)
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.4f,%.4f -> %.4f,%.4f]", b.LatMin, b.LonMin, b.LatMax, b.LonMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Haversine returns the great-circle distance in meters between two points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// MetersToNM converts meters to nautical miles
func MetersToNM(meters float64) float64 {
	return meters / MetersPerNM
}

// DestinationPoint returns the point reached by travelling distanceNM from
// (lat, lon) along the given true bearing in degrees.
// Uses the flat-approximation that 1 degree of latitude is 60 NM, which is
// plenty for short dead-reckoning steps.
func DestinationPoint(lat, lon, bearingDeg, distanceNM float64) (float64, float64) {
	// Aviation heading (0=N, clockwise) to math angle (0=E, counterclockwise)
	headingRad := (90 - bearingDeg) * math.Pi / 180

	latChange := distanceNM * math.Sin(headingRad) / NMPerDegLat
	lonChange := distanceNM * math.Cos(headingRad) / (NMPerDegLat * math.Cos(lat*math.Pi/180))

	return lat + latChange, lon + lonChange
}

// NormalizeHeading normalizes a heading in degrees into [0, 360)
func NormalizeHeading(heading float64) float64 {
	h := math.Mod(heading, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// HeadingDiff returns the signed shortest angular difference from one
// heading to another, normalized into [-180, 180]
func HeadingDiff(from, to float64) float64 {
	diff := to - from
	for diff > 180 {
		diff -= 360
	}
	for diff < -180 {
		diff += 360
	}
	return diff
}

// MagneticVariation returns the magnetic declination in degrees (+East,
// -West) for the given position and time
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt * 0.3048

	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Return 0 for safety if calculation fails
		return 0.0
	}

	return mag.D()
}
