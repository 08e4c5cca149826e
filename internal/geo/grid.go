// Package geo generates sub-location grids for location fan-out.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// String renders the point in the "lat,lng" form search URLs expect.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Grid returns the center plus concentric rings of points covering a circle
// of the given radius. Ring r carries 6*r points, the hexagonal packing that
// keeps neighboring cells roughly equidistant.
func Grid(center Point, radiusMeters float64, rings int) []Point {
	points := []Point{center}
	if rings <= 0 || radiusMeters <= 0 {
		return points
	}
	step := radiusMeters / float64(rings)
	for r := 1; r <= rings; r++ {
		count := 6 * r
		dist := step * float64(r)
		for i := 0; i < count; i++ {
			bearing := 2 * math.Pi * float64(i) / float64(count)
			points = append(points, offset(center, dist, bearing))
		}
	}
	return points
}

// Distance returns the haversine distance between two points in meters.
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	latA := toRad(a.Lat)
	latB := toRad(b.Lat)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// offset projects a point along a bearing (radians, clockwise from north).
func offset(p Point, distMeters, bearing float64) Point {
	angular := distMeters / earthRadiusMeters
	lat1 := toRad(p.Lat)
	lng1 := toRad(p.Lng)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Point{Lat: toDeg(lat2), Lng: toDeg(lng2)}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
