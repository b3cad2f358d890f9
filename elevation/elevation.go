// Package elevation looks up the elevations of geographic points from a remote
// elevation service, batching points into as few requests as possible.
package elevation

import "context"

// A Point is a geographic coordinate.
type Point struct {
	X float64 // Longitude.
	Y float64 // Latitude.
}

// An Elevator returns the elevations of points, in the same order as points.
type Elevator interface {
	Elevate(ctx context.Context, points []Point) ([]float64, error)
}
