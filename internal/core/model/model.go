// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
)

// MaxMercatorLat is the latitude limit of the web-mercator tile grid.
const MaxMercatorLat = 85.05112878

type GeoPoint struct {
	Lat float64
	Lon float64
}

func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return errors.New("coordinates must be finite numbers")
	}
	if p.Lat < -MaxMercatorLat || p.Lat > MaxMercatorLat {
		return fmt.Errorf("latitude must be in [-%.4f,%.4f] (got %g)", MaxMercatorLat, MaxMercatorLat, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude must be in [-180,180] (got %g)", p.Lon)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// TileRequest is handed to both the fetcher and the geocoder so that the
// image and its bbox always agree on zoom and size.
type TileRequest struct {
	Center GeoPoint
	Zoom   int
	SizePx int
}

// Prompt returns the tile's center pixel.
func (t TileRequest) Prompt() PixelPoint {
	return PixelPoint{X: t.SizePx / 2, Y: t.SizePx / 2}
}

type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// String is minLon,minLat,maxLon,maxLat,EPSG:4326, used in log lines.
func (b BBox) String() string {
	return fmt.Sprintf("%.8f,%.8f,%.8f,%.8f,EPSG:4326", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func (b BBox) Center() GeoPoint {
	return GeoPoint{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// PixelPoint is a column/row position inside a tile.
type PixelPoint struct {
	X int
	Y int
}
