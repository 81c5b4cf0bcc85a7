// Package geo converts tile requests into geographic extents.
package geo

import (
	"math"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
)

const (
	EarthCircumferenceMeters = 40075016.686
	BaseTileSizePx           = 256.0
	MetersPerDegreeLat       = 111320.0
)

// MetersPerPixel is the web-mercator ground resolution at lat/zoom.
func MetersPerPixel(lat float64, zoom int) float64 {
	return math.Cos(lat*math.Pi/180) * EarthCircumferenceMeters / (math.Exp2(float64(zoom)) * BaseTileSizePx)
}

// ComputeBoundingBox returns the extent of a widthPx x heightPx image
// centered on center. It is a flat-earth approximation and is only
// meaningful for small tiles away from the poles.
func ComputeBoundingBox(center model.GeoPoint, zoom, widthPx, heightPx int) model.BBox {
	mpp := MetersPerPixel(center.Lat, zoom)
	halfW := float64(widthPx) / 2 * mpp
	halfH := float64(heightPx) / 2 * mpp

	dLat := halfH / MetersPerDegreeLat
	dLon := halfW / (MetersPerDegreeLat * math.Cos(center.Lat*math.Pi/180))

	return model.BBox{
		MinLon: center.Lon - dLon,
		MinLat: center.Lat - dLat,
		MaxLon: center.Lon + dLon,
		MaxLat: center.Lat + dLat,
	}
}

// TileBBox is ComputeBoundingBox for a square tile request.
func TileBBox(t model.TileRequest) model.BBox {
	return ComputeBoundingBox(t.Center, t.Zoom, t.SizePx, t.SizePx)
}

// TileSideMeters is the ground length of one tile edge.
func TileSideMeters(t model.TileRequest) float64 {
	return float64(t.SizePx) * MetersPerPixel(t.Center.Lat, t.Zoom)
}
