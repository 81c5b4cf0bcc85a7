// Package assemble wraps extracted polygons into a GeoJSON feature collection.
package assemble

import (
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/farm-segmentation/internal/polygon"
)

// CRSName is the named CRS declared on every collection.
const CRSName = "urn:ogc:def:crs:EPSG::4326"

// Meta is attached to every feature alongside area_m2.
type Meta struct {
	Confidence float64
	Selection  string
	H3Cell     string
}

// FeatureCollection builds the response body. Empty input yields a
// collection with an empty features list.
func FeatureCollection(polys []polygon.Polygon, meta Meta) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": CRSName},
		},
	}

	for _, p := range polys {
		f := geojson.NewFeature(p.Geometry)
		if p.AreaM2 != nil {
			f.Properties["area_m2"] = *p.AreaM2
		} else {
			f.Properties["area_m2"] = nil
		}
		f.Properties["confidence"] = meta.Confidence
		if meta.Selection != "" {
			f.Properties["selection"] = meta.Selection
		}
		if meta.H3Cell != "" {
			f.Properties["h3_cell"] = meta.H3Cell
		}
		fc.Append(f)
	}
	return fc
}

// AreaM2 returns the area of the first feature, if present and numeric.
func AreaM2(fc *geojson.FeatureCollection) (float64, bool) {
	if fc == nil || len(fc.Features) == 0 {
		return 0, false
	}
	v, ok := fc.Features[0].Properties["area_m2"].(float64)
	return v, ok
}
