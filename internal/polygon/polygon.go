// Package polygon turns a boolean mask into geographic polygons.
//
// Foreground regions are 8-connected; holes are the 4-connected background
// regions they enclose. Boundaries run along pixel edges, so every vertex
// sits on a pixel corner. Rings follow RFC 7946 winding: outer rings are
// counter-clockwise in lon/lat, holes clockwise.
//
// Rings never cross or overlap themselves, but a ring may touch itself at a
// saddle corner where two foreground pixels meet diagonally (and a hole may
// touch its outer ring the same way). OGC simple-feature validity, as checked
// by GEOS is_valid, rejects such self-touching rings; consumers that need
// strict OGC validity should split the ring at repeated vertices or buffer
// it by zero.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

// GeometryError reports a ring or area that had to be dropped. It never
// fails a request.
type GeometryError struct {
	Op    string
	Label int
	Err   error
}

func (e *GeometryError) Error() string {
	if e.Label > 0 {
		return fmt.Sprintf("geometry %s (region %d): %v", e.Op, e.Label, e.Err)
	}
	return fmt.Sprintf("geometry %s: %v", e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

type Polygon struct {
	Geometry orb.Polygon
	// PixelArea is the number of mask pixels covered, holes excluded.
	PixelArea int
	// AreaM2 is nil when the projected area could not be computed.
	AreaM2 *float64
}

// Trace returns every valid polygon in m, largest first, together with the
// geometry problems that were skipped.
func Trace(m oracle.Mask, bbox model.BBox) ([]Polygon, []*GeometryError) {
	if err := m.Validate(); err != nil {
		return nil, []*GeometryError{{Op: "mask", Err: err}}
	}

	rings, errs := traceRings(m)

	outers := make(map[int]ring)
	holes := make(map[int][]ring)
	order := make([]int, 0)
	for _, r := range rings {
		if r.area2 > 0 {
			outers[r.label] = r
			order = append(order, r.label)
		} else {
			holes[r.label] = append(holes[r.label], r)
		}
	}
	for label, hs := range holes {
		if _, ok := outers[label]; !ok {
			errs = append(errs, &GeometryError{Op: "assemble", Label: label, Err: fmt.Errorf("%d hole(s) without an outer ring", len(hs))})
		}
	}

	polys := make([]Polygon, 0, len(order))
	for _, label := range order {
		outer := outers[label]
		area2 := outer.area2
		geom := orb.Polygon{toGeo(outer, bbox, m.Width, m.Height)}
		for _, h := range holes[label] {
			area2 += h.area2
			geom = append(geom, toGeo(h, bbox, m.Width, m.Height))
		}
		if area2 <= 0 {
			errs = append(errs, &GeometryError{Op: "validate", Label: label, Err: errors.New("holes cover the whole region")})
			continue
		}

		p := Polygon{Geometry: geom, PixelArea: area2 / 2}
		if a, err := ProjectedArea(geom); err != nil {
			errs = append(errs, &GeometryError{Op: "area", Label: label, Err: err})
		} else {
			p.AreaM2 = &a
		}
		polys = append(polys, p)
	}

	sort.SliceStable(polys, func(i, j int) bool { return polys[i].PixelArea > polys[j].PixelArea })
	return polys, errs
}

// Extract returns at most one polygon: the largest region in the mask.
// Smaller disjoint regions are discarded. An all-false mask yields nil.
func Extract(ctx context.Context, log *slog.Logger, m oracle.Mask, bbox model.BBox) []Polygon {
	polys, errs := Trace(m, bbox)
	for _, err := range errs {
		observability.IncGeometryError(err.Op)
		log.WarnContext(ctx, "geometry problem skipped", "op", err.Op, "err", err)
	}
	if len(polys) > 1 {
		log.DebugContext(ctx, "dropping smaller regions",
			"kept_px", polys[0].PixelArea,
			"dropped", len(polys)-1)
	}
	if len(polys) == 0 {
		return nil
	}
	return polys[:1]
}

// toGeo maps a pixel-corner ring onto bbox, closes it and flips it into
// RFC 7946 winding.
func toGeo(r ring, bbox model.BBox, w, h int) orb.Ring {
	dLon := (bbox.MaxLon - bbox.MinLon) / float64(w)
	dLat := (bbox.MaxLat - bbox.MinLat) / float64(h)

	out := make(orb.Ring, 0, len(r.pts)+1)
	for _, v := range r.pts {
		out = append(out, orb.Point{
			bbox.MinLon + float64(v.x)*dLon,
			bbox.MaxLat - float64(v.y)*dLat,
		})
	}
	out = append(out, out[0])
	// north-up flips the image winding
	out.Reverse()
	return out
}

// ProjectedArea is the planar area in square meters of p in spherical web
// mercator.
func ProjectedArea(p orb.Polygon) (float64, error) {
	total := 0.0
	for i, r := range p {
		merc := project.Polygon(orb.Polygon{r.Clone()}, project.WGS84.ToMercator)
		a := math.Abs(planar.Area(merc))
		if i == 0 {
			total += a
		} else {
			total -= a
		}
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("projected area is not finite (%v)", total)
	}
	if total <= 0 {
		return 0, fmt.Errorf("projected area %v is not positive", total)
	}
	return total, nil
}
