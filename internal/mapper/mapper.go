// Package mapper converts between geographic coordinates and H3 cells.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
)

type Interface interface {
	CellForPoint(p model.GeoPoint, res int) (string, error)
	CellsForPolygon(poly orb.Polygon, res int) ([]string, error)
}
