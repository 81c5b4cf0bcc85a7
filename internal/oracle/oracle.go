// Package oracle defines the point-prompt segmentation model boundary and a
// process-wide cache of initialized models keyed by checkpoint.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
)

// Oracle returns candidate masks for the object under a single positive
// point prompt.
type Oracle interface {
	Predict(ctx context.Context, img image.Image, prompt model.PixelPoint) ([]Mask, error)
}

// Loader initializes the oracle for one checkpoint.
type Loader interface {
	Load(ctx context.Context, checkpoint string) (Oracle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, checkpoint string) (Oracle, error)

func (f LoaderFunc) Load(ctx context.Context, checkpoint string) (Oracle, error) {
	return f(ctx, checkpoint)
}

// Mask is a row-major boolean raster with the model's confidence.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
	Score  float64
}

// NewMask allocates an all-false mask.
func NewMask(w, h int, score float64) Mask {
	return Mask{Width: w, Height: h, Bits: make([]bool, w*h), Score: score}
}

func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

func (m Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// Count returns the number of true pixels.
func (m Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

func (m Mask) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("mask has empty dimensions %dx%d", m.Width, m.Height)
	}
	if len(m.Bits) != m.Width*m.Height {
		return fmt.Errorf("mask has %d bits, want %d", len(m.Bits), m.Width*m.Height)
	}
	return nil
}

// InitError is returned by the registry for a checkpoint that failed to load.
// It is returned again to every later caller for that checkpoint.
type InitError struct {
	Checkpoint string
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("oracle init %q: %v", e.Checkpoint, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ErrNoMasks is returned when the oracle produced no candidates.
var ErrNoMasks = errors.New("oracle returned no masks")
