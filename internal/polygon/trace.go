package polygon

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

// Headings on the pixel-corner lattice, y pointing down.
const (
	east = iota
	south
	west
	north
)

var (
	stepX = [4]int{1, 0, -1, 0}
	stepY = [4]int{0, 1, 0, -1}
)

func turnLeft(d int) int { return (d + 3) % 4 }

type vertex struct{ x, y int }

// ring is a closed boundary on the pixel-corner lattice. pts holds corner
// vertices only, without repeating the first one. area2 is twice the signed
// shoelace area in image coordinates: positive for outer boundaries,
// negative for holes.
type ring struct {
	pts   []vertex
	area2 int
	label int
}

type tracer struct {
	m      oracle.Mask
	w, h   int
	labels []int
	used   []bool // horizontal edges, index y*w+x
}

func (t *tracer) fg(row, col int) bool { return t.m.At(col, row) }

// outgoing reports which boundary edges leave vertex (x,y). Every edge keeps
// foreground on its right-hand side.
func (t *tracer) outgoing(x, y int) (out [4]bool) {
	out[east] = t.fg(y, x) && !t.fg(y-1, x)
	out[south] = t.fg(y, x-1) && !t.fg(y, x)
	out[west] = t.fg(y-1, x-1) && !t.fg(y, x-1)
	out[north] = t.fg(y-1, x) && !t.fg(y-1, x-1)
	return out
}

// next picks the edge leaving (x,y) after arriving with heading d. At a
// saddle the left turn keeps diagonal foreground pixels in one ring.
func (t *tracer) next(x, y, d int) (int, error) {
	out := t.outgoing(x, y)
	n, only := 0, -1
	for i, ok := range out {
		if ok {
			n++
			only = i
		}
	}
	switch n {
	case 1:
		return only, nil
	case 2:
		if l := turnLeft(d); out[l] {
			return l, nil
		}
	}
	return 0, fmt.Errorf("no continuation at vertex (%d,%d) heading %d", x, y, d)
}

// traceRings follows every boundary of the mask once.
func traceRings(m oracle.Mask) ([]ring, []*GeometryError) {
	t := &tracer{
		m:      m,
		w:      m.Width,
		h:      m.Height,
		labels: label8(m),
		used:   make([]bool, (m.Height+1)*m.Width),
	}

	var (
		rings []ring
		errs  []*GeometryError
	)
	for y := 0; y <= t.h; y++ {
		for x := 0; x < t.w; x++ {
			if t.used[y*t.w+x] {
				continue
			}
			below, above := t.fg(y, x), t.fg(y-1, x)
			if below == above {
				continue
			}
			var (
				start  vertex
				dir    int
				pixIdx int
			)
			if below {
				start, dir, pixIdx = vertex{x, y}, east, y*t.w+x
			} else {
				start, dir, pixIdx = vertex{x + 1, y}, west, (y-1)*t.w+x
			}
			r, err := t.follow(start, dir)
			if err != nil {
				errs = append(errs, &GeometryError{Op: "trace", Err: err})
				continue
			}
			r.label = t.labels[pixIdx]
			if err := r.validate(t.w); err != nil {
				errs = append(errs, &GeometryError{Op: "validate", Label: r.label, Err: err})
				continue
			}
			rings = append(rings, r)
		}
	}
	return rings, errs
}

type step struct {
	v   vertex
	dir int
}

func (t *tracer) follow(start vertex, d0 int) (ring, error) {
	limit := 4 * (t.w + 1) * (t.h + 1)
	steps := make([]step, 0, 64)

	cur, dir := start, d0
	for {
		if len(steps) > limit {
			return ring{}, errors.New("boundary did not close")
		}
		steps = append(steps, step{v: cur, dir: dir})
		switch dir {
		case east:
			t.used[cur.y*t.w+cur.x] = true
		case west:
			t.used[cur.y*t.w+cur.x-1] = true
		}
		cur = vertex{cur.x + stepX[dir], cur.y + stepY[dir]}
		nd, err := t.next(cur.x, cur.y, dir)
		if err != nil {
			return ring{}, err
		}
		if cur == start && nd == d0 {
			break
		}
		dir = nd
	}

	var r ring
	n := len(steps)
	for i, s := range steps {
		if in := steps[(i+n-1)%n].dir; in != s.dir {
			r.pts = append(r.pts, s.v)
		}
	}
	r.area2 = shoelace2(r.pts)
	return r, nil
}

func shoelace2(pts []vertex) int {
	s := 0
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		s += p.x*q.y - q.x*p.y
	}
	return s
}

// validate rejects degenerate rings and rings that cross or overlap
// themselves. A ring may touch itself at a corner it turns at.
func (r ring) validate(w int) error {
	if len(r.pts) < 4 {
		return fmt.Errorf("ring has %d vertices", len(r.pts))
	}
	if r.area2 == 0 {
		return errors.New("ring has zero area")
	}

	key := func(v vertex) int { return v.y*(w+1) + v.x }
	corners := make(map[int]int, len(r.pts))
	for _, p := range r.pts {
		corners[key(p)]++
		if corners[key(p)] > 2 {
			return fmt.Errorf("ring passes vertex (%d,%d) more than twice", p.x, p.y)
		}
	}
	// every lattice point strictly inside a segment must be unvisited
	seen := make(map[int]struct{})
	for i, p := range r.pts {
		q := r.pts[(i+1)%len(r.pts)]
		dx, dy := sign(q.x-p.x), sign(q.y-p.y)
		if dx != 0 && dy != 0 {
			return fmt.Errorf("ring segment (%d,%d)-(%d,%d) is not axis aligned", p.x, p.y, q.x, q.y)
		}
		for v := (vertex{p.x + dx, p.y + dy}); v != q; v = (vertex{v.x + dx, v.y + dy}) {
			k := key(v)
			if _, ok := corners[k]; ok {
				return fmt.Errorf("ring touches itself mid-segment at (%d,%d)", v.x, v.y)
			}
			if _, ok := seen[k]; ok {
				return fmt.Errorf("ring crosses itself at (%d,%d)", v.x, v.y)
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// label8 assigns 8-connected component ids (from 1) to foreground pixels.
func label8(m oracle.Mask) []int {
	w, h := m.Width, m.Height
	labels := make([]int, w*h)
	queue := make([]int, 0, 64)
	next := 0
	for i, on := range m.Bits {
		if !on || labels[i] != 0 {
			continue
		}
		next++
		labels[i] = next
		queue = append(queue[:0], i)
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if m.Bits[j] && labels[j] == 0 {
						labels[j] = next
						queue = append(queue, j)
					}
				}
			}
		}
	}
	return labels
}
