package remote

import (
	"fmt"

	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

// DecodeRLE expands row-major run lengths into a mask. Runs alternate
// false/true starting with false; the first run may be zero.
func DecodeRLE(w, h int, counts []int, score float64) (oracle.Mask, error) {
	m := oracle.NewMask(w, h, score)
	pos := 0
	val := false
	for i, c := range counts {
		if c < 0 {
			return oracle.Mask{}, fmt.Errorf("rle run %d is negative", i)
		}
		if c > len(m.Bits)-pos {
			return oracle.Mask{}, fmt.Errorf("rle overflows %dx%d mask at run %d", w, h, i)
		}
		if val {
			for j := pos; j < pos+c; j++ {
				m.Bits[j] = true
			}
		}
		pos += c
		val = !val
	}
	if pos != len(m.Bits) {
		return oracle.Mask{}, fmt.Errorf("rle covers %d of %d pixels", pos, len(m.Bits))
	}
	return m, nil
}

// EncodeRLE is the inverse of DecodeRLE.
func EncodeRLE(m oracle.Mask) []int {
	counts := make([]int, 0, 16)
	cur := false
	run := 0
	for _, b := range m.Bits {
		if b != cur {
			counts = append(counts, run)
			cur = b
			run = 0
		}
		run++
	}
	return append(counts, run)
}
