package selector

import (
	"context"
	"testing"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

const size = 100

var center = model.PixelPoint{X: 50, Y: 50}

// rect fills [x0,x1)x[y0,y1) of a size x size mask.
func rect(x0, y0, x1, y1 int, score float64) oracle.Mask {
	m := oracle.NewMask(size, size, score)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func run(t *testing.T, masks []oracle.Mask) Result {
	t.Helper()
	res, ok := Select(context.Background(), logger.Discard(), DefaultThresholds(), masks, center, size)
	if !ok {
		t.Fatalf("Select returned ok=false for %d masks", len(masks))
	}
	return res
}

func TestSelect_PrefersBalancedAreaAndConfidence(t *testing.T) {
	masks := []oracle.Mask{
		rect(45, 45, 55, 55, 0.95), // 1% of the tile
		rect(25, 25, 75, 75, 0.90), // 25%
		rect(10, 10, 90, 90, 0.97), // 64%
	}
	res := run(t, masks)
	if res.Index != 1 || res.Outcome != OutcomeScored {
		t.Fatalf("picked %d (%s), want 1 scored; candidates=%+v", res.Index, res.Outcome, res.Candidates)
	}
	if c := res.Candidates[1]; c.AreaRatio != 0.25 || c.AreaScore != 1 {
		t.Fatalf("candidate 1 trace=%+v", c)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	masks := []oracle.Mask{
		rect(30, 30, 70, 70, 0.8),
		rect(20, 20, 60, 60, 0.85),
		rect(40, 40, 90, 90, 0.7),
	}
	first := run(t, masks)
	for range 50 {
		if got := run(t, masks); got.Index != first.Index || got.Outcome != first.Outcome {
			t.Fatalf("non-deterministic: %d vs %d", got.Index, first.Index)
		}
	}
}

func TestSelect_TiesGoToFirst(t *testing.T) {
	a := rect(25, 25, 75, 75, 0.9)
	b := rect(25, 25, 75, 75, 0.9)
	if res := run(t, []oracle.Mask{a, b}); res.Index != 0 {
		t.Fatalf("scored tie picked %d, want 0", res.Index)
	}

	tiny := []oracle.Mask{rect(0, 0, 3, 3, 0.6), rect(0, 0, 3, 3, 0.6), rect(0, 0, 3, 3, 0.5)}
	if res := run(t, tiny); res.Index != 0 || res.Outcome != OutcomeFallback {
		t.Fatalf("fallback tie picked %d (%s), want 0 fallback", res.Index, res.Outcome)
	}
}

func TestSelect_FallbackWhenAllTooSmall(t *testing.T) {
	// 10 px of 10000 = 0.001
	masks := []oracle.Mask{
		rect(0, 0, 10, 1, 0.4),
		rect(50, 50, 60, 51, 0.9),
		rect(90, 90, 100, 91, 0.7),
	}
	res := run(t, masks)
	if res.Outcome != OutcomeFallback || res.Index != 1 {
		t.Fatalf("picked %d (%s), want 1 fallback", res.Index, res.Outcome)
	}
	for _, c := range res.Candidates {
		if !c.Rejected || c.Reason != ReasonTooSmall || c.AreaRatio != 0.001 {
			t.Fatalf("candidate trace=%+v", c)
		}
	}
	if res.Mask.Count() != 10 {
		t.Fatalf("returned mask count=%d", res.Mask.Count())
	}
}

func TestSelect_FallbackWhenAllTooLarge(t *testing.T) {
	masks := []oracle.Mask{
		rect(0, 0, 100, 90, 0.81),
		rect(0, 0, 100, 100, 0.99),
		rect(0, 5, 100, 100, 0.93),
	}
	res := run(t, masks)
	if res.Outcome != OutcomeFallback || res.Index != 1 {
		t.Fatalf("picked %d (%s), want 1 fallback", res.Index, res.Outcome)
	}
	for _, c := range res.Candidates {
		if c.Reason != ReasonTooLarge {
			t.Fatalf("candidate trace=%+v", c)
		}
	}
}

func TestSelect_NeverPicksMaskMissingPrompt(t *testing.T) {
	masks := []oracle.Mask{
		rect(0, 0, 40, 40, 0.99),   // 16%, excludes (50,50)
		rect(40, 40, 60, 60, 0.50), // 4%, covers it
		rect(60, 60, 100, 100, 0.98),
	}
	res := run(t, masks)
	if res.Index != 1 || res.Outcome != OutcomeScored {
		t.Fatalf("picked %d (%s), want 1 scored", res.Index, res.Outcome)
	}
	if res.Candidates[0].Reason != ReasonMissPoint || res.Candidates[2].Reason != ReasonMissPoint {
		t.Fatalf("candidates=%+v", res.Candidates)
	}
}

func TestSelect_AreaBoundsAreInclusive(t *testing.T) {
	// exactly 0.80 and exactly 0.002 survive
	large := rect(10, 0, 90, 100, 0.5)
	if res := run(t, []oracle.Mask{large}); res.Outcome != OutcomeScored {
		t.Fatalf("ratio 0.80 should survive, got %+v", res.Candidates)
	}
	small := rect(50, 50, 70, 51, 0.5)
	if res := run(t, []oracle.Mask{small}); res.Outcome != OutcomeScored {
		t.Fatalf("ratio 0.002 should survive, got %+v", res.Candidates)
	}
}

func TestSelect_CustomThresholds(t *testing.T) {
	th := Thresholds{MinAreaRatio: 0.3, MaxAreaRatio: 0.9, AreaPeak: 0.5, ConfidenceWeight: 0}
	masks := []oracle.Mask{
		rect(25, 25, 75, 75, 0.99), // 25% now too small
		rect(10, 10, 90, 90, 0.10), // 64%, closest to the 0.5 peak
		rect(0, 0, 100, 85, 0.20),  // 85%
	}
	res, ok := Select(context.Background(), logger.Discard(), th, masks, center, size)
	if !ok || res.Index != 1 {
		t.Fatalf("picked %d, want 1; candidates=%+v", res.Index, res.Candidates)
	}
}

func TestSelect_Empty(t *testing.T) {
	if _, ok := Select(context.Background(), logger.Discard(), DefaultThresholds(), nil, center, size); ok {
		t.Fatalf("empty input should return ok=false")
	}
}
