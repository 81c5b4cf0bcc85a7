// Package selector picks one mask out of the oracle's candidates.
package selector

import (
	"context"
	"log/slog"
	"math"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

type Thresholds struct {
	MinAreaRatio     float64
	MaxAreaRatio     float64
	AreaPeak         float64
	ConfidenceWeight float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAreaRatio:     0.002,
		MaxAreaRatio:     0.80,
		AreaPeak:         0.25,
		ConfidenceWeight: 0.7,
	}
}

const (
	OutcomeScored   = "scored"
	OutcomeFallback = "fallback"

	ReasonTooSmall  = "too_small"
	ReasonTooLarge  = "too_large"
	ReasonMissPoint = "prompt_not_covered"
)

// Candidate is the scoring trace of one mask.
type Candidate struct {
	Index     int
	Score     float64
	AreaRatio float64
	AreaScore float64
	Combined  float64
	Rejected  bool
	Reason    string
}

type Result struct {
	Mask       oracle.Mask
	Index      int
	Outcome    string
	Candidates []Candidate
}

// Select scores every candidate and returns the best one. When no candidate
// passes the area and prompt checks it falls back to the highest raw score.
// ok is false only for an empty candidate list.
func Select(ctx context.Context, log *slog.Logger, th Thresholds, masks []oracle.Mask, prompt model.PixelPoint, sizePx int) (Result, bool) {
	if len(masks) == 0 {
		return Result{}, false
	}

	total := float64(sizePx) * float64(sizePx)
	cands := make([]Candidate, len(masks))
	best := -1
	for i, m := range masks {
		c := Candidate{Index: i, Score: m.Score}
		if total > 0 {
			c.AreaRatio = float64(m.Count()) / total
		}
		switch {
		case c.AreaRatio < th.MinAreaRatio:
			c.Rejected, c.Reason = true, ReasonTooSmall
		case c.AreaRatio > th.MaxAreaRatio:
			c.Rejected, c.Reason = true, ReasonTooLarge
		case !m.At(prompt.X, prompt.Y):
			c.Rejected, c.Reason = true, ReasonMissPoint
		default:
			c.AreaScore = 1 - math.Abs(c.AreaRatio-th.AreaPeak)*2
			c.Combined = m.Score*th.ConfidenceWeight + c.AreaScore*(1-th.ConfidenceWeight)
			if best < 0 || c.Combined > cands[best].Combined {
				best = i
			}
		}
		cands[i] = c

		if c.Rejected {
			observability.IncRejection(c.Reason)
		}
		log.DebugContext(ctx, "mask candidate",
			"index", i,
			"score", c.Score,
			"area_ratio", c.AreaRatio,
			"combined", c.Combined,
			"rejected", c.Rejected,
			"reason", c.Reason)
	}

	outcome := OutcomeScored
	if best < 0 {
		outcome = OutcomeFallback
		best = 0
		for i := 1; i < len(masks); i++ {
			if masks[i].Score > masks[best].Score {
				best = i
			}
		}
		log.WarnContext(ctx, "no mask passed selection, falling back to highest score",
			"index", best, "score", masks[best].Score)
	}
	observability.IncSelection(outcome)

	return Result{
		Mask:       masks[best],
		Index:      best,
		Outcome:    outcome,
		Candidates: cands,
	}, true
}
