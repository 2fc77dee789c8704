// File: internal/humanoid/scrolling.go

package humanoid

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// One scroll iteration: reports target visibility and applies a bounded
// scroll step toward it.
//
//go:embed scrolling.js
var scrollIterationJS string

type scrollResult struct {
	ElementExists  bool    `json:"elementExists"`
	IsIntersecting bool    `json:"isIntersecting"`
	RemainingY     float64 `json:"remainingY"`
	ContentDensity float64 `json:"contentDensity"`
}

// scrollIntoView scrolls in human-sized steps until the target is visible,
// pausing between steps as if reading. A missing element or exhausted
// iteration budget is not an error; the follow-up geometry lookup reports
// actionable failures.
func (h *Humanoid) scrollIntoView(ctx context.Context, selector string) error {
	h.mu.Lock()
	useWheel := h.rng.Float64() < h.dynamicConfig.ScrollWheelProbability
	h.mu.Unlock()

	const maxIterations = 15
	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := h.scrollStep(ctx, selector, useWheel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("Scroll step failed",
				zap.Error(err), zap.Int("iteration", iteration))
			if err := h.executor.Sleep(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}
		if !result.ElementExists || result.IsIntersecting {
			return nil
		}

		if err := h.executor.Sleep(ctx, h.scrollPause(result.ContentDensity)); err != nil {
			return err
		}
	}

	h.logger.Warn("Scroll gave up before target became visible",
		zap.String("selector", selector))
	return nil
}

func (h *Humanoid) scrollStep(ctx context.Context, selector string, useWheel bool) (*scrollResult, error) {
	h.mu.Lock()
	cursor := h.currentPos
	h.mu.Unlock()

	args := []interface{}{selector, useWheel, cursor.X, cursor.Y}
	raw, err := h.executor.ExecuteScript(ctx, scrollIterationJS, args)
	if err != nil {
		return nil, fmt.Errorf("scroll script: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("scroll script returned no result")
	}

	var result scrollResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("scroll result: %w", err)
	}
	return &result, nil
}

// scrollPause scales the reading pause by how much content just moved past.
func (h *Humanoid) scrollPause(contentDensity float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	pauseMs := 100 + contentDensity*1000*h.dynamicConfig.ScrollReadPauseFactor
	pauseMs *= 1.0 + h.fatigueLevel*0.5
	if pauseMs > 2000 {
		pauseMs = 2000
	}
	if pauseMs < 50 {
		pauseMs = 50
	}
	pauseMs += h.rng.Float64() * 60
	return time.Duration(pauseMs) * time.Millisecond
}
