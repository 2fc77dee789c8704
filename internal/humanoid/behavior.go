// File: internal/humanoid/behavior.go

package humanoid

import (
	"context"
	"math"
	"time"
)

// Pause sleeps a uniform random duration in [min, max], honoring ctx.
func (h *Humanoid) Pause(ctx context.Context, min, max time.Duration) error {
	if max < min {
		min, max = max, min
	}
	h.mu.Lock()
	span := max - min
	d := min
	if span > 0 {
		d += time.Duration(h.rng.Int63n(int64(span)))
	}
	h.mu.Unlock()

	h.recoverFatigue(d)
	return h.executor.Sleep(ctx, d)
}

// CognitivePause sleeps a fatigue-scaled Gaussian duration. Pauses longer
// than 100ms idle the cursor instead of freezing it.
func (h *Humanoid) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	h.mu.Lock()
	fatigueFactor := 1.0 + h.fatigueLevel
	noise := h.rng.NormFloat64()
	h.mu.Unlock()

	duration := time.Duration(fatigueFactor*(meanMs+noise*stdDevMs)) * time.Millisecond
	if duration <= 0 {
		return nil
	}
	h.recoverFatigue(duration)

	if duration > 100*time.Millisecond {
		return h.hesitate(ctx, duration)
	}
	return h.executor.Sleep(ctx, duration)
}

// hesitate keeps the cursor drifting in a small radius for the given duration.
func (h *Humanoid) hesitate(ctx context.Context, duration time.Duration) error {
	h.mu.Lock()
	startPos := h.currentPos
	buttons := buttonsBitfield(h.buttonState)
	h.mu.Unlock()

	startTime := time.Now()
	for time.Since(startTime) < duration {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h.mu.Lock()
		target := startPos.Add(Vector2D{
			X: (h.rng.Float64() - 0.5) * 5,
			Y: (h.rng.Float64() - 0.5) * 5,
		})
		jitter := h.rng.Intn(100)
		h.mu.Unlock()

		event := MouseEventData{
			Type:    MouseMove,
			X:       target.X,
			Y:       target.Y,
			Button:  ButtonNone,
			Buttons: buttons,
		}
		if err := h.executor.DispatchMouseEvent(ctx, event); err != nil {
			return err
		}

		h.mu.Lock()
		h.currentPos = target
		h.mu.Unlock()

		pause := time.Duration(50+jitter) * time.Millisecond
		if remaining := duration - time.Since(startTime); pause > remaining {
			pause = remaining
		}
		if pause <= 0 {
			break
		}
		if err := h.executor.Sleep(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}

// applyGaussianNoise adds high-frequency tremor to a cursor coordinate.
func (h *Humanoid) applyGaussianNoise(point Vector2D) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()

	strength := h.dynamicConfig.GaussianStrength * (0.5 + h.rng.Float64())
	return Vector2D{
		X: point.X + h.rng.NormFloat64()*strength,
		Y: point.Y + h.rng.NormFloat64()*strength,
	}
}

// applyFatigueEffects recomputes the dynamic config from the fatigue level.
// Caller holds the lock.
func (h *Humanoid) applyFatigueEffects() {
	factor := 1.0 + h.fatigueLevel
	h.dynamicConfig.GaussianStrength = h.baseConfig.GaussianStrength * factor
	h.dynamicConfig.PerlinAmplitude = h.baseConfig.PerlinAmplitude * factor
	h.dynamicConfig.FittsA = h.baseConfig.FittsA * factor

	h.dynamicConfig.TypoRate = math.Min(0.25, h.baseConfig.TypoRate*(1.0+h.fatigueLevel*2.0))
}

func (h *Humanoid) updateFatigue(intensity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+h.baseConfig.FatigueIncreaseRate*intensity)
	h.applyFatigueEffects()
}

func (h *Humanoid) recoverFatigue(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel = math.Max(0.0, h.fatigueLevel-h.baseConfig.FatigueRecoveryRate*duration.Seconds())
	h.applyFatigueEffects()
}
