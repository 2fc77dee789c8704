// File: internal/humanoid/movement.go

package humanoid

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// MoveTo moves the cursor to a naturally distributed point inside the target
// element, scrolling it into view first unless disabled.
func (h *Humanoid) MoveTo(ctx context.Context, selector string, opts *InteractionOptions) error {
	if opts.ensureVisible() {
		if err := h.scrollIntoView(ctx, selector); err != nil {
			return err
		}
	}

	geo, err := h.elementGeometry(ctx, selector)
	if err != nil {
		return err
	}
	center, ok := boxCenter(geo)
	if !ok {
		return fmt.Errorf("humanoid: element %q has invalid geometry", selector)
	}

	target := h.pickTargetPoint(geo, center)
	return h.moveToVector(ctx, target)
}

// moveToVector runs the trajectory simulation from the current position.
func (h *Humanoid) moveToVector(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	start := h.currentPos
	h.mu.Unlock()

	dist := start.Dist(target)
	h.updateFatigue(dist / 1000.0)

	if err := h.simulateTrajectory(ctx, start, target); err != nil {
		return err
	}
	h.logger.Debug("Cursor move complete", zap.Float64("distance", dist))
	return nil
}

// pickTargetPoint draws a click point from a normal distribution over the
// inner 90% of the element, clamped inside its bounds.
func (h *Humanoid) pickTargetPoint(geo *ElementGeometry, center Vector2D) Vector2D {
	if geo == nil || geo.Width == 0 || geo.Height == 0 {
		return center
	}
	width, height := float64(geo.Width), float64(geo.Height)

	h.mu.Lock()
	offsetX := h.rng.NormFloat64() * (width * 0.9 / 6.0)
	offsetY := h.rng.NormFloat64() * (height * 0.9 / 6.0)
	h.mu.Unlock()

	x := center.X + offsetX
	y := center.Y + offsetY

	x = math.Max(center.X-width/2.0+1.0, math.Min(center.X+width/2.0-1.0, x))
	y = math.Max(center.Y-height/2.0+1.0, math.Min(center.Y+height/2.0-1.0, y))
	return Vector2D{X: x, Y: y}
}

// fittsDuration derives the movement time from Fitts's law with +/-15% jitter.
// Caller holds the lock.
func (h *Humanoid) fittsDuration(distance float64) time.Duration {
	const targetWidth = 30.0
	id := math.Log2(1.0 + distance/targetWidth)
	mt := h.dynamicConfig.FittsA + h.dynamicConfig.FittsB*id
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt) * time.Millisecond
}

// idealPath builds a cubic Bezier between start and end. The control points
// bow perpendicular to the direct line so long moves arc the way a wrist does.
func (h *Humanoid) idealPath(start, end Vector2D, numSteps int) []Vector2D {
	main := end.Sub(start)
	dist := main.Mag()
	if dist < 1.0 || numSteps <= 1 {
		return []Vector2D{end}
	}

	h.mu.Lock()
	bow := (h.rng.Float64() - 0.5) * dist * 0.18
	skew := (h.rng.Float64() - 0.5) * dist * 0.08
	h.mu.Unlock()

	dir := main.Normalize()
	perp := main.Perp()
	p0, p3 := start, end
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(perp.Mul(bow))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(perp.Mul(bow * 0.5)).Add(dir.Mul(skew))

	path := make([]Vector2D, numSteps)
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		omt := 1.0 - t
		path[i] = p0.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(p3.Mul(t * t * t))
	}
	return path
}

// easeInOutCubic shapes the velocity profile: slow start, fast middle,
// decelerating approach.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// simulateTrajectory walks the cursor along the path with eased timing and
// Perlin drift plus Gaussian tremor on every dispatched point.
func (h *Humanoid) simulateTrajectory(ctx context.Context, start, end Vector2D) error {
	h.mu.Lock()
	dist := start.Dist(end)
	duration := h.fittsDuration(dist)
	buttons := buttonsBitfield(h.buttonState)
	h.mu.Unlock()

	numSteps := int(duration.Seconds() * 100)
	if numSteps < 2 {
		numSteps = 2
	}
	path := h.idealPath(start, end, numSteps)

	startTime := time.Now()
	for i := 0; i < len(path); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t := float64(i) / float64(len(path)-1)
		easedT := easeInOutCubic(t)
		idx := int(easedT * float64(len(path)-1))
		if idx >= len(path) {
			idx = len(path) - 1
		}
		pos := path[idx]

		if sleep := time.Until(startTime.Add(time.Duration(easedT * float64(duration)))); sleep > 0 {
			if err := h.executor.Sleep(ctx, sleep); err != nil {
				return err
			}
		}

		h.mu.Lock()
		amplitude := h.dynamicConfig.PerlinAmplitude
		elapsed := time.Since(startTime).Seconds()
		drift := Vector2D{
			X: h.noiseX.Noise1D(elapsed*0.8) * amplitude,
			Y: h.noiseY.Noise1D(elapsed*0.8) * amplitude,
		}
		jitter := h.rng.Intn(4)
		h.mu.Unlock()

		point := h.applyGaussianNoise(pos.Add(drift))
		event := MouseEventData{
			Type:    MouseMove,
			X:       point.X,
			Y:       point.Y,
			Button:  ButtonNone,
			Buttons: buttons,
		}
		if err := h.executor.DispatchMouseEvent(ctx, event); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Mouse move dispatch failed", zap.Error(err))
			}
			return err
		}

		h.mu.Lock()
		h.currentPos = point
		h.mu.Unlock()

		if err := h.executor.Sleep(ctx, time.Duration(2+jitter)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// boxCenter computes the geometric center of an element quad.
func boxCenter(geo *ElementGeometry) (Vector2D, bool) {
	if geo == nil || len(geo.Vertices) < 8 {
		return Vector2D{}, false
	}
	return Vector2D{
		X: (geo.Vertices[0] + geo.Vertices[2] + geo.Vertices[4] + geo.Vertices[6]) / 4,
		Y: (geo.Vertices[1] + geo.Vertices[3] + geo.Vertices[5] + geo.Vertices[7]) / 4,
	}, true
}

// elementGeometry fetches and validates the target's geometry.
func (h *Humanoid) elementGeometry(ctx context.Context, selector string) (*ElementGeometry, error) {
	geo, err := h.executor.GetElementGeometry(ctx, selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("humanoid: geometry retrieval failed for %q: %w", selector, err)
	}
	if geo == nil || len(geo.Vertices) < 8 {
		return nil, fmt.Errorf("humanoid: element %q returned invalid geometry", selector)
	}
	if geo.Width <= 0 || geo.Height <= 0 {
		return nil, fmt.Errorf("humanoid: element %q is not interactable (zero size)", selector)
	}
	return geo, nil
}
