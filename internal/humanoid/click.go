// File: internal/humanoid/click.go

package humanoid

import (
	"context"
	"time"
)

// Click moves to the element and performs a full press-hold-release cycle at
// the landing point.
func (h *Humanoid) Click(ctx context.Context, selector string, opts *InteractionOptions) error {
	if err := h.MoveTo(ctx, selector, opts); err != nil {
		return err
	}
	return h.pressRelease(ctx)
}

// ClickAt moves to an absolute viewport coordinate and clicks there. Used for
// targets that cannot be addressed by selector, like widgets inside
// cross-origin iframes.
func (h *Humanoid) ClickAt(ctx context.Context, x, y float64) error {
	if err := h.moveToVector(ctx, Vector2D{X: x, Y: y}); err != nil {
		return err
	}
	return h.pressRelease(ctx)
}

func (h *Humanoid) pressRelease(ctx context.Context) error {
	h.mu.Lock()
	pos := h.currentPos
	holdMin := h.dynamicConfig.ClickHoldMinMs
	holdSpan := h.dynamicConfig.ClickHoldMaxMs - holdMin
	hold := time.Duration(holdMin+h.rng.Intn(holdSpan)) * time.Millisecond
	h.mu.Unlock()

	press := MouseEventData{
		Type:       MousePress,
		X:          pos.X,
		Y:          pos.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		Buttons:    1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}

	h.mu.Lock()
	h.buttonState = ButtonLeft
	h.mu.Unlock()

	if err := h.executor.Sleep(ctx, hold); err != nil {
		return err
	}

	h.mu.Lock()
	pos = h.currentPos
	h.mu.Unlock()

	release := MouseEventData{
		Type:       MouseRelease,
		X:          pos.X,
		Y:          pos.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		Buttons:    0,
	}
	if err := h.executor.DispatchMouseEvent(ctx, release); err != nil {
		return err
	}

	h.mu.Lock()
	h.buttonState = ButtonNone
	h.mu.Unlock()
	return nil
}
