// File: internal/humanoid/interface.go

package humanoid

import (
	"context"
	"encoding/json"
	"time"
)

// InteractionOptions tunes individual humanoid actions.
type InteractionOptions struct {
	// EnsureVisible controls whether the action scrolls the target into view
	// first. nil means enabled.
	EnsureVisible *bool
}

func (o *InteractionOptions) ensureVisible() bool {
	return o == nil || o.EnsureVisible == nil || *o.EnsureVisible
}

// Controller is the high-level interface for human-like interactions.
// Humanoid implements it; flows depend on the interface so tests can stub it.
type Controller interface {
	MoveTo(ctx context.Context, selector string, opts *InteractionOptions) error
	Click(ctx context.Context, selector string, opts *InteractionOptions) error
	// ClickAt clicks at an absolute viewport coordinate, for targets that
	// have no addressable selector (cross-origin iframe contents).
	ClickAt(ctx context.Context, x, y float64) error
	Type(ctx context.Context, selector, text string, opts *InteractionOptions) error
	// CognitivePause sleeps for a fatigue-scaled Gaussian duration with
	// subtle idle cursor drift on longer pauses.
	CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error
	// Pause sleeps a uniform random duration in [min, max].
	Pause(ctx context.Context, min, max time.Duration) error
}

// Executor is the low-level transport the simulation dispatches through.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	SendKeys(ctx context.Context, keys string) error
	GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error)
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}
