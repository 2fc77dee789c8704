// File: internal/humanoid/types.go

// Package humanoid synthesizes human-like browser input: mouse trajectories
// with physiological noise, variable-cadence typing with typo correction, and
// cognitive pauses. It drives the page only through the Executor interface so
// the simulation stays independent of the CDP transport.
package humanoid

import "math"

// MouseEventType aligns with the CDP Input.dispatchMouseEvent type strings.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData is the transport-agnostic payload for one mouse event.
type MouseEventData struct {
	Type       MouseEventType
	X, Y       float64
	Button     MouseButton
	ClickCount int
	// Buttons is the bitfield of buttons currently held (1: left).
	Buttons int64
}

// ElementGeometry is the content-box quad of a DOM element.
// Vertices are [x0, y0, x1, y1, x2, y2, x3, y3].
type ElementGeometry struct {
	Vertices []float64
	Width    int64
	Height   int64
}

// ControlKey constants for SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"
	KeyEnter     ControlKey = "\r"
	KeyTab       ControlKey = "\t"
)

// Vector2D is a point or displacement in page coordinates.
type Vector2D struct {
	X float64
	Y float64
}

func (v Vector2D) Add(o Vector2D) Vector2D { return Vector2D{v.X + o.X, v.Y + o.Y} }
func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{v.X - o.X, v.Y - o.Y} }
func (v Vector2D) Mul(s float64) Vector2D  { return Vector2D{v.X * s, v.Y * s} }

// Mag is the Euclidean length. Hypot avoids overflow on large components.
func (v Vector2D) Mag() float64 { return math.Hypot(v.X, v.Y) }

func (v Vector2D) Dist(o Vector2D) float64 { return math.Hypot(v.X-o.X, v.Y-o.Y) }

// Normalize returns the unit vector, or the zero vector for near-zero input.
func (v Vector2D) Normalize() Vector2D {
	mag := v.Mag()
	if mag < 1e-9 {
		return Vector2D{}
	}
	return v.Mul(1.0 / mag)
}

// Perp returns the counter-clockwise perpendicular unit vector.
func (v Vector2D) Perp() Vector2D {
	n := v.Normalize()
	return Vector2D{X: -n.Y, Y: n.X}
}
