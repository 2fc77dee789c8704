// File: internal/humanoid/humanoid_test.go

package humanoid

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor records dispatched input instead of driving a browser. Sleeps
// are recorded but not performed so tests stay fast.
type mockExecutor struct {
	mu             sync.Mutex
	events         []MouseEventData
	sentKeys       []string
	sleepTotal     time.Duration
	geometry       *ElementGeometry
	scriptResponse json.RawMessage
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		geometry: &ElementGeometry{
			Vertices: []float64{400, 300, 500, 300, 500, 340, 400, 340},
			Width:    100,
			Height:   40,
		},
		scriptResponse: json.RawMessage(`{"elementExists":true,"isIntersecting":true}`),
	}
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	m.sleepTotal += d
	m.mu.Unlock()
	return nil
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	m.mu.Lock()
	m.events = append(m.events, data)
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	m.mu.Lock()
	m.sentKeys = append(m.sentKeys, keys)
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error) {
	return m.geometry, ctx.Err()
}

func (m *mockExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	return m.scriptResponse, ctx.Err()
}

func (m *mockExecutor) eventsOfType(t MouseEventType) []MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MouseEventData
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// typedText reconstructs the final field content from raw key traffic,
// applying backspaces the way the page would.
func (m *mockExecutor) typedText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b []rune
	for _, s := range m.sentKeys {
		for _, r := range s {
			if r == '\b' {
				if len(b) > 0 {
					b = b[:len(b)-1]
				}
				continue
			}
			b = append(b, r)
		}
	}
	return string(b)
}

func TestClickDispatchesFullCycle(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 42)

	err := h.Click(context.Background(), "#submit", nil)
	require.NoError(t, err)

	presses := exec.eventsOfType(MousePress)
	releases := exec.eventsOfType(MouseRelease)
	moves := exec.eventsOfType(MouseMove)

	require.Len(t, presses, 1)
	require.Len(t, releases, 1)
	assert.NotEmpty(t, moves, "click should be preceded by cursor movement")

	assert.Equal(t, ButtonLeft, presses[0].Button)
	assert.EqualValues(t, 1, presses[0].Buttons)
	assert.EqualValues(t, 0, releases[0].Buttons)

	// Landing point stays inside the element box.
	assert.GreaterOrEqual(t, presses[0].X, 400.0)
	assert.LessOrEqual(t, presses[0].X, 500.0)
	assert.GreaterOrEqual(t, presses[0].Y, 300.0)
	assert.LessOrEqual(t, presses[0].Y, 340.0)
}

func TestClickOrdering(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 7)

	require.NoError(t, h.Click(context.Background(), "#btn", nil))

	pressIdx, releaseIdx := -1, -1
	for i, e := range exec.events {
		switch e.Type {
		case MousePress:
			pressIdx = i
		case MouseRelease:
			releaseIdx = i
		}
	}
	require.NotEqual(t, -1, pressIdx)
	assert.Greater(t, releaseIdx, pressIdx, "release must follow press")
}

func TestClickAtLandsNearCoordinate(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 11)

	require.NoError(t, h.ClickAt(context.Background(), 250, 180))

	presses := exec.eventsOfType(MousePress)
	require.Len(t, presses, 1)
	// The press lands where the trajectory ended: at the coordinate plus
	// residual tremor.
	assert.InDelta(t, 250, presses[0].X, 20)
	assert.InDelta(t, 180, presses[0].Y, 20)
}

func TestTypeProducesIntendedText(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 1)

	// Zero typo rate isolates the cadence model from the typo model.
	h.mu.Lock()
	h.baseConfig.TypoRate = 0
	h.dynamicConfig.TypoRate = 0
	h.mu.Unlock()

	const text = "jane.doe@example.com"
	require.NoError(t, h.Type(context.Background(), "#email", text, nil))
	assert.Equal(t, text, exec.typedText())
}

func TestTypeWithTyposConvergesToIntendedText(t *testing.T) {
	// With corrections enabled and notice probabilities at 1, everything but
	// an uncorrected transposition resolves to the intended text. Force full
	// correction to make the outcome deterministic in aggregate.
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 99)

	h.mu.Lock()
	h.baseConfig.TypoRate = 0.3
	h.dynamicConfig.TypoRate = 0.3
	h.baseConfig.TypoCorrectionProbability = 1.0
	h.dynamicConfig.TypoCorrectionProbability = 1.0
	h.baseConfig.TypoNoticeProbability = 1.0
	h.dynamicConfig.TypoNoticeProbability = 1.0
	// Omissions are the one kind the notice path retypes in place, keep them.
	h.mu.Unlock()

	const text = "secret"
	require.NoError(t, h.Type(context.Background(), "#password", text, nil))
	assert.Equal(t, text, exec.typedText())

	// The raw traffic should carry more keystrokes than the text itself when
	// typos fired.
	raw := strings.Join(exec.sentKeys, "")
	assert.GreaterOrEqual(t, len(raw), len(text))
}

func TestTypeHonorsContextCancellation(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Type(ctx, "#email", "never typed", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPauseBounds(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 5)

	for i := 0; i < 50; i++ {
		before := exec.sleepTotal
		require.NoError(t, h.Pause(context.Background(), 100*time.Millisecond, 200*time.Millisecond))
		slept := exec.sleepTotal - before
		assert.GreaterOrEqual(t, slept, 100*time.Millisecond)
		assert.Less(t, slept, 200*time.Millisecond)
	}
}

func TestPauseSwapsInvertedBounds(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 5)

	before := exec.sleepTotal
	require.NoError(t, h.Pause(context.Background(), 200*time.Millisecond, 100*time.Millisecond))
	slept := exec.sleepTotal - before
	assert.GreaterOrEqual(t, slept, 100*time.Millisecond)
	assert.Less(t, slept, 200*time.Millisecond)
}

func TestFatigueAccumulatesAndRecovers(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 11)

	h.updateFatigue(50.0)
	h.mu.Lock()
	tired := h.fatigueLevel
	h.mu.Unlock()
	assert.Greater(t, tired, 0.0)

	h.recoverFatigue(time.Minute)
	h.mu.Lock()
	rested := h.fatigueLevel
	h.mu.Unlock()
	assert.Less(t, rested, tired)
}

func TestSessionPersonaBounds(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		h := NewTestHumanoid(newMockExecutor(), seed)
		h.mu.Lock()
		cfg := h.baseConfig
		h.mu.Unlock()

		assert.GreaterOrEqual(t, cfg.TypoRate, 0.0)
		assert.LessOrEqual(t, cfg.TypoRate, 0.25)
		assert.GreaterOrEqual(t, cfg.KeyHoldMean, 20.0)
		assert.Greater(t, cfg.ClickHoldMaxMs, cfg.ClickHoldMinMs)
	}
}

func TestNormalizeTypoRates(t *testing.T) {
	c := Config{
		TypoRateMean:      0.05,
		TypoNeighborRate:  2,
		TypoTransposeRate: 1,
		TypoOmissionRate:  1,
		TypoInsertionRate: 0,
	}
	c.NormalizeTypoRates()
	sum := c.TypoNeighborRate + c.TypoTransposeRate + c.TypoOmissionRate + c.TypoInsertionRate
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.5, c.TypoNeighborRate, 1e-9)
}

func TestTrajectoryEndsNearTarget(t *testing.T) {
	exec := newMockExecutor()
	h := NewTestHumanoid(exec, 21)

	require.NoError(t, h.MoveTo(context.Background(), "#field", nil))

	moves := exec.eventsOfType(MouseMove)
	require.NotEmpty(t, moves)
	last := moves[len(moves)-1]

	center := Vector2D{X: 450, Y: 320}
	final := Vector2D{X: last.X, Y: last.Y}
	// Noise keeps the endpoint off-center but it must land in the element's
	// neighborhood.
	assert.Less(t, final.Dist(center), 60.0)
}

func TestVectorOps(t *testing.T) {
	v := Vector2D{X: 3, Y: 4}
	assert.InDelta(t, 5.0, v.Mag(), 1e-9)
	assert.InDelta(t, 1.0, v.Normalize().Mag(), 1e-9)
	assert.Equal(t, Vector2D{}, Vector2D{}.Normalize())

	perp := v.Perp()
	assert.InDelta(t, 0.0, perp.X*v.X+perp.Y*v.Y, 1e-9)
}
