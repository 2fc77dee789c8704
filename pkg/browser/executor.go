// File: pkg/browser/executor.go

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/humanoid"
)

const inputDispatchTimeout = 10 * time.Second

// cdpExecutor implements humanoid.Executor over the session's CDP transport,
// bridging the browser-agnostic input simulation to chromedp.
type cdpExecutor struct {
	session *Session
	logger  *zap.Logger
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.session.RunActions(ctx, chromedp.Sleep(d))
}

func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))

	opCtx, cancel := context.WithTimeout(ctx, inputDispatchTimeout)
	defer cancel()

	if err := e.session.RunActions(opCtx, p); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mouse event dispatch timed out after %v: %w", inputDispatchTimeout, opCtx.Err())
		}
		return err
	}
	return nil
}

func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, inputDispatchTimeout)
	defer cancel()

	if err := e.session.RunActions(opCtx, chromedp.KeyEvent(keys)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("key dispatch timed out after %v: %w", inputDispatchTimeout, opCtx.Err())
		}
		return err
	}
	return nil
}

// GetElementGeometry fetches geometry and visibility in a single JS round
// trip. A hidden or missing element returns null, surfaced as an error.
func (e *cdpExecutor) GetElementGeometry(ctx context.Context, selector string) (*humanoid.ElementGeometry, error) {
	script := fmt.Sprintf(`
		(function(sel) {
			const node = document.querySelector(sel);
			if (!node) return null;

			const rect = node.getBoundingClientRect();
			const style = window.getComputedStyle(node);
			const visible = rect.width > 0 && rect.height > 0 &&
				style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
			if (!visible) return null;

			return {
				vertices: [
					rect.left, rect.top,
					rect.right, rect.top,
					rect.right, rect.bottom,
					rect.left, rect.bottom
				],
				width: Math.round(rect.width),
				height: Math.round(rect.height)
			};
		})(%s);`, jsonEncode(selector))

	var raw json.RawMessage
	opCtx, cancel := context.WithTimeout(ctx, inputDispatchTimeout)
	defer cancel()

	err := e.session.RunActions(opCtx, chromedp.Evaluate(script, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true)
		}))
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout getting geometry for %q: %w", selector, opCtx.Err())
		}
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("element %q not found or not visible", selector)
	}

	var result struct {
		Vertices []float64 `json:"vertices"`
		Width    int64     `json:"width"`
		Height   int64     `json:"height"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding geometry for %q: %w", selector, err)
	}
	return &humanoid.ElementGeometry{
		Vertices: result.Vertices,
		Width:    result.Width,
		Height:   result.Height,
	}, nil
}

// ExecuteScript invokes a JS function expression with JSON-encoded arguments.
func (e *cdpExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	invocation := fmt.Sprintf("(%s)(%s)", script, strings.Join(encoded, ", "))

	var raw json.RawMessage
	err := e.session.RunActions(ctx, chromedp.Evaluate(invocation, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
