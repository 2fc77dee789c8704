// File: internal/flow/checkbox.go

package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// The registration form carries three Material consent checkboxes. Their
// framework keeps reactive form state decoupled from the DOM checked
// attribute: a click can flip the visual state while the FormControl stays
// invalid, which keeps the submit control disabled. Activation therefore
// escalates through strategies and verifies BOTH signals after each one.
const consentCheckboxCount = 3

// checkboxState is the dual verification probe: the raw DOM checked
// attribute and the framework's validity class on the component.
type checkboxState struct {
	Found   bool `json:"found"`
	Checked bool `json:"checked"`
	NgValid bool `json:"ng_valid"`
}

func probeCheckbox(ctx context.Context, s Session, index int) checkboxState {
	var st checkboxState
	expr := fmt.Sprintf(`(() => {
		const cb = document.querySelectorAll('mat-checkbox')[%d];
		if (!cb) return { found: false, checked: false, ng_valid: false };
		const input = cb.querySelector('input[type="checkbox"]');
		return {
			found: true,
			checked: input ? input.checked : false,
			ng_valid: cb.classList.contains('ng-valid') || !cb.classList.contains('ng-invalid'),
		};
	})()`, index)
	_ = s.Evaluate(ctx, expr, &st)
	return st
}

type activationStrategy struct {
	name    string
	attempt func(ctx context.Context, s Session, index int) error
}

var activationStrategies = []activationStrategy{
	{name: "component_click", attempt: clickCheckboxComponent},
	{name: "inner_element_click", attempt: clickCheckboxInner},
	{name: "framework_state_set", attempt: setCheckboxViaFramework},
	{name: "synthetic_pointer_chain", attempt: dispatchCheckboxPointerChain},
}

// activateCheckbox walks the strategy ladder for one consent checkbox.
// Success requires DOM checked AND framework validity; a checkbox that ends
// checked but framework-invalid is accepted with a warning, since the
// force-set recovery pass can still repair the form state.
func activateCheckbox(ctx context.Context, s Session, index int, logger *zap.Logger) bool {
	l := logger.With(zap.Int("checkbox", index+1))

	for _, strat := range activationStrategies {
		if err := strat.attempt(ctx, s, index); err != nil {
			l.Debug("Activation strategy failed", zap.String("strategy", strat.name), zap.Error(err))
			continue
		}
		_ = s.Human().Pause(ctx, 500*time.Millisecond, 800*time.Millisecond)

		st := probeCheckbox(ctx, s, index)
		l.Debug("Checkbox state after strategy",
			zap.String("strategy", strat.name),
			zap.Bool("dom_checked", st.Checked),
			zap.Bool("framework_valid", st.NgValid))
		if st.Checked && st.NgValid {
			l.Info("Checkbox activated", zap.String("strategy", strat.name))
			return true
		}
	}

	if st := probeCheckbox(ctx, s, index); st.Checked {
		l.Warn("Checkbox is checked but the framework still reports it invalid")
		return true
	}
	l.Warn("Every activation strategy failed")
	s.Screenshot(ctx, fmt.Sprintf("checkbox_%d_failed", index+1))
	return false
}

// checkboxCenter positions the cursor target for a component-level or
// inner-element click. inner selects the visual square inside the component.
func checkboxCenter(ctx context.Context, s Session, index int, inner bool) (x, y float64, err error) {
	innerSel := ""
	if inner {
		innerSel = ".mdc-checkbox"
	}
	expr := fmt.Sprintf(`(() => {
		let el = document.querySelectorAll('mat-checkbox')[%d];
		if (!el) return null;
		const innerSel = %s;
		if (innerSel) {
			el = el.querySelector(innerSel);
			if (!el) return null;
		}
		el.scrollIntoView({ block: 'center' });
		const r = el.getBoundingClientRect();
		return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
	})()`, index, jsString(innerSel))

	var pt *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.Evaluate(ctx, expr, &pt); err != nil {
		return 0, 0, err
	}
	if pt == nil {
		return 0, 0, errors.New("element not found")
	}
	return pt.X, pt.Y, nil
}

// (a) Click the component itself: its own click handler updates the
// FormControl through the value accessor.
func clickCheckboxComponent(ctx context.Context, s Session, index int) error {
	x, y, err := checkboxCenter(ctx, s, index, false)
	if err != nil {
		return err
	}
	_ = s.Human().Pause(ctx, 300*time.Millisecond, 500*time.Millisecond)
	return s.Human().ClickAt(ctx, x, y)
}

// (b) Click the visible square inside the component, the exact element a
// person aims at.
func clickCheckboxInner(ctx context.Context, s Session, index int) error {
	x, y, err := checkboxCenter(ctx, s, index, true)
	if err != nil {
		return err
	}
	return s.Human().ClickAt(ctx, x, y)
}

// (c) Mutate the component state through the framework's debug API, with a
// DOM-event fallback when the API is absent.
func setCheckboxViaFramework(ctx context.Context, s Session, index int) error {
	expr := fmt.Sprintf(`(() => {
		const cb = document.querySelectorAll('mat-checkbox')[%d];
		if (!cb) return { ok: false, reason: 'component not found' };

		let toggled = false;
		if (window.ng && window.ng.getComponent) {
			try {
				const comp = window.ng.getComponent(cb);
				if (comp) {
					if (typeof comp.toggle === 'function') {
						comp.toggle();
						toggled = true;
					} else if ('checked' in comp) {
						comp.checked = !comp.checked;
						if (comp._changeDetectorRef) comp._changeDetectorRef.markForCheck();
						toggled = true;
					}
				}
			} catch (e) {}
		}

		if (!toggled) {
			const input = cb.querySelector('input[type="checkbox"]');
			if (!input) return { ok: false, reason: 'no input element' };
			input.checked = true;
			input.dispatchEvent(new Event('change', { bubbles: true, cancelable: true }));
			const r = cb.getBoundingClientRect();
			const click = new MouseEvent('click', {
				bubbles: true, cancelable: true, view: window,
				clientX: r.x + 10, clientY: r.y + 10,
			});
			const square = cb.querySelector('.mdc-checkbox');
			if (square) square.dispatchEvent(click);
			toggled = true;
		}
		return { ok: toggled };
	})()`, index)

	var res struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := s.Evaluate(ctx, expr, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("framework mutation refused: %s", res.Reason)
	}
	return nil
}

// (d) Full synthetic pointer sequence at the component center, the last
// resort before giving up.
func dispatchCheckboxPointerChain(ctx context.Context, s Session, index int) error {
	expr := fmt.Sprintf(`(() => {
		const cb = document.querySelectorAll('mat-checkbox')[%d];
		if (!cb) return false;
		const r = cb.getBoundingClientRect();
		const x = r.left + r.width / 2;
		const y = r.top + r.height / 2;
		for (const type of ['pointerdown', 'mousedown', 'pointerup', 'mouseup', 'click']) {
			cb.dispatchEvent(new PointerEvent(type, {
				bubbles: true, cancelable: true, composed: true,
				clientX: x, clientY: y, view: window,
				button: 0, buttons: type.includes('down') ? 1 : 0,
				pointerId: 1, pointerType: 'mouse',
			}));
		}
		return true;
	})()`, index)

	var dispatched bool
	if err := s.Evaluate(ctx, expr, &dispatched); err != nil {
		return err
	}
	if !dispatched {
		return errors.New("component not found")
	}
	return nil
}

// formValid reports the framework's overall validity class on the form.
func formValid(ctx context.Context, s Session) bool {
	var valid bool
	_ = s.Evaluate(ctx, `(() => {
		const form = document.querySelector('form');
		return !!form && form.classList.contains('ng-valid');
	})()`, &valid)
	return valid
}

// forceSetConsentControls writes every consent FormControl to true through
// the framework API, marking controls dirty and touched so validators rerun.
// Recovery path for when all click strategies left the form invalid.
func forceSetConsentControls(ctx context.Context, s Session, logger *zap.Logger) bool {
	expr := `(() => {
		const checkboxes = document.querySelectorAll('mat-checkbox');
		for (const cb of checkboxes) {
			const input = cb.querySelector('input[type="checkbox"]');
			if (window.ng && window.ng.getComponent) {
				try {
					const comp = window.ng.getComponent(cb);
					if (comp && 'checked' in comp) {
						comp.checked = true;
						if (comp.writeValue) comp.writeValue(true);
						if (comp._controlValueAccessor && comp._controlValueAccessor.onChange) {
							comp._controlValueAccessor.onChange(true);
						}
						if (comp._changeDetectorRef) {
							comp._changeDetectorRef.markForCheck();
							comp._changeDetectorRef.detectChanges();
						}
					}
				} catch (e) {}
			}
			if (input) input.checked = true;
		}

		// Flip every still-false boolean control on the form group itself.
		try {
			const formEl = document.querySelector('form');
			if (formEl && window.ng && window.ng.getComponent) {
				const host = window.ng.getComponent(formEl) || window.ng.getComponent(formEl.parentElement);
				const group = host && (host.registerForm || host.form || host.formGroup);
				if (group && group.controls) {
					for (const ctrl of Object.values(group.controls)) {
						if (ctrl.value === false) {
							ctrl.setValue(true);
							ctrl.markAsDirty();
							ctrl.markAsTouched();
						}
					}
				}
			}
			if (window.ng && window.ng.applyChanges) {
				window.ng.applyChanges(document.querySelector('form'));
			}
		} catch (e) {}

		const form = document.querySelector('form');
		return !!form && form.classList.contains('ng-valid');
	})()`

	var valid bool
	if err := s.Evaluate(ctx, expr, &valid); err != nil {
		logger.Warn("Forcing consent control state failed", zap.Error(err))
		return false
	}
	logger.Info("Consent controls force-set", zap.Bool("form_valid", valid))
	return valid
}
