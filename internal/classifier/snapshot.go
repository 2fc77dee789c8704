// File: internal/classifier/snapshot.go

package classifier

import (
	"context"
)

// Page is the browser surface the classifier reads. *browser.Session
// satisfies it.
type Page interface {
	Evaluate(ctx context.Context, expression string, res interface{}) error
	BodyText(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, name string) string
}

// Snapshot is one atomic capture of every signal source the cascade
// inspects. All sources come from a single script evaluation so the signals
// cannot contradict each other through DOM churn between reads.
type Snapshot struct {
	URL          string   `json:"url"`
	Notification string   `json:"notification"`
	InlineErrors []string `json:"inline_errors"`
	Dialog       string   `json:"dialog"`
	Alerts       []string `json:"alerts"`
	BodySnippet  string   `json:"body_snippet"`
	FormVisible  bool     `json:"form_visible"`
	// SourceFormVisible means a form plus a create/register heading is still
	// on the page, the low-confidence signal behind the full-mode fallback.
	SourceFormVisible bool `json:"source_form_visible"`
	// ContentChanged is filled in by the caller from WaitForContentChange;
	// it is evidence, not a cascade input.
	ContentChanged bool `json:"content_changed"`
}

const snapshotScript = `(function() {
	const result = {
		url: window.location.href,
		notification: '',
		inline_errors: [],
		dialog: '',
		alerts: [],
		body_snippet: '',
		form_visible: false,
		source_form_visible: false,
		content_changed: false
	};

	const snackbar = document.querySelector(
		'mat-snack-bar-container, .mat-mdc-snack-bar-container, ' +
		'simple-snack-bar, .mat-mdc-simple-snack-bar, ' +
		'.mat-snack-bar-container, snack-bar-container'
	);
	if (snackbar) result.notification = snackbar.innerText.trim();

	if (!result.notification) {
		const overlay = document.querySelector(
			'.cdk-overlay-container .mat-mdc-snack-bar-container, ' +
			'.cdk-overlay-container mat-snack-bar-container, ' +
			'.cdk-overlay-container simple-snack-bar'
		);
		if (overlay) result.notification = overlay.innerText.trim();
	}

	document.querySelectorAll('mat-error, .mat-mdc-form-field-error, .mat-error')
		.forEach(el => {
			const text = el.innerText.trim();
			if (text) result.inline_errors.push(text);
		});

	const dialog = document.querySelector(
		'mat-dialog-container, .mat-mdc-dialog-container, ' +
		'.cdk-overlay-container mat-dialog-container'
	);
	if (dialog) result.dialog = dialog.innerText.trim().substring(0, 500);

	const alertSelectors = [
		'.alert', '.toast', '[role="alert"]',
		'.notification', '.message-box',
		'.error-message', '.success-message',
		'.alert-danger', '.alert-success', '.alert-warning'
	];
	for (const sel of alertSelectors) {
		document.querySelectorAll(sel).forEach(el => {
			const text = el.innerText.trim();
			if (text && text.length > 3) result.alerts.push(text.substring(0, 200));
		});
	}

	const body = document.body ? document.body.innerText : '';
	result.body_snippet = body.substring(0, 1000);

	const form = document.querySelector('form');
	if (form) {
		result.form_visible = true;
		const heading = document.querySelector('h1, h2, h3');
		if (heading) {
			const hText = heading.innerText.toLowerCase();
			if (hText.includes('create') || hText.includes('register')) {
				result.source_form_visible = true;
			}
		}
	}
	return result;
})()`

// CaptureSnapshot reads all signal sources in one round trip.
func CaptureSnapshot(ctx context.Context, page Page) (Snapshot, error) {
	var snap Snapshot
	if err := page.Evaluate(ctx, snapshotScript, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
