// File: internal/classifier/outcome.go

// Package classifier decides what a form submission did. The portal is a
// single-page application: the URL rarely changes on failure and may lag on
// success, so the verdict comes from an ordered cascade over a DOM snapshot
// rather than any single signal.
package classifier

// Status is the top-level verdict.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAmbiguous Status = "ambiguous"
)

// Category names the known failure families.
type Category string

const (
	CategoryNone                Category = ""
	CategoryDuplicateAccount    Category = "duplicate_account"
	CategoryPasswordPolicy      Category = "password_policy"
	CategoryFormValidation      Category = "form_validation"
	CategoryUnknownNotification Category = "unknown_notification"
)

// Outcome is the classification verdict with the evidence that produced it.
type Outcome struct {
	Status   Status
	Category Category
	// Message is the matched signal text, or a description of the deciding
	// heuristic.
	Message  string
	Evidence Snapshot
}

func succeeded(msg string, snap Snapshot) Outcome {
	return Outcome{Status: StatusSucceeded, Message: msg, Evidence: snap}
}

func failed(cat Category, msg string, snap Snapshot) Outcome {
	return Outcome{Status: StatusFailed, Category: cat, Message: msg, Evidence: snap}
}

func ambiguous(snap Snapshot) Outcome {
	return Outcome{Status: StatusAmbiguous, Message: "no definitive signal found", Evidence: snap}
}
