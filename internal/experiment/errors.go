package experiment

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a run produced no dataset row.
type Kind string

const (
	// KindPreflight: controller unreachable or a probing tool is missing.
	// Nothing emulated was created.
	KindPreflight Kind = "preflight"
	// KindInvocation: bring-up, a launch or the wait failed or was cancelled.
	KindInvocation Kind = "invocation"
	// KindPersistence: output directories or the dataset row could not be written.
	KindPersistence Kind = "persistence"
)

// Failure is the error returned by Orchestrator.Run.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the failure kind from err.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

func fail(kind Kind, err error, msg string) error {
	return &Failure{Kind: kind, Err: errors.Wrap(err, msg)}
}
