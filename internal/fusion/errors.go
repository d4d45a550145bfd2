package fusion

import (
	"errors"
	"fmt"
)

// StaleSignalError marks work aborted because the attempt it referenced is
// no longer live: disposed, superseded, or the conversation was rebound to a
// newer attempt while the work was suspended at an I/O boundary.
//
// Stale signals are expected, recovered locally, and never surfaced to the
// user; callers log them at debug level and drop the work.
type StaleSignalError struct {
	AttemptID      string
	ConversationID string
	Cause          string
}

// Error implements the error interface.
func (e *StaleSignalError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("stale signal for attempt %s (conversation %s): %s",
			e.AttemptID, e.ConversationID, e.Cause)
	}
	return fmt.Sprintf("stale signal for attempt %s: %s", e.AttemptID, e.Cause)
}

// IsStaleSignal reports whether err is a StaleSignalError.
// Uses errors.As to handle wrapped errors.
func IsStaleSignal(err error) bool {
	var se *StaleSignalError
	return errors.As(err, &se)
}

// staleCause returns the bare cause of a StaleSignalError for event
// payloads, falling back to the full error text for other errors.
func staleCause(err error) string {
	var se *StaleSignalError
	if errors.As(err, &se) {
		return se.Cause
	}
	return err.Error()
}
