// Package provider fetches prayer schedules from the AlAdhan API and resolves
// city names to coordinates via Nominatim.
package provider

import (
	"fmt"
)

// Error wraps provider failures with enough context to decide whether the
// failure is transient (network, 5xx) or permanent (bad input, 4xx).
type Error struct {
	Service string // "aladhan" or "nominatim"
	Status  int    // HTTP status, 0 when the request never completed
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request later may succeed.
func (e *Error) Transient() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}
