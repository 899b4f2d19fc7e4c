package domain

import (
	"fmt"
	"strings"
)

// BackendFailure records why one backend's attempt failed.
type BackendFailure struct {
	Backend string
	Reason  string
}

// ExhaustedError is returned when every configured backend failed. The
// message enumerates each backend's failure so operators see the whole
// picture, not just the last attempt.
type ExhaustedError struct {
	Operation string
	Failures  []BackendFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Backend, f.Reason))
	}
	return fmt.Sprintf("facilitator %s failed on all backends: %s", e.Operation, strings.Join(parts, "; "))
}
