// Package goal owns the canonical goal/objective status state machine and
// the append-only transition ledger that drives it.
package goal

import (
	"errors"
	"fmt"
)

// Status is a canonical goal status. The goals.status column is always the
// newest ledger entry's NewStatus; nothing writes it outside this package.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusDraft      Status = "DRAFT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
	StatusSuspended  Status = "SUSPENDED"
)

// ObjectiveStatus is the separate status set for objectives.
type ObjectiveStatus string

const (
	ObjectiveNotStarted ObjectiveStatus = "NOT_STARTED"
	ObjectiveInProgress ObjectiveStatus = "IN_PROGRESS"
	ObjectiveComplete   ObjectiveStatus = "COMPLETE"
	ObjectiveSuspended  ObjectiveStatus = "SUSPENDED"
)

var ErrInvalidStatus = errors.New("invalid goal status")

var goalStatuses = map[Status]struct{}{
	StatusNotStarted: {},
	StatusDraft:      {},
	StatusInProgress: {},
	StatusClosed:     {},
	StatusSuspended:  {},
}

// ParseStatus validates a status value coming in from the API boundary.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if _, ok := goalStatuses[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// ObjectiveIsTerminal reports whether a cascade may no longer touch the
// objective. Complete and Suspended are never overwritten.
func ObjectiveIsTerminal(status ObjectiveStatus) bool {
	return status == ObjectiveComplete || status == ObjectiveSuspended
}
