package domain

import "strings"

// Status is a transaction lifecycle state. The set is closed and transitions
// go through the table below; callers never flip status strings directly.
type Status string

const (
	StatusPending       Status = "pending"
	StatusManualReview  Status = "pending_manual_review"
	StatusCompleted     Status = "completed"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
)

var statusTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusManualReview: {},
		StatusCompleted:    {},
		StatusRejected:     {},
		StatusExpired:      {},
	},
	StatusManualReview: {
		StatusCompleted: {},
		StatusRejected:  {},
		StatusExpired:   {},
	},
	StatusCompleted: {},
	StatusRejected:  {},
	StatusExpired:   {},
}

// ParseStatus normalizes a stored status string.
func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether the status belongs to the closed set.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	next, ok := statusTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether current -> next is a legal transition.
func CanTransition(current, next Status) bool {
	allowed, ok := statusTransitions[current]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}
