// Package membership holds the member lifecycle rules: which status changes
// are allowed and when a renewal may skip manual approval.
package membership

import (
	"fmt"

	"github.com/dukerupert/roster/internal/model"
)

// transitions is the complete set of allowed status changes. Targets are
// listed in the order a UI should offer them.
var transitions = map[model.MemberStatus][]model.MemberStatus{
	model.StatusAwaitingPayment: {
		model.StatusActive,
		model.StatusAwaitingApproval,
		model.StatusRejected,
	},
	model.StatusAwaitingApproval: {
		model.StatusActive,
		model.StatusRejected,
	},
	model.StatusActive: {
		model.StatusResigned,
	},
	model.StatusResigned: {
		model.StatusActive,
	},
	model.StatusRejected: {
		model.StatusActive,
	},
}

// InvalidTransitionError is returned when a status change is not in the
// transition table.
type InvalidTransitionError struct {
	From model.MemberStatus
	To   model.MemberStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid member status transition from %q to %q", e.From, e.To)
}

// IsValidTransition reports whether a member may move from one status to
// another. A status never transitions to itself.
func IsValidTransition(from, to model.MemberStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns to if the change is allowed, otherwise an
// *InvalidTransitionError naming both statuses.
func ValidateTransition(from, to model.MemberStatus) (model.MemberStatus, error) {
	if !IsValidTransition(from, to) {
		return "", &InvalidTransitionError{From: from, To: to}
	}
	return to, nil
}

// ValidTargetStatuses returns the statuses reachable from from. The result is
// a fresh slice and is empty only for unknown statuses.
func ValidTargetStatuses(from model.MemberStatus) []model.MemberStatus {
	targets := transitions[from]
	out := make([]model.MemberStatus, len(targets))
	copy(out, targets)
	return out
}

// PartitionTransitions splits members into those that may move to status to
// and the IDs of those that may not. Bulk operations act only on the first
// group and report the second as skipped.
func PartitionTransitions(members []model.Member, to model.MemberStatus) (valid []model.Member, skipped []int64) {
	for _, m := range members {
		if IsValidTransition(m.Status, to) {
			valid = append(valid, m)
		} else {
			skipped = append(skipped, m.ID)
		}
	}
	return valid, skipped
}
