package reservation

import "github.com/iliyamo/event-seat-bot/internal/model"

// effect is what a transition does to the seat counters.
type effect int

const (
	effectNone effect = iota
	effectApprove
	effectRelease
	effectReturn
)

func (e effect) String() string {
	switch e {
	case effectApprove:
		return "settle(approve)"
	case effectRelease:
		return "settle(release)"
	case effectReturn:
		return "return-consumed"
	}
	return "none"
}

// transitions lists every allowed status change and its ledger effect.
// Anything missing is rejected.  REJECTED, REFUNDED, TRANSFERRED,
// POSTPONED, CANCELED and MIGRATED are terminal.
var transitions = map[model.Status]map[model.Status]effect{
	model.StatusCreated: {
		model.StatusPaid:     effectNone,
		model.StatusApproved: effectApprove,
		model.StatusCanceled: effectRelease,
		model.StatusRejected: effectRelease,
	},
	model.StatusPaid: {
		model.StatusApproved: effectApprove,
		model.StatusRejected: effectRelease,
		model.StatusRefunded: effectRelease,
	},
	model.StatusApproved: {
		model.StatusRejected:    effectReturn,
		model.StatusRefunded:    effectReturn,
		model.StatusTransferred: effectReturn,
		model.StatusMigrated:    effectReturn,
		model.StatusCanceled:    effectReturn,
		model.StatusPostponed:   effectReturn,
	},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to model.Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Terminal reports whether no transition leaves s.
func Terminal(s model.Status) bool { return len(transitions[s]) == 0 }
