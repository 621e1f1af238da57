package lifecycle

import (
	"fmt"

	"decisionos/internal/domain"
)

// Statuses lists cycle states in lifecycle order.
var Statuses = []domain.Status{
	domain.StatusDrafting,
	domain.StatusExecuting,
	domain.StatusReview,
	domain.StatusOutcome,
	domain.StatusClosed,
}

func index(s domain.Status) int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known cycle status.
func Valid(s domain.Status) bool {
	return index(s) >= 0
}

// Next returns the status following s, or false when s is terminal or unknown.
func Next(s domain.Status) (domain.Status, bool) {
	i := index(s)
	if i < 0 || i == len(Statuses)-1 {
		return "", false
	}
	return Statuses[i+1], true
}

// Style is how a status is presented.
type Style struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Color string `json:"color" enum:"amber,blue,purple,teal,neutral"`
}

func StyleFor(s domain.Status) Style {
	switch s {
	case domain.StatusDrafting:
		return Style{Label: "Drafting", Icon: "💡", Color: "amber"}
	case domain.StatusExecuting:
		return Style{Label: "Executing", Icon: "🔬", Color: "blue"}
	case domain.StatusReview:
		return Style{Label: "Review", Icon: "📊", Color: "purple"}
	case domain.StatusOutcome:
		return Style{Label: "Outcome", Icon: "🎯", Color: "teal"}
	case domain.StatusClosed:
		return Style{Label: "Closed", Icon: "✅", Color: "neutral"}
	default:
		return Style{Label: string(s), Icon: "📄", Color: "neutral"}
	}
}

// PhaseState marks which of the four phases a cycle has completed.
type PhaseState struct {
	Hypothesis bool `json:"hypothesis"`
	Evidence   bool `json:"evidence"`
	Review     bool `json:"review"`
	Outcome    bool `json:"outcome"`
}

func Phases(c domain.DecisionCycle) PhaseState {
	return PhaseState{
		Hypothesis: c.Hypothesis.Locked(),
		Evidence:   index(c.Status) >= index(domain.StatusExecuting),
		Review:     c.Review != nil,
		Outcome:    c.Outcome != nil,
	}
}

// AcceptsEvidence reports whether evidence may be attached in status s.
func AcceptsEvidence(s domain.Status) bool {
	return s == domain.StatusExecuting || s == domain.StatusReview
}

// TransitionError explains why a status change was refused.
type TransitionError struct {
	From   domain.Status
	To     domain.Status
	Reason string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot move cycle from %s to %s: %s", e.From, e.To, e.Reason)
}

// CheckTransition validates moving c to status to. Only single forward steps are
// allowed, and each step requires the previous phase to be complete.
func CheckTransition(c domain.DecisionCycle, to domain.Status) error {
	if err := CheckStep(c, to); err != nil {
		return err
	}
	return CheckPhase(c, to)
}

// CheckStep allows only a known status exactly one step after the current one.
func CheckStep(c domain.DecisionCycle, to domain.Status) error {
	if !Valid(to) {
		return TransitionError{From: c.Status, To: to, Reason: "unknown status"}
	}
	next, ok := Next(c.Status)
	if !ok || next != to {
		return TransitionError{From: c.Status, To: to, Reason: "status moves forward one phase at a time"}
	}
	return nil
}

// CheckPhase requires the phase that precedes status to to be complete.
func CheckPhase(c domain.DecisionCycle, to domain.Status) error {
	switch to {
	case domain.StatusExecuting:
		if !c.Hypothesis.Locked() {
			return TransitionError{From: c.Status, To: to, Reason: "hypothesis must be locked"}
		}
	case domain.StatusOutcome:
		if c.Review == nil {
			return TransitionError{From: c.Status, To: to, Reason: "review required"}
		}
	case domain.StatusClosed:
		if c.Outcome == nil {
			return TransitionError{From: c.Status, To: to, Reason: "outcome required"}
		}
	}
	return nil
}
