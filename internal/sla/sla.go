// Package sla derives the urgency tier of a conversation from its creation
// time and configured response deadline. Evaluation is pure; callers decide
// how often to re-evaluate.
package sla

import (
	"fmt"
	"time"
)

// State is the derived SLA tier.
type State string

const (
	None    State = "none"
	OnTrack State = "on_track"
	AtRisk  State = "at_risk"
	Expired State = "expired"
)

// atRiskDivisor puts the at-risk threshold at a quarter of the total window.
const atRiskDivisor = 4

// Evaluation is the result of Evaluate.
type Evaluation struct {
	State     State         `json:"state"`
	Remaining time.Duration `json:"remaining"`
}

// Evaluate computes the SLA tier at now. A nil deadline means no SLA is tracked.
func Evaluate(createdAt time.Time, deadlineAt *time.Time, now time.Time) Evaluation {
	if deadlineAt == nil {
		return Evaluation{State: None}
	}
	deadline := *deadlineAt
	if !now.Before(deadline) {
		return Evaluation{State: Expired}
	}

	total := deadline.Sub(createdAt)
	remaining := deadline.Sub(now)
	if total <= 0 {
		return Evaluation{State: AtRisk, Remaining: remaining}
	}
	// remaining < total/4 without losing precision on odd durations.
	if remaining*atRiskDivisor < total {
		return Evaluation{State: AtRisk, Remaining: remaining}
	}
	return Evaluation{State: OnTrack, Remaining: remaining}
}

// Urgent reports whether the tier needs operator attention.
func (e Evaluation) Urgent() bool {
	return e.State == AtRisk || e.State == Expired
}

func (e Evaluation) String() string {
	switch e.State {
	case None:
		return "no SLA"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("%s (%s left)", e.State, FormatRemaining(e.Remaining))
	}
}

// FormatRemaining renders a duration as the coarse h/m/s countdown shown to operators.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	s := int((d % time.Minute) / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
