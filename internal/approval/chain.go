// Package approval implements ordered multi-level sign-off.
//
// A Chain is a pure value: it knows nothing about storage and can back any
// workflow that needs N-party approval. ChangeRequest is the workflow that
// persists one.
package approval

import (
	"slices"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
)

type Level string

const (
	Level1     Level = "level_1"
	Level2     Level = "level_2"
	Level3     Level = "level_3"
	LevelFinal Level = "final"
)

// Levels is the canonical order. A chain uses a subsequence of it ending in
// LevelFinal.
var Levels = []Level{Level1, Level2, Level3, LevelFinal}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

type Step struct {
	Level  Level
	Status StepStatus
}

type Chain struct {
	Steps []Step
}

// NewChain builds a pending chain. With no levels it uses all of Levels.
func NewChain(levels ...Level) (Chain, error) {
	const op = "approval.NewChain"
	if len(levels) == 0 {
		levels = Levels
	}
	if levels[len(levels)-1] != LevelFinal {
		return Chain{}, apperr.Validation(op, "the last level must be %s", LevelFinal)
	}
	last := -1
	steps := make([]Step, 0, len(levels))
	for _, l := range levels {
		i := slices.Index(Levels, l)
		if i < 0 {
			return Chain{}, apperr.Validation(op, "unknown level %q", l)
		}
		if i <= last {
			return Chain{}, apperr.Validation(op, "levels must be distinct and in order")
		}
		last = i
		steps = append(steps, Step{Level: l, Status: StepPending})
	}
	return Chain{Steps: steps}, nil
}

// Outcome is rejected as soon as any step is rejected, approved once the
// final step is approved, and pending otherwise.
func (c Chain) Outcome() Outcome {
	for _, s := range c.Steps {
		if s.Status == StepRejected {
			return OutcomeRejected
		}
	}
	if n := len(c.Steps); n > 0 && c.Steps[n-1].Status == StepApproved {
		return OutcomeApproved
	}
	return OutcomePending
}

// Next returns the only level that can currently be decided.
func (c Chain) Next() (Level, bool) {
	if c.Outcome() != OutcomePending {
		return "", false
	}
	for _, s := range c.Steps {
		if s.Status == StepPending {
			return s.Level, true
		}
	}
	return "", false
}

// CanDecide reports whether level is decidable now: the chain is not frozen,
// the level is pending and every lower level is approved.
func (c Chain) CanDecide(level Level) error {
	const op = "approval.Decide"
	i := c.index(level)
	if i < 0 {
		return apperr.Validation(op, "level %q is not part of this chain", level)
	}
	if out := c.Outcome(); out != OutcomePending {
		return apperr.InvalidState(op, "chain is %s; level %s can no longer be decided", out, level)
	}
	if s := c.Steps[i].Status; s != StepPending {
		return apperr.InvalidTransition(op, "approval level "+string(level), string(s), "decided")
	}
	for _, lower := range c.Steps[:i] {
		if lower.Status != StepApproved {
			return apperr.InvalidState(op, "level %s cannot be decided before %s is approved", level, lower.Level)
		}
	}
	return nil
}

// Decide approves or rejects level and returns the resulting outcome.
func (c *Chain) Decide(level Level, approve bool) (Outcome, error) {
	if err := c.CanDecide(level); err != nil {
		return c.Outcome(), err
	}
	status := StepRejected
	if approve {
		status = StepApproved
	}
	c.Steps[c.index(level)].Status = status
	return c.Outcome(), nil
}

func (c Chain) index(level Level) int {
	return slices.IndexFunc(c.Steps, func(s Step) bool { return s.Level == level })
}
