package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisionos/internal/domain"
)

func TestNext(t *testing.T) {
	next, ok := Next(domain.StatusDrafting)
	require.True(t, ok)
	assert.Equal(t, domain.StatusExecuting, next)
	_, ok = Next(domain.StatusClosed)
	assert.False(t, ok)
	_, ok = Next("ARCHIVED")
	assert.False(t, ok)
}

func TestStyleFor(t *testing.T) {
	assert.Equal(t, "amber", StyleFor(domain.StatusDrafting).Color)
	assert.Equal(t, "blue", StyleFor(domain.StatusExecuting).Color)
	assert.Equal(t, "purple", StyleFor(domain.StatusReview).Color)
	assert.Equal(t, "teal", StyleFor(domain.StatusOutcome).Color)
	assert.Equal(t, "neutral", StyleFor(domain.StatusClosed).Color)
	unknown := StyleFor("ARCHIVED")
	assert.Equal(t, "ARCHIVED", unknown.Label)
	assert.Equal(t, "neutral", unknown.Color)
}

func TestPhases(t *testing.T) {
	locked := "2026-01-06T00:00:00Z"
	c := domain.DecisionCycle{Status: domain.StatusDrafting}
	assert.Equal(t, PhaseState{}, Phases(c))

	c.Hypothesis.LockedAt = &locked
	c.Status = domain.StatusReview
	assert.Equal(t, PhaseState{Hypothesis: true, Evidence: true}, Phases(c))

	c.Review = &domain.Review{Verdict: domain.VerdictValidated}
	c.Outcome = &domain.Outcome{Decision: domain.DecisionProceed}
	c.Status = domain.StatusClosed
	assert.Equal(t, PhaseState{Hypothesis: true, Evidence: true, Review: true, Outcome: true}, Phases(c))
}

func TestCheckTransition(t *testing.T) {
	c := domain.DecisionCycle{Status: domain.StatusDrafting}

	err := CheckTransition(c, domain.StatusExecuting)
	var te TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "hypothesis must be locked", te.Reason)

	locked := "2026-01-06T00:00:00Z"
	c.Hypothesis.LockedAt = &locked
	assert.NoError(t, CheckTransition(c, domain.StatusExecuting))
	assert.Error(t, CheckTransition(c, domain.StatusReview), "skipping a phase")

	c.Status = domain.StatusExecuting
	assert.NoError(t, CheckTransition(c, domain.StatusReview))
	assert.Error(t, CheckTransition(c, domain.StatusDrafting), "moving backwards")

	c.Status = domain.StatusReview
	assert.Error(t, CheckTransition(c, domain.StatusOutcome))
	c.Review = &domain.Review{Verdict: domain.VerdictNotValidated}
	assert.NoError(t, CheckTransition(c, domain.StatusOutcome))

	c.Status = domain.StatusOutcome
	assert.Error(t, CheckTransition(c, domain.StatusClosed))
	c.Outcome = &domain.Outcome{Decision: domain.DecisionIterate}
	assert.NoError(t, CheckTransition(c, domain.StatusClosed))

	c.Status = domain.StatusClosed
	assert.Error(t, CheckTransition(c, "REOPENED"))
}

func TestCheckStepIgnoresPhases(t *testing.T) {
	c := domain.DecisionCycle{Status: domain.StatusDrafting}
	assert.NoError(t, CheckStep(c, domain.StatusExecuting))
	assert.Error(t, CheckPhase(c, domain.StatusExecuting))
	assert.Error(t, CheckStep(c, domain.StatusClosed))

	c.Status = domain.StatusClosed
	assert.Error(t, CheckStep(c, domain.StatusDrafting), "closed is terminal")
}
