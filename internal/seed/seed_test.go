package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisionos/internal/db"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/migrate"
	"decisionos/internal/okr"
	"decisionos/internal/repo"
	"decisionos/internal/seed"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC) }
	return eng
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	res, err := seed.Load(ctx, eng, "seed")
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Projects: 3, Cycles: 4}, res)

	res, err = seed.Load(ctx, eng, "seed")
	require.NoError(t, err)
	assert.Equal(t, seed.Result{}, res)

	cycles, err := eng.Repo.ListCycles(ctx, repo.CycleFilters{})
	require.NoError(t, err)
	require.Len(t, cycles, 4)
	// newest first
	assert.Equal(t, "cycle_4", cycles[0].ID)
}

func TestFixturesMatchDemoData(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	_, err := seed.Load(ctx, eng, "seed")
	require.NoError(t, err)

	c1, err := eng.Repo.GetCycle(ctx, "cycle_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, c1.Status)
	assert.Equal(t, "Mobile App Redesign", c1.ProjectName)
	require.Len(t, c1.Evidence, 2)
	require.NotNil(t, c1.Outcome)
	assert.Equal(t, domain.DecisionProceed, c1.Outcome.Decision)

	krs := okr.ParseSuccessCriteria(c1.Hypothesis.SuccessCriteria)
	want := []domain.KeyResult{
		{Metric: "Signup completion rate reaches 65% or higher"},
		{Metric: "Time to complete signup reduces by 50%", Target: "-50%"},
		{Metric: "User feedback score", Target: "> 4.0/5.0"},
	}
	if diff := cmp.Diff(want, krs); diff != "" {
		t.Fatalf("cycle_1 key results (-want +got):\n%s", diff)
	}

	p1, err := eng.Repo.GetProject(ctx, "proj_1")
	require.NoError(t, err)
	require.NotNil(t, p1.GitHub)
	assert.Equal(t, "mobile-app", p1.GitHub.Repo)
	assert.Equal(t, 1, p1.CycleCount)

	p3, err := eng.Repo.GetProject(ctx, "proj_3")
	require.NoError(t, err)
	assert.Nil(t, p3.GitHub)
	assert.Equal(t, 2, p3.CycleCount)

	c4, err := eng.Repo.GetCycle(ctx, "cycle_4")
	require.NoError(t, err)
	assert.False(t, c4.Hypothesis.Locked())
	assert.Empty(t, c4.Evidence)
}

func TestSeededNorthStar(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	_, err := seed.Load(ctx, eng, "seed")
	require.NoError(t, err)

	ns, err := eng.NorthStar(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 100, ns.ValidatedDecisionRate)
	assert.Equal(t, domain.NorthStarCounts{Validated: 1, NotValidated: 0, Pending: 3, Total: 4}, ns.Breakdown)
	assert.Equal(t, []domain.NorthStarPoint{{Month: "Jan 2026", Rate: 100}}, ns.History)
}
