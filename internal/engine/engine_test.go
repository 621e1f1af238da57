package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"decisionos/internal/config"
	"decisionos/internal/db"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/migrate"
	"decisionos/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

const criteria = "- Checkout conversion ≥ 45% (baseline: 30%)\n- Cart abandonment < 20%\n- No increase in support tickets"

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Checkout", ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) newCycle(t *testing.T) domain.DecisionCycle {
	t.Helper()
	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{
		ProjectID:       "proj-1",
		Title:           "Shorter checkout",
		Hypothesis:      "Three steps convert better than five",
		SuccessCriteria: criteria,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	return c
}

// toReview drives a fresh cycle to REVIEW.
func (env testEnv) toReview(t *testing.T, id string) {
	t.Helper()
	if _, err := env.Engine.LockHypothesis(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	for _, to := range []domain.Status{domain.StatusExecuting, domain.StatusReview} {
		if _, err := env.Engine.AdvanceCycle(env.Ctx, id, to, "tester", false); err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
	}
}

func TestCreateCycleStartsDrafting(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	if c.Status != domain.StatusDrafting {
		t.Fatalf("expected DRAFTING, got %s", c.Status)
	}
	if c.ID == "" || c.OwnerID != "tester" || c.ProjectName != "Checkout" {
		t.Fatalf("unexpected cycle %+v", c)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.CycleCount != 1 {
		t.Fatalf("expected cycle count 1, got %d", p.CycleCount)
	}
}

func TestCreateCycleFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ProjectID: "proj-1", Template: "perf", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create from template: %v", err)
	}
	if c.Title != "Optimize API response time" || !strings.Contains(c.Hypothesis.SuccessCriteria, "P95 latency < 200ms") {
		t.Fatalf("template not applied: %+v", c)
	}
	if _, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ProjectID: "proj-1", Template: "nope", ActorID: "tester"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown template, got %v", err)
	}
	if _, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ProjectID: "missing", Title: "x", ActorID: "tester"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing project, got %v", err)
	}
}

func TestLockedHypothesisIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	text := "Updated statement"
	if _, err := env.Engine.UpdateHypothesis(env.Ctx, engine.HypothesisUpdate{CycleID: c.ID, Hypothesis: &text, ActorID: "tester"}); err != nil {
		t.Fatalf("update before lock: %v", err)
	}
	locked, err := env.Engine.LockHypothesis(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !locked.Hypothesis.Locked() || locked.Hypothesis.Hypothesis != text {
		t.Fatalf("unexpected locked hypothesis %+v", locked.Hypothesis)
	}
	if _, err := env.Engine.UpdateHypothesis(env.Ctx, engine.HypothesisUpdate{CycleID: c.ID, Hypothesis: &text, ActorID: "tester"}); !errors.Is(err, engine.ErrHypothesisLocked) {
		t.Fatalf("expected ErrHypothesisLocked, got %v", err)
	}
	if _, err := env.Engine.LockHypothesis(env.Ctx, c.ID, "tester"); !errors.Is(err, engine.ErrHypothesisLocked) {
		t.Fatalf("expected second lock to fail, got %v", err)
	}
}

func TestAdvanceGating(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	_, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusExecuting, "tester", false)
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != "hypothesis must be locked" {
		t.Fatalf("expected lock gating, got %v", err)
	}
	forced, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusExecuting, "tester", true)
	if err != nil || forced.Status != domain.StatusExecuting {
		t.Fatalf("force advance: %v", err)
	}
	next, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, "", "tester", false)
	if err != nil || next.Status != domain.StatusReview {
		t.Fatalf("advance to next: %v (%s)", err, next.Status)
	}
	if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, "", "tester", false); !errors.As(err, &te) || te.Reason != "review required" {
		t.Fatalf("expected review gating, got %v", err)
	}
}

func TestForceKeepsOneStepRule(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	var te engine.TransitionError
	for _, to := range []domain.Status{domain.StatusClosed, domain.StatusReview, domain.StatusDrafting, "REOPENED"} {
		if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, to, "tester", true); !errors.As(err, &te) {
			t.Fatalf("forced DRAFTING -> %s should fail with TransitionError, got %v", to, err)
		}
	}
	got, err := env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if err != nil || got.Status != domain.StatusDrafting {
		t.Fatalf("status changed by a refused move: %v (%s)", err, got.Status)
	}
	forced, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusExecuting, "tester", true)
	if err != nil || forced.Status != domain.StatusExecuting || forced.Hypothesis.Locked() {
		t.Fatalf("forced advance with unlocked hypothesis: %v (%s)", err, forced.Status)
	}
	if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusDrafting, "tester", true); !errors.As(err, &te) {
		t.Fatalf("forced move backwards should fail, got %v", err)
	}
}

func TestEvidenceOnlyWhileExecutingOrReview(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	opts := engine.EvidenceOptions{CycleID: c.ID, Type: "ci_run", ReferenceURL: "https://ci.example.com/runs/1", Status: "completed", Conclusion: "success", ActorID: "tester"}
	if _, err := env.Engine.AttachEvidence(env.Ctx, opts); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected state error in DRAFTING, got %v", err)
	}
	env.toReview(t, c.ID)
	ev, err := env.Engine.AttachEvidence(env.Ctx, opts)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if ev.Type != domain.EvidenceCIRun || ev.Conclusion == nil || *ev.Conclusion != "success" {
		t.Fatalf("unexpected evidence %+v", ev)
	}
	bad := opts
	bad.Type = "SCREENSHOT"
	if _, err := env.Engine.AttachEvidence(env.Ctx, bad); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected catalog rejection, got %v", err)
	}
	bad = opts
	bad.ReferenceURL = "not a url"
	if _, err := env.Engine.AttachEvidence(env.Ctx, bad); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected url rejection, got %v", err)
	}
	got, err := env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if len(got.Evidence) != 1 {
		t.Fatalf("expected 1 evidence, got %d", len(got.Evidence))
	}
}

func TestKeyResultMarksDriveSuggestedVerdict(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	if _, err := env.Engine.MarkKeyResult(env.Ctx, c.ID, 0, 100, "tester"); !errors.Is(err, engine.ErrHypothesisNotLocked) {
		t.Fatalf("expected marks to need a locked hypothesis, got %v", err)
	}
	env.toReview(t, c.ID)

	a, err := env.Engine.KeyResults(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("key results: %v", err)
	}
	if len(a.KeyResults) != 3 || a.AchievementRate != 0 || a.SuggestedVerdict != domain.VerdictNotValidated {
		t.Fatalf("unexpected initial assessment %+v", a)
	}
	if _, err := env.Engine.MarkKeyResult(env.Ctx, c.ID, 3, 100, "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := env.Engine.MarkKeyResult(env.Ctx, c.ID, 0, 101, "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected achieved bound, got %v", err)
	}
	for _, idx := range []int{0, 1} {
		if a, err = env.Engine.MarkKeyResult(env.Ctx, c.ID, idx, 100, "tester"); err != nil {
			t.Fatalf("mark %d: %v", idx, err)
		}
	}
	if a.AchievementRate != 67 || a.SuggestedVerdict != domain.VerdictNotValidated {
		t.Fatalf("expected 67%% not validated, got %+v", a)
	}
	if a, err = env.Engine.MarkKeyResult(env.Ctx, c.ID, 2, 100, "tester"); err != nil {
		t.Fatalf("mark 2: %v", err)
	}
	if a.AchievementRate != 100 || a.SuggestedVerdict != domain.VerdictValidated {
		t.Fatalf("expected 100%% validated, got %+v", a)
	}
}

func TestReviewOutcomeAndClose(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{CycleID: c.ID, ActorID: "tester"}); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected review outside REVIEW to fail, got %v", err)
	}
	env.toReview(t, c.ID)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.MarkKeyResult(env.Ctx, c.ID, i, 100, "tester"); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}
	rv, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{CycleID: c.ID, Comment: "all green", ActorID: "reviewer"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rv.Verdict != domain.VerdictValidated || rv.AchievementRate != 100 {
		t.Fatalf("expected suggested verdict to be used, got %+v", rv)
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{CycleID: c.ID, ActorID: "reviewer"}); !errors.Is(err, engine.ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
	if _, err := env.Engine.MarkKeyResult(env.Ctx, c.ID, 0, 50, "tester"); !errors.Is(err, engine.ErrAlreadyReviewed) {
		t.Fatalf("expected marks frozen after review, got %v", err)
	}
	if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, "", "tester", false); err != nil {
		t.Fatalf("to outcome: %v", err)
	}
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{CycleID: c.ID, Decision: "SHIP", ActorID: "tester"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected bad decision rejected, got %v", err)
	}
	o, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{CycleID: c.ID, Decision: domain.DecisionProceed, Notes: "roll out", IssueURL: "https://github.com/acme-corp/web/issues/42", ActorID: "tester"})
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if o.IssueURL == nil || *o.IssueURL != "https://github.com/acme-corp/web/issues/42" {
		t.Fatalf("issue url not stored: %+v", o)
	}
	closed, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusClosed, "tester", false)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Review == nil || closed.Outcome == nil || closed.Status != domain.StatusClosed {
		t.Fatalf("unexpected closed cycle %+v", closed)
	}

	ns, err := env.Engine.NorthStar(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("north star: %v", err)
	}
	if ns.ValidatedDecisionRate != 100 || ns.Breakdown.Validated != 1 || ns.Breakdown.Total != 1 {
		t.Fatalf("unexpected north star %+v", ns)
	}
	if len(ns.History) != 1 || ns.History[0].Month != "Jan 2024" || ns.Trend != 0 {
		t.Fatalf("unexpected history %+v trend %d", ns.History, ns.Trend)
	}
}

func TestNorthStarHistoryUsesCloseTime(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	env.toReview(t, c.ID)
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{CycleID: c.ID, Verdict: domain.VerdictValidated, ActorID: "reviewer"}); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, "", "tester", false); err != nil {
		t.Fatalf("to outcome: %v", err)
	}
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{CycleID: c.ID, Decision: domain.DecisionProceed, ActorID: "tester"}); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if _, err := env.Engine.AdvanceCycle(env.Ctx, c.ID, domain.StatusClosed, "tester", false); err != nil {
		t.Fatalf("close: %v", err)
	}

	// late evidence on a closed cycle bumps updated_at two months on
	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }
	opts := engine.EvidenceOptions{CycleID: c.ID, Type: "CI_RUN", ReferenceURL: "https://ci.example.com/runs/9", ActorID: "tester", Force: true}
	if _, err := env.Engine.AttachEvidence(env.Ctx, opts); err != nil {
		t.Fatalf("forced evidence: %v", err)
	}
	got, err := env.Engine.Repo.GetCycle(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.HasPrefix(got.UpdatedAt, "2024-03") {
		t.Fatalf("expected updated_at in March, got %s", got.UpdatedAt)
	}

	ns, err := env.Engine.NorthStar(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("north star: %v", err)
	}
	if len(ns.History) != 1 || ns.History[0].Month != "Jan 2024" {
		t.Fatalf("history should stay in the close month, got %+v", ns.History)
	}
}

func TestExplicitVerdictOverridesSuggestion(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	env.toReview(t, c.ID)
	rv, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{CycleID: c.ID, Verdict: domain.VerdictValidated, ActorID: "reviewer"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rv.Verdict != domain.VerdictValidated || rv.AchievementRate != 0 {
		t.Fatalf("expected override with rate 0, got %+v", rv)
	}
}

func TestImportCycleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	locked := "2023-12-01T00:00:00Z"
	c := domain.DecisionCycle{
		ID:        "cycle_1",
		Title:     "Imported",
		ProjectID: "proj-1",
		Status:    domain.StatusClosed,
		OwnerID:   "user_1",
		CreatedAt: "2023-11-01T00:00:00Z",
		UpdatedAt: "2023-12-15T00:00:00Z",
		Hypothesis: domain.Hypothesis{
			Hypothesis:      "h",
			SuccessCriteria: criteria,
			LockedAt:        &locked,
		},
		Evidence: []domain.Evidence{{Type: domain.EvidencePreviewURL, ReferenceURL: "https://preview.example.com"}},
		Review:   &domain.Review{Verdict: domain.VerdictNotValidated, AchievementRate: 33},
		Outcome:  &domain.Outcome{Decision: domain.DecisionStop},
	}
	inserted, err := env.Engine.ImportCycle(env.Ctx, c, "seed")
	if err != nil || !inserted {
		t.Fatalf("import: %v inserted=%v", err, inserted)
	}
	inserted, err = env.Engine.ImportCycle(env.Ctx, c, "seed")
	if err != nil || inserted {
		t.Fatalf("second import should be a no-op: %v inserted=%v", err, inserted)
	}
	got, err := env.Engine.Repo.GetCycle(env.Ctx, "cycle_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Evidence) != 1 || got.Evidence[0].ID != "cycle_1_ev_1" || got.Review.AchievementRate != 33 || got.Outcome.Decision != domain.DecisionStop {
		t.Fatalf("unexpected imported cycle %+v", got)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCycle(t)
	env.toReview(t, c.ID)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, 0, repo.EventFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	want := []string{"cycle.status.changed", "cycle.status.changed", "hypothesis.locked", "cycle.created", "project.created"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestGrantRoleRequiresConfiguredRole(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.GrantRole(env.Ctx, "proj-1", "alice", "reviewer", "tester"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := env.Engine.Auth.ActorHasPermission(env.Ctx, nil, "proj-1", "alice", config.PermReviewSubmit)
	if err != nil || !ok {
		t.Fatalf("expected alice to review: %v", err)
	}
	ok, _ = env.Engine.Auth.ActorHasPermission(env.Ctx, nil, "proj-1", "alice", config.PermProjectWrite)
	if ok {
		t.Fatalf("reviewer should not write projects")
	}
	if err := env.Engine.GrantRole(env.Ctx, "proj-1", "alice", "admin", "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected unknown role rejected, got %v", err)
	}
}

func TestCreateAPIKeyStoresHashOnly(t *testing.T) {
	env := newTestEnv(t)
	raw, key, err := env.Engine.CreateAPIKey(env.Ctx, "bot", "ci", "tester")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(raw, "dos_") || key.KeyHash == raw {
		t.Fatalf("unexpected key material")
	}
	got, err := env.Engine.Repo.LookupAPIKey(env.Ctx, raw)
	if err != nil || got.ActorID != "bot" {
		t.Fatalf("lookup: %v %+v", err, got)
	}
}
