package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"decisionos/internal/domain"
	"decisionos/internal/events"
	"decisionos/internal/lifecycle"
	"decisionos/internal/okr"
	"decisionos/internal/repo"
	"decisionos/internal/templates"
)

// CycleCreateOptions are parameters for creating a decision cycle. Empty hypothesis
// fields are filled from Template when one is named.
type CycleCreateOptions struct {
	ID              string
	ProjectID       string
	Title           string
	Template        string
	Hypothesis      string
	SuccessCriteria string
	OutOfScope      string
	OwnerID         string
	OwnerName       string
	ActorID         string
}

func (e Engine) CreateCycle(ctx context.Context, opts CycleCreateOptions) (domain.DecisionCycle, error) {
	if opts.ProjectID == "" {
		return domain.DecisionCycle{}, invalid("project is required")
	}
	if opts.Template != "" {
		tpl, err := templates.Get(opts.Template)
		if err != nil {
			return domain.DecisionCycle{}, invalid("%v", err)
		}
		opts.Title = firstNonEmpty(opts.Title, tpl.Title)
		opts.Hypothesis = firstNonEmpty(opts.Hypothesis, tpl.Hypothesis)
		opts.SuccessCriteria = firstNonEmpty(opts.SuccessCriteria, tpl.SuccessCriteria)
		opts.OutOfScope = firstNonEmpty(opts.OutOfScope, tpl.OutOfScope)
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.DecisionCycle{}, invalid("title is required")
	}
	project, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.DecisionCycle{}, err
	}
	ownerID := firstNonEmpty(opts.OwnerID, opts.ActorID)
	if ownerID == "" {
		return domain.DecisionCycle{}, invalid("owner is required")
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+title+"|"+now)).String()
	}
	c := domain.DecisionCycle{
		ID:          id,
		Title:       title,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Status:      domain.StatusDrafting,
		OwnerID:     ownerID,
		OwnerName:   opts.OwnerName,
		CreatedAt:   now,
		UpdatedAt:   now,
		Hypothesis: domain.Hypothesis{
			Hypothesis:      strings.TrimSpace(opts.Hypothesis),
			SuccessCriteria: opts.SuccessCriteria,
			OutOfScope:      opts.OutOfScope,
		},
		Evidence: []domain.Evidence{},
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCycleTx(ctx, tx, c); err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		return e.appendEvent(ctx, tx, events.CycleCreated, c.ProjectID, "cycle", c.ID, opts.ActorID, events.EventPayload{
			"title":    c.Title,
			"status":   c.Status,
			"template": opts.Template,
		})
	})
	if err != nil {
		return domain.DecisionCycle{}, err
	}
	e.metrics().CycleCreated(c.ProjectID)
	return c, nil
}

// ImportCycle stores a fully formed cycle with its evidence, review and outcome as given.
// It reports false without error when a cycle with the same id already exists.
func (e Engine) ImportCycle(ctx context.Context, c domain.DecisionCycle, actorID string) (bool, error) {
	if c.ID == "" || c.ProjectID == "" || strings.TrimSpace(c.Title) == "" {
		return false, invalid("cycle id, project and title are required")
	}
	if !lifecycle.Valid(c.Status) {
		return false, invalid("unknown status %q", c.Status)
	}
	if _, err := e.Repo.GetCycle(ctx, c.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	now := e.stamp()
	c.CreatedAt = firstNonEmpty(c.CreatedAt, now)
	c.UpdatedAt = firstNonEmpty(c.UpdatedAt, c.CreatedAt)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCycleTx(ctx, tx, c); err != nil {
			return fmt.Errorf("insert cycle %s: %w", c.ID, err)
		}
		for i, ev := range c.Evidence {
			ev.CycleID = c.ID
			if ev.ID == "" {
				ev.ID = fmt.Sprintf("%s_ev_%d", c.ID, i+1)
			}
			ev.CreatedAt = firstNonEmpty(ev.CreatedAt, c.UpdatedAt)
			if err := e.Repo.InsertEvidenceTx(ctx, tx, ev); err != nil {
				return fmt.Errorf("insert evidence %s: %w", ev.ID, err)
			}
		}
		if c.Review != nil {
			rv := *c.Review
			rv.CreatedAt = firstNonEmpty(rv.CreatedAt, c.UpdatedAt)
			if err := e.Repo.InsertReviewTx(ctx, tx, c.ID, rv); err != nil {
				return fmt.Errorf("insert review: %w", err)
			}
		}
		if c.Outcome != nil {
			o := *c.Outcome
			o.CreatedAt = firstNonEmpty(o.CreatedAt, c.UpdatedAt)
			if err := e.Repo.InsertOutcomeTx(ctx, tx, c.ID, o); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return e.appendEvent(ctx, tx, events.CycleCreated, c.ProjectID, "cycle", c.ID, actorID, events.EventPayload{
			"title":  c.Title,
			"status": c.Status,
			"source": "import",
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// HypothesisUpdate carries optional edits; nil fields are left unchanged.
type HypothesisUpdate struct {
	CycleID         string
	Title           *string
	Hypothesis      *string
	SuccessCriteria *string
	OutOfScope      *string
	ActorID         string
}

// UpdateHypothesis edits a cycle's title and hypothesis. Locked hypotheses are immutable.
func (e Engine) UpdateHypothesis(ctx context.Context, upd HypothesisUpdate) (domain.DecisionCycle, error) {
	var out domain.DecisionCycle
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, upd.CycleID)
		if err != nil {
			return err
		}
		if c.Hypothesis.Locked() {
			return ErrHypothesisLocked
		}
		now := e.stamp()
		changed := []string{}
		h := c.Hypothesis
		if upd.Hypothesis != nil {
			h.Hypothesis = strings.TrimSpace(*upd.Hypothesis)
			changed = append(changed, "hypothesis")
		}
		if upd.SuccessCriteria != nil {
			h.SuccessCriteria = *upd.SuccessCriteria
			changed = append(changed, "success_criteria")
		}
		if upd.OutOfScope != nil {
			h.OutOfScope = *upd.OutOfScope
			changed = append(changed, "out_of_scope")
		}
		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return invalid("title cannot be empty")
			}
			if err := e.Repo.UpdateCycleTitleTx(ctx, tx, c.ID, title, now); err != nil {
				return err
			}
			changed = append(changed, "title")
		}
		if len(changed) == 0 {
			out = c
			return nil
		}
		if err := e.Repo.UpdateHypothesisTx(ctx, tx, c.ID, h, now); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.HypothesisUpdated, c.ProjectID, "cycle", c.ID, upd.ActorID, events.EventPayload{"fields": changed}); err != nil {
			return err
		}
		out, err = e.Repo.GetCycleTx(ctx, tx, c.ID)
		return err
	})
	return out, err
}

// LockHypothesis freezes the hypothesis so its key results can be measured.
func (e Engine) LockHypothesis(ctx context.Context, cycleID, actorID string) (domain.DecisionCycle, error) {
	var out domain.DecisionCycle
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		if c.Hypothesis.Locked() {
			return ErrHypothesisLocked
		}
		if c.Hypothesis.Hypothesis == "" {
			return invalid("hypothesis statement is required before locking")
		}
		now := e.stamp()
		if err := e.Repo.LockHypothesisTx(ctx, tx, c.ID, now); err != nil {
			return err
		}
		krs := okr.ParseSuccessCriteria(c.Hypothesis.SuccessCriteria)
		if err := e.appendEvent(ctx, tx, events.HypothesisLocked, c.ProjectID, "cycle", c.ID, actorID, events.EventPayload{"key_results": len(krs)}); err != nil {
			return err
		}
		out, err = e.Repo.GetCycleTx(ctx, tx, c.ID)
		return err
	})
	return out, err
}

// EvidenceOptions are parameters for AttachEvidence.
type EvidenceOptions struct {
	CycleID      string
	Type         string
	ReferenceURL string
	Status       string
	Conclusion   string
	ActorID      string
	Force        bool
}

// AttachEvidence records an artifact while the cycle is executing or under review.
func (e Engine) AttachEvidence(ctx context.Context, opts EvidenceOptions) (domain.Evidence, error) {
	kind := strings.ToUpper(strings.TrimSpace(opts.Type))
	if kind == "" {
		return domain.Evidence{}, invalid("evidence type is required")
	}
	ref := strings.TrimSpace(opts.ReferenceURL)
	if !validURL(ref) {
		return domain.Evidence{}, invalid("reference_url must be an absolute URL")
	}
	c, err := e.Repo.GetCycle(ctx, opts.CycleID)
	if err != nil {
		return domain.Evidence{}, err
	}
	cfg, err := e.ProjectConfig(ctx, c.ProjectID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if !cfg.HasEvidenceType(kind) {
		return domain.Evidence{}, invalid("evidence type %s is not in the project catalog", kind)
	}
	if !opts.Force && !lifecycle.AcceptsEvidence(c.Status) {
		return domain.Evidence{}, fmt.Errorf("%w: evidence can be attached in EXECUTING or REVIEW, cycle is %s", ErrInvalidState, c.Status)
	}
	now := e.stamp()
	ev := domain.Evidence{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.ID+"|"+kind+"|"+ref+"|"+now)).String(),
		CycleID:      c.ID,
		Type:         kind,
		ReferenceURL: ref,
		Status:       optionalString(opts.Status),
		Conclusion:   optionalString(opts.Conclusion),
		CreatedAt:    now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertEvidenceTx(ctx, tx, ev); err != nil {
			return err
		}
		if err := e.Repo.TouchCycleTx(ctx, tx, c.ID, now); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.EvidenceAttached, c.ProjectID, "cycle", c.ID, opts.ActorID, events.EventPayload{
			"evidence_id":   ev.ID,
			"type":          ev.Type,
			"reference_url": ev.ReferenceURL,
		})
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// AdvanceCycle moves a cycle to status to, or to the next status when to is empty.
// Force skips phase gating but never the one-step-forward rule.
func (e Engine) AdvanceCycle(ctx context.Context, cycleID string, to domain.Status, actorID string, force bool) (domain.DecisionCycle, error) {
	var (
		out  domain.DecisionCycle
		from domain.Status
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		from = c.Status
		if to == "" {
			next, ok := lifecycle.Next(c.Status)
			if !ok {
				return TransitionError{From: c.Status, To: to, Reason: "cycle is already closed"}
			}
			to = next
		}
		if err := lifecycle.CheckStep(c, to); err != nil {
			return err
		}
		if !force {
			if err := lifecycle.CheckPhase(c, to); err != nil {
				return err
			}
		}
		now := e.stamp()
		if err := e.Repo.UpdateCycleStatusTx(ctx, tx, c.ID, to, now); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.CycleStatusChanged, c.ProjectID, "cycle", c.ID, actorID, events.EventPayload{
			"from":  c.Status,
			"to":    to,
			"force": force,
		}); err != nil {
			return err
		}
		out, err = e.Repo.GetCycleTx(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return domain.DecisionCycle{}, err
	}
	e.metrics().StatusChanged(string(from), string(to))
	return out, nil
}

// KeyResults parses the cycle's success criteria and applies stored achievement marks.
func (e Engine) KeyResults(ctx context.Context, cycleID string) (okr.Assessment, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return okr.Assessment{}, err
	}
	marks, err := e.Repo.KeyResultMarksTx(ctx, nil, c.ID)
	if err != nil {
		return okr.Assessment{}, err
	}
	return okr.Assess(c.Hypothesis.SuccessCriteria, marks), nil
}

// MarkKeyResult records how far key result index was achieved, in percent.
// Marks are only accepted once the hypothesis is locked and before the review.
func (e Engine) MarkKeyResult(ctx context.Context, cycleID string, index, achieved int, actorID string) (okr.Assessment, error) {
	if achieved < 0 || achieved > 100 {
		return okr.Assessment{}, invalid("achieved must be between 0 and 100")
	}
	var out okr.Assessment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		if !c.Hypothesis.Locked() {
			return ErrHypothesisNotLocked
		}
		if c.Review != nil {
			return ErrAlreadyReviewed
		}
		krs := okr.ParseSuccessCriteria(c.Hypothesis.SuccessCriteria)
		if index < 0 || index >= len(krs) {
			return invalid("key result index %d out of range (cycle has %d)", index, len(krs))
		}
		now := e.stamp()
		if err := e.Repo.UpsertKeyResultMarkTx(ctx, tx, c.ID, index, achieved, actorID, now); err != nil {
			return err
		}
		if err := e.Repo.TouchCycleTx(ctx, tx, c.ID, now); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.KeyResultMarked, c.ProjectID, "cycle", c.ID, actorID, events.EventPayload{
			"index":    index,
			"metric":   krs[index].Metric,
			"achieved": achieved,
		}); err != nil {
			return err
		}
		marks, err := e.Repo.KeyResultMarksTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		out = okr.Assess(c.Hypothesis.SuccessCriteria, marks)
		return nil
	})
	return out, err
}

// ReviewOptions are parameters for SubmitReview. An empty Verdict accepts the suggested one.
type ReviewOptions struct {
	CycleID string
	Verdict domain.Verdict
	Comment string
	ActorID string
}

// SubmitReview records the review of a cycle in REVIEW, snapshotting its achievement rate.
func (e Engine) SubmitReview(ctx context.Context, opts ReviewOptions) (domain.Review, error) {
	if opts.Verdict != "" && opts.Verdict != domain.VerdictValidated && opts.Verdict != domain.VerdictNotValidated {
		return domain.Review{}, invalid("verdict must be VALIDATED or NOT_VALIDATED")
	}
	var rv domain.Review
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, opts.CycleID)
		if err != nil {
			return err
		}
		if c.Review != nil {
			return ErrAlreadyReviewed
		}
		if c.Status != domain.StatusReview {
			return fmt.Errorf("%w: reviews are submitted in REVIEW, cycle is %s", ErrInvalidState, c.Status)
		}
		marks, err := e.Repo.KeyResultMarksTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		assessment := okr.Assess(c.Hypothesis.SuccessCriteria, marks)
		verdict := opts.Verdict
		if verdict == "" {
			verdict = assessment.SuggestedVerdict
		}
		rv = domain.Review{
			Verdict:         verdict,
			Comment:         strings.TrimSpace(opts.Comment),
			AchievementRate: assessment.AchievementRate,
			ReviewerID:      opts.ActorID,
			CreatedAt:       e.stamp(),
		}
		if err := e.Repo.InsertReviewTx(ctx, tx, c.ID, rv); err != nil {
			return err
		}
		if err := e.Repo.TouchCycleTx(ctx, tx, c.ID, rv.CreatedAt); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ReviewSubmitted, c.ProjectID, "cycle", c.ID, opts.ActorID, events.EventPayload{
			"verdict":           rv.Verdict,
			"suggested_verdict": assessment.SuggestedVerdict,
			"achievement_rate":  rv.AchievementRate,
		})
	})
	if err != nil {
		return domain.Review{}, err
	}
	e.metrics().ReviewSubmitted(string(rv.Verdict))
	return rv, nil
}

// OutcomeOptions are parameters for RecordOutcome.
type OutcomeOptions struct {
	CycleID  string
	Decision domain.Decision
	Notes    string
	IssueURL string
	ActorID  string
}

// RecordOutcome stores what the team decided for a cycle in OUTCOME.
func (e Engine) RecordOutcome(ctx context.Context, opts OutcomeOptions) (domain.Outcome, error) {
	switch opts.Decision {
	case domain.DecisionProceed, domain.DecisionIterate, domain.DecisionStop:
	default:
		return domain.Outcome{}, invalid("decision must be PROCEED, ITERATE or STOP")
	}
	issue := optionalString(opts.IssueURL)
	if issue != nil && !validURL(*issue) {
		return domain.Outcome{}, invalid("issue_url must be an absolute URL")
	}
	var o domain.Outcome
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, opts.CycleID)
		if err != nil {
			return err
		}
		if c.Outcome != nil {
			return ErrAlreadyDecided
		}
		if c.Status != domain.StatusOutcome {
			return fmt.Errorf("%w: outcomes are recorded in OUTCOME, cycle is %s", ErrInvalidState, c.Status)
		}
		o = domain.Outcome{
			Decision:  opts.Decision,
			Notes:     strings.TrimSpace(opts.Notes),
			IssueURL:  issue,
			DeciderID: opts.ActorID,
			CreatedAt: e.stamp(),
		}
		if err := e.Repo.InsertOutcomeTx(ctx, tx, c.ID, o); err != nil {
			return err
		}
		if err := e.Repo.TouchCycleTx(ctx, tx, c.ID, o.CreatedAt); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.OutcomeRecorded, c.ProjectID, "cycle", c.ID, opts.ActorID, events.EventPayload{
			"decision":  o.Decision,
			"issue_url": opts.IssueURL,
		})
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	e.metrics().OutcomeRecorded(string(o.Decision))
	return o, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
