package repo

import (
	"context"
	"database/sql"
	"strings"

	"decisionos/internal/domain"
)

const cycleColumns = `c.id,c.project_id,COALESCE(p.name,''),c.title,c.status,c.owner_id,COALESCE(c.owner_name,''),
c.hypothesis,c.success_criteria,c.out_of_scope,c.locked_at,c.created_at,c.updated_at`

func scanCycle(row scanner) (domain.DecisionCycle, error) {
	var (
		c        domain.DecisionCycle
		status   string
		lockedAt sql.NullString
	)
	err := row.Scan(&c.ID, &c.ProjectID, &c.ProjectName, &c.Title, &status, &c.OwnerID, &c.OwnerName,
		&c.Hypothesis.Hypothesis, &c.Hypothesis.SuccessCriteria, &c.Hypothesis.OutOfScope, &lockedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Status = domain.Status(status)
	c.Hypothesis.LockedAt = stringPtr(lockedAt)
	return c, err
}

func (r Repo) InsertCycleTx(ctx context.Context, tx *sql.Tx, c domain.DecisionCycle) error {
	// imported cycles that arrive closed take their last update as the close time
	var closedAt any
	if c.Status == domain.StatusClosed {
		closedAt = c.UpdatedAt
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO cycles(id,project_id,title,status,owner_id,owner_name,hypothesis,success_criteria,out_of_scope,locked_at,created_at,updated_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Title, string(c.Status), c.OwnerID, nullable(c.OwnerName),
		c.Hypothesis.Hypothesis, c.Hypothesis.SuccessCriteria, c.Hypothesis.OutOfScope, nullableStringPtr(c.Hypothesis.LockedAt),
		c.CreatedAt, c.UpdatedAt, closedAt)
	return err
}

func (r Repo) GetCycle(ctx context.Context, id string) (domain.DecisionCycle, error) {
	return r.GetCycleTx(ctx, nil, id)
}

// GetCycleTx loads a cycle with its evidence, review and outcome.
func (r Repo) GetCycleTx(ctx context.Context, tx *sql.Tx, id string) (domain.DecisionCycle, error) {
	c, err := scanCycle(r.q(tx).QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles c LEFT JOIN projects p ON p.id=c.project_id WHERE c.id=?`, id))
	if err != nil {
		return c, err
	}
	if err := r.loadCycleChildren(ctx, tx, &c); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) loadCycleChildren(ctx context.Context, tx *sql.Tx, c *domain.DecisionCycle) error {
	ev, err := r.ListEvidenceTx(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	c.Evidence = ev
	review, err := r.GetReviewTx(ctx, tx, c.ID)
	switch {
	case err == nil:
		c.Review = &review
	case err != ErrNotFound:
		return err
	}
	outcome, err := r.GetOutcomeTx(ctx, tx, c.ID)
	switch {
	case err == nil:
		c.Outcome = &outcome
	case err != ErrNotFound:
		return err
	}
	return nil
}

// CycleFilters narrows ListCycles. The cursor pair is the (created_at, id) of the last row seen.
type CycleFilters struct {
	ProjectID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListCycles returns fully loaded cycles newest first.
func (r Repo) ListCycles(ctx context.Context, f CycleFilters) ([]domain.DecisionCycle, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "c.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "c.status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(c.created_at < ? OR (c.created_at = ? AND c.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + cycleColumns + ` FROM cycles c LEFT JOIN projects p ON p.id=c.project_id WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY c.created_at DESC, c.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	res := []domain.DecisionCycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Children are loaded after the cursor is closed; the pool holds a single connection.
	rows.Close()
	for i := range res {
		if err := r.loadCycleChildren(ctx, nil, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) UpdateHypothesisTx(ctx context.Context, tx *sql.Tx, cycleID string, h domain.Hypothesis, now string) error {
	return r.execAffecting(ctx, tx, `UPDATE cycles SET hypothesis=?, success_criteria=?, out_of_scope=?, updated_at=? WHERE id=?`,
		h.Hypothesis, h.SuccessCriteria, h.OutOfScope, now, cycleID)
}

func (r Repo) UpdateCycleTitleTx(ctx context.Context, tx *sql.Tx, cycleID, title, now string) error {
	return r.execAffecting(ctx, tx, `UPDATE cycles SET title=?, updated_at=? WHERE id=?`, title, now, cycleID)
}

func (r Repo) LockHypothesisTx(ctx context.Context, tx *sql.Tx, cycleID, lockedAt string) error {
	return r.execAffecting(ctx, tx, `UPDATE cycles SET locked_at=?, updated_at=? WHERE id=?`, lockedAt, lockedAt, cycleID)
}

func (r Repo) UpdateCycleStatusTx(ctx context.Context, tx *sql.Tx, cycleID string, status domain.Status, now string) error {
	return r.execAffecting(ctx, tx, `UPDATE cycles SET status=?, updated_at=?, closed_at=CASE WHEN ?='CLOSED' THEN ? ELSE closed_at END WHERE id=?`,
		string(status), now, string(status), now, cycleID)
}

func (r Repo) TouchCycleTx(ctx context.Context, tx *sql.Tx, cycleID, now string) error {
	return r.execAffecting(ctx, tx, `UPDATE cycles SET updated_at=? WHERE id=?`, now, cycleID)
}

func (r Repo) execAffecting(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertEvidenceTx(ctx context.Context, tx *sql.Tx, ev domain.Evidence) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO evidence(id,cycle_id,type,reference_url,status,conclusion,created_at) VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.CycleID, ev.Type, ev.ReferenceURL, nullableStringPtr(ev.Status), nullableStringPtr(ev.Conclusion), ev.CreatedAt)
	return err
}

// ListEvidenceTx returns a cycle's evidence oldest first.
func (r Repo) ListEvidenceTx(ctx context.Context, tx *sql.Tx, cycleID string) ([]domain.Evidence, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,cycle_id,type,reference_url,status,conclusion,created_at FROM evidence WHERE cycle_id=? ORDER BY created_at ASC, id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Evidence{}
	for rows.Next() {
		var (
			ev                 domain.Evidence
			status, conclusion sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.CycleID, &ev.Type, &ev.ReferenceURL, &status, &conclusion, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Status = stringPtr(status)
		ev.Conclusion = stringPtr(conclusion)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, cycleID string, rv domain.Review) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO reviews(cycle_id,verdict,comment,achievement_rate,reviewer_id,created_at) VALUES (?,?,?,?,?,?)`,
		cycleID, string(rv.Verdict), rv.Comment, rv.AchievementRate, nullable(rv.ReviewerID), rv.CreatedAt)
	return err
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, cycleID string) (domain.Review, error) {
	var (
		rv       domain.Review
		verdict  string
		reviewer sql.NullString
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT verdict,comment,achievement_rate,reviewer_id,created_at FROM reviews WHERE cycle_id=?`, cycleID).
		Scan(&verdict, &rv.Comment, &rv.AchievementRate, &reviewer, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	rv.Verdict = domain.Verdict(verdict)
	rv.ReviewerID = reviewer.String
	return rv, err
}

func (r Repo) InsertOutcomeTx(ctx context.Context, tx *sql.Tx, cycleID string, o domain.Outcome) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO outcomes(cycle_id,decision,notes,issue_url,decider_id,created_at) VALUES (?,?,?,?,?,?)`,
		cycleID, string(o.Decision), o.Notes, nullableStringPtr(o.IssueURL), nullable(o.DeciderID), o.CreatedAt)
	return err
}

func (r Repo) GetOutcomeTx(ctx context.Context, tx *sql.Tx, cycleID string) (domain.Outcome, error) {
	var (
		o               domain.Outcome
		decision        string
		issueURL, actor sql.NullString
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT decision,notes,issue_url,decider_id,created_at FROM outcomes WHERE cycle_id=?`, cycleID).
		Scan(&decision, &o.Notes, &issueURL, &actor, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	o.Decision = domain.Decision(decision)
	o.IssueURL = stringPtr(issueURL)
	o.DeciderID = actor.String
	return o, err
}

func (r Repo) UpsertKeyResultMarkTx(ctx context.Context, tx *sql.Tx, cycleID string, index, achieved int, actorID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO key_result_marks(cycle_id,kr_index,achieved,actor_id,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(cycle_id,kr_index) DO UPDATE SET achieved=excluded.achieved, actor_id=excluded.actor_id, updated_at=excluded.updated_at`,
		cycleID, index, achieved, actorID, now)
	return err
}

// KeyResultMarksTx returns stored achievement marks keyed by key-result index.
func (r Repo) KeyResultMarksTx(ctx context.Context, tx *sql.Tx, cycleID string) (map[int]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT kr_index,achieved FROM key_result_marks WHERE cycle_id=?`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	marks := map[int]int{}
	for rows.Next() {
		var idx, achieved int
		if err := rows.Scan(&idx, &achieved); err != nil {
			return nil, err
		}
		marks[idx] = achieved
	}
	return marks, rows.Err()
}

// CycleVerdict is the minimal projection used for north-star aggregation.
type CycleVerdict struct {
	ID      string
	Status  domain.Status
	Verdict domain.Verdict
	// ClosedAt is when the cycle entered CLOSED, or its last update while still open.
	ClosedAt string
}

// ListCycleVerdicts returns every cycle's status and review verdict, scoped to a project when set.
func (r Repo) ListCycleVerdicts(ctx context.Context, projectID string) ([]CycleVerdict, error) {
	query := `SELECT c.id,c.status,COALESCE(rv.verdict,''),COALESCE(c.closed_at,c.updated_at) FROM cycles c LEFT JOIN reviews rv ON rv.cycle_id=c.id`
	var args []any
	if projectID != "" {
		query += ` WHERE c.project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY COALESCE(c.closed_at,c.updated_at) ASC, c.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CycleVerdict
	for rows.Next() {
		var (
			cv              CycleVerdict
			status, verdict string
		)
		if err := rows.Scan(&cv.ID, &status, &verdict, &cv.ClosedAt); err != nil {
			return nil, err
		}
		cv.Status = domain.Status(status)
		cv.Verdict = domain.Verdict(verdict)
		res = append(res, cv)
	}
	return res, rows.Err()
}
