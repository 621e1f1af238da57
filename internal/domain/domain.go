package domain

// Status is the lifecycle state of a decision cycle.
type Status string

const (
	StatusDrafting  Status = "DRAFTING"
	StatusExecuting Status = "EXECUTING"
	StatusReview    Status = "REVIEW"
	StatusOutcome   Status = "OUTCOME"
	StatusClosed    Status = "CLOSED"
)

// Verdict is the binary review classification.
type Verdict string

const (
	VerdictValidated    Verdict = "VALIDATED"
	VerdictNotValidated Verdict = "NOT_VALIDATED"
)

// Decision is what the team chose to do after a review.
type Decision string

const (
	DecisionProceed Decision = "PROCEED"
	DecisionIterate Decision = "ITERATE"
	DecisionStop    Decision = "STOP"
)

const (
	EvidenceCIRun      = "CI_RUN"
	EvidencePreviewURL = "PREVIEW_URL"
)

type GitHubConnection struct {
	Owner     string `json:"owner" yaml:"owner"`
	Repo      string `json:"repo" yaml:"repo"`
	Connected bool   `json:"connected" yaml:"connected"`
}

type Project struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	WorkspaceID string            `json:"workspace_id" yaml:"workspace_id"`
	GitHub      *GitHubConnection `json:"github,omitempty" yaml:"github,omitempty"`
	CycleCount  int               `json:"cycle_count" yaml:"-"`
	CreatedAt   string            `json:"created_at" format:"date-time" yaml:"created_at"`
	UpdatedAt   string            `json:"updated_at" format:"date-time" yaml:"updated_at"`
}

type Hypothesis struct {
	Hypothesis      string  `json:"hypothesis" yaml:"hypothesis"`
	SuccessCriteria string  `json:"success_criteria" yaml:"success_criteria"`
	OutOfScope      string  `json:"out_of_scope" yaml:"out_of_scope"`
	LockedAt        *string `json:"locked_at,omitempty" format:"date-time" yaml:"locked_at,omitempty"`
}

// Locked reports whether the hypothesis can no longer be edited.
func (h Hypothesis) Locked() bool {
	return h.LockedAt != nil && *h.LockedAt != ""
}

type Evidence struct {
	ID           string  `json:"id" yaml:"id"`
	CycleID      string  `json:"cycle_id" yaml:"-"`
	Type         string  `json:"type" yaml:"type"`
	ReferenceURL string  `json:"reference_url" yaml:"reference_url"`
	Status       *string `json:"status,omitempty" yaml:"status,omitempty"`
	Conclusion   *string `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time" yaml:"created_at"`
}

type Review struct {
	Verdict         Verdict `json:"verdict" enum:"VALIDATED,NOT_VALIDATED" yaml:"verdict"`
	Comment         string  `json:"comment" yaml:"comment"`
	AchievementRate int     `json:"achievement_rate" yaml:"achievement_rate"`
	ReviewerID      string  `json:"reviewer_id,omitempty" yaml:"reviewer_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time" yaml:"created_at"`
}

type Outcome struct {
	Decision  Decision `json:"decision" enum:"PROCEED,ITERATE,STOP" yaml:"decision"`
	Notes     string   `json:"notes" yaml:"notes"`
	IssueURL  *string  `json:"issue_url,omitempty" yaml:"issue_url,omitempty"`
	DeciderID string   `json:"decider_id,omitempty" yaml:"decider_id,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time" yaml:"created_at"`
}

type DecisionCycle struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	ProjectID   string     `json:"project_id" yaml:"project_id"`
	ProjectName string     `json:"project_name,omitempty" yaml:"-"`
	Status      Status     `json:"status" enum:"DRAFTING,EXECUTING,REVIEW,OUTCOME,CLOSED" yaml:"status"`
	OwnerID     string     `json:"owner_id" yaml:"owner_id"`
	OwnerName   string     `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time" yaml:"created_at"`
	UpdatedAt   string     `json:"updated_at" format:"date-time" yaml:"updated_at"`
	Hypothesis  Hypothesis `json:"hypothesis" yaml:"hypothesis"`
	Evidence    []Evidence `json:"evidence" yaml:"evidence"`
	Review      *Review    `json:"review,omitempty" yaml:"review,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// KeyResult is derived from success-criteria text; only Achieved is ever stored.
type KeyResult struct {
	Metric   string  `json:"metric"`
	Target   string  `json:"target"`
	Baseline *string `json:"baseline,omitempty"`
	Achieved *int    `json:"achieved,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// NorthStar summarizes how often closed cycles validate their hypothesis.
type NorthStar struct {
	ValidatedDecisionRate int              `json:"validated_decision_rate"`
	Trend                 int              `json:"trend"`
	Breakdown             NorthStarCounts  `json:"breakdown"`
	History               []NorthStarPoint `json:"history"`
}

type NorthStarCounts struct {
	Validated    int `json:"validated"`
	NotValidated int `json:"not_validated"`
	Pending      int `json:"pending"`
	Total        int `json:"total"`
}

type NorthStarPoint struct {
	Month string `json:"month"`
	Rate  int    `json:"rate"`
}
