package server

import (
	"decisionos/internal/config"
	"decisionos/internal/domain"
	"decisionos/internal/lifecycle"
	"decisionos/internal/okr"
	"decisionos/internal/templates"
)

// Request payloads

type GitHubRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

type CreateProjectRequest struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	GitHub      *GitHubRequest `json:"github,omitempty"`
}

type UpdateProjectRequest struct {
	Name   *string        `json:"name,omitempty"`
	GitHub *GitHubRequest `json:"github,omitempty"`
}

type CreateCycleRequest struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title,omitempty"`
	Template        string `json:"template,omitempty" enum:"ab_test,feature,perf"`
	Hypothesis      string `json:"hypothesis,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
	OutOfScope      string `json:"out_of_scope,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	OwnerName       string `json:"owner_name,omitempty"`
}

type UpdateHypothesisRequest struct {
	Title           *string `json:"title,omitempty"`
	Hypothesis      *string `json:"hypothesis,omitempty"`
	SuccessCriteria *string `json:"success_criteria,omitempty"`
	OutOfScope      *string `json:"out_of_scope,omitempty"`
}

type AdvanceCycleRequest struct {
	To    string `json:"to,omitempty" enum:"DRAFTING,EXECUTING,REVIEW,OUTCOME,CLOSED"`
	Force bool   `json:"force,omitempty"`
}

type AttachEvidenceRequest struct {
	Type         string `json:"type"`
	ReferenceURL string `json:"reference_url" format:"uri"`
	Status       string `json:"status,omitempty"`
	Conclusion   string `json:"conclusion,omitempty"`
	Force        bool   `json:"force,omitempty"`
}

type MarkKeyResultRequest struct {
	Achieved int `json:"achieved" minimum:"0" maximum:"100"`
}

type SubmitReviewRequest struct {
	Verdict string `json:"verdict,omitempty" enum:"VALIDATED,NOT_VALIDATED"`
	Comment string `json:"comment,omitempty"`
}

type RecordOutcomeRequest struct {
	Decision string `json:"decision" enum:"PROCEED,ITERATE,STOP"`
	Notes    string `json:"notes,omitempty"`
	IssueURL string `json:"issue_url,omitempty"`
}

type KeyResultMark struct {
	Index    int `json:"index" minimum:"0"`
	Achieved int `json:"achieved" minimum:"0" maximum:"100"`
}

type ParseRequest struct {
	SuccessCriteria string          `json:"success_criteria"`
	Marks           []KeyResultMark `json:"marks,omitempty"`
}

type GrantRoleRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ProjectResponse = domain.Project

type ProjectConfigResponse struct {
	ProjectID string         `json:"project_id"`
	Config    *config.Config `json:"config"`
}

type CycleResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	ProjectID   string               `json:"project_id"`
	ProjectName string               `json:"project_name,omitempty"`
	Status      domain.Status        `json:"status" enum:"DRAFTING,EXECUTING,REVIEW,OUTCOME,CLOSED"`
	StatusStyle lifecycle.Style      `json:"status_style"`
	Phases      lifecycle.PhaseState `json:"phases"`
	OwnerID     string               `json:"owner_id"`
	OwnerName   string               `json:"owner_name,omitempty"`
	CreatedAt   string               `json:"created_at" format:"date-time"`
	UpdatedAt   string               `json:"updated_at" format:"date-time"`
	Hypothesis  domain.Hypothesis    `json:"hypothesis"`
	Evidence    []domain.Evidence    `json:"evidence"`
	Review      *domain.Review       `json:"review,omitempty"`
	Outcome     *domain.Outcome      `json:"outcome,omitempty"`
}

type paginatedCycles struct {
	Items      []CycleResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type AssessmentResponse = okr.Assessment

type TemplateResponse = templates.Template

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func cycleResponse(c domain.DecisionCycle) CycleResponse {
	evidence := c.Evidence
	if evidence == nil {
		evidence = []domain.Evidence{}
	}
	return CycleResponse{
		ID:          c.ID,
		Title:       c.Title,
		ProjectID:   c.ProjectID,
		ProjectName: c.ProjectName,
		Status:      c.Status,
		StatusStyle: lifecycle.StyleFor(c.Status),
		Phases:      lifecycle.Phases(c),
		OwnerID:     c.OwnerID,
		OwnerName:   c.OwnerName,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Hypothesis:  c.Hypothesis,
		Evidence:    evidence,
		Review:      c.Review,
		Outcome:     c.Outcome,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
