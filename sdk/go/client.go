package decisionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Decision OS HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Hypothesis struct {
	Hypothesis      string  `json:"hypothesis"`
	SuccessCriteria string  `json:"success_criteria"`
	OutOfScope      string  `json:"out_of_scope"`
	LockedAt        *string `json:"locked_at,omitempty"`
}

type Evidence struct {
	ID           string  `json:"id"`
	CycleID      string  `json:"cycle_id"`
	Type         string  `json:"type"`
	ReferenceURL string  `json:"reference_url"`
	Status       *string `json:"status,omitempty"`
	Conclusion   *string `json:"conclusion,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type Review struct {
	Verdict         string `json:"verdict"`
	Comment         string `json:"comment"`
	AchievementRate int    `json:"achievement_rate"`
	ReviewerID      string `json:"reviewer_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type Outcome struct {
	Decision  string  `json:"decision"`
	Notes     string  `json:"notes"`
	IssueURL  *string `json:"issue_url,omitempty"`
	DeciderID string  `json:"decider_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Cycle is the API decision cycle model.
type Cycle struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	Status      string     `json:"status"`
	OwnerID     string     `json:"owner_id"`
	OwnerName   string     `json:"owner_name,omitempty"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	Hypothesis  Hypothesis `json:"hypothesis"`
	Evidence    []Evidence `json:"evidence"`
	Review      *Review    `json:"review,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
}

type KeyResult struct {
	Metric   string  `json:"metric"`
	Target   string  `json:"target"`
	Baseline *string `json:"baseline,omitempty"`
	Achieved *int    `json:"achieved,omitempty"`
}

// Assessment is the scored view of a set of key results.
type Assessment struct {
	KeyResults       []KeyResult `json:"key_results"`
	AchievementRate  int         `json:"achievement_rate"`
	SuggestedVerdict string      `json:"suggested_verdict"`
}

// NorthStar is the validated decision rate of a project.
type NorthStar struct {
	ValidatedDecisionRate int `json:"validated_decision_rate"`
	Trend                 int `json:"trend"`
	Breakdown             struct {
		Validated    int `json:"validated"`
		NotValidated int `json:"not_validated"`
		Pending      int `json:"pending"`
		Total        int `json:"total"`
	} `json:"breakdown"`
	History []struct {
		Month string `json:"month"`
		Rate  int    `json:"rate"`
	} `json:"history"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// CreateCycleInput mirrors the create-cycle request body.
type CreateCycleInput struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title,omitempty"`
	Template        string `json:"template,omitempty"`
	Hypothesis      string `json:"hypothesis,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
	OutOfScope      string `json:"out_of_scope,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	OwnerName       string `json:"owner_name,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedCycles wraps cycle listings with a cursor.
type PaginatedCycles struct {
	Items      []Cycle `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ListCycles returns one page of the project's cycles; status may be empty.
func (c *Client) ListCycles(ctx context.Context, status string, limit int, cursor string) (PaginatedCycles, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedCycles
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath("cycles"), q), nil, &resp)
	return resp, err
}

// CreateCycle starts a cycle in the client's project.
func (c *Client) CreateCycle(ctx context.Context, in CreateCycleInput) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, c.projectPath("cycles"), in, &resp)
	return resp, err
}

// GetCycle fetches a cycle by id.
func (c *Client) GetCycle(ctx context.Context, id string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodGet, cyclePath(id, ""), nil, &resp)
	return resp, err
}

// LockHypothesis freezes the hypothesis of a cycle.
func (c *Client) LockHypothesis(ctx context.Context, id string) (Cycle, error) {
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(id, "hypothesis/lock"), nil, &resp)
	return resp, err
}

// AdvanceCycle moves a cycle to status "to", or to the next status when to is empty.
func (c *Client) AdvanceCycle(ctx context.Context, id, to string, force bool) (Cycle, error) {
	body := map[string]any{}
	if to != "" {
		body["to"] = to
	}
	if force {
		body["force"] = true
	}
	var resp Cycle
	err := c.do(ctx, http.MethodPost, cyclePath(id, "status"), body, &resp)
	return resp, err
}

// AttachEvidence adds evidence to an executing or reviewed cycle.
func (c *Client) AttachEvidence(ctx context.Context, cycleID, evidenceType, referenceURL, status, conclusion string) (Evidence, error) {
	body := map[string]any{
		"type":          evidenceType,
		"reference_url": referenceURL,
	}
	if status != "" {
		body["status"] = status
	}
	if conclusion != "" {
		body["conclusion"] = conclusion
	}
	var resp Evidence
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID, "evidence"), body, &resp)
	return resp, err
}

// KeyResults returns the cycle's key results with their marks.
func (c *Client) KeyResults(ctx context.Context, cycleID string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodGet, cyclePath(cycleID, "key-results"), nil, &resp)
	return resp, err
}

// MarkKeyResult records how much of key result index was achieved.
func (c *Client) MarkKeyResult(ctx context.Context, cycleID string, index, achieved int) (Assessment, error) {
	var resp Assessment
	endpoint := cyclePath(cycleID, "key-results/"+strconv.Itoa(index))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"achieved": achieved}, &resp)
	return resp, err
}

// SubmitReview reviews a cycle; an empty verdict takes the suggested one.
func (c *Client) SubmitReview(ctx context.Context, cycleID, verdict, comment string) (Review, error) {
	body := map[string]any{}
	if verdict != "" {
		body["verdict"] = verdict
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Review
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID, "review"), body, &resp)
	return resp, err
}

// RecordOutcome records the decision taken after the review.
func (c *Client) RecordOutcome(ctx context.Context, cycleID, decision, notes, issueURL string) (Outcome, error) {
	body := map[string]any{"decision": decision}
	if notes != "" {
		body["notes"] = notes
	}
	if issueURL != "" {
		body["issue_url"] = issueURL
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, cyclePath(cycleID, "outcome"), body, &resp)
	return resp, err
}

// Parse scores success criteria without storing anything. marks maps key result index to achieved percent.
func (c *Client) Parse(ctx context.Context, criteria string, marks map[int]int) (Assessment, error) {
	type mark struct {
		Index    int `json:"index"`
		Achieved int `json:"achieved"`
	}
	body := struct {
		SuccessCriteria string `json:"success_criteria"`
		Marks           []mark `json:"marks,omitempty"`
	}{SuccessCriteria: criteria}
	for i, v := range marks {
		body.Marks = append(body.Marks, mark{Index: i, Achieved: v})
	}
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "v0/parse", body, &resp)
	return resp, err
}

// NorthStar returns the project's validated decision rate.
func (c *Client) NorthStar(ctx context.Context) (NorthStar, error) {
	var resp NorthStar
	err := c.do(ctx, http.MethodGet, c.projectPath("north-star"), nil, &resp)
	return resp, err
}

// Events returns recent events of the client's project.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if c.ProjectID != "" {
		q.Set("project_id", c.ProjectID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func cyclePath(id, sub string) string {
	p := "v0/cycles/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
