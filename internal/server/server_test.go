package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"decisionos/internal/config"
	"decisionos/internal/db"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/metrics"
	"decisionos/internal/migrate"
	"decisionos/internal/okr"
)

const (
	testProject = "proj-1"
	testSecret  = "test-secret"
	criteria    = "- Checkout conversion ≥ 45% (baseline: 30%)\n- Cart abandonment < 20%\n- No increase in support tickets"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// as returns headers authenticating through the legacy actor header.
func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

var owner = as("tester")

func newTestEngine(t *testing.T) (engine.Engine, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(testProject)
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), engine.ProjectCreateOptions{ID: testProject, Name: "Checkout", Config: cfg, ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return e, func() { conn.Close() }
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e, closeDB := newTestEngine(t)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Metrics:  metrics.New(),
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			DevLogin:               true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			closeDB()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// call performs a request, checks the status and decodes the body into out when non-nil.
func call(t *testing.T, srv *testServer, method, route string, body any, headers map[string]string, want int, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+route, body, headers)
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, route, res.StatusCode, want, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode: %v: %s", method, route, err, string(data))
		}
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, srv *testServer, method, route string, body any, headers map[string]string, status int, code string) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	call(t, srv, method, route, body, headers, status, &env)
	if env.Error.Code != code {
		t.Fatalf("%s %s: error code %q, want %q (%s)", method, route, env.Error.Code, code, env.Error.Message)
	}
	return env
}

func createCycle(t *testing.T, srv *testServer) CycleResponse {
	t.Helper()
	var c CycleResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+testProject+"/cycles", map[string]any{
		"title":            "Shorter checkout",
		"hypothesis":       "Three steps convert better than five",
		"success_criteria": criteria,
	}, owner, http.StatusCreated, &c)
	return c
}

func TestCycleLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	c := createCycle(t, srv)
	if c.Status != domain.StatusDrafting || c.StatusStyle.Label != "Drafting" {
		t.Fatalf("unexpected new cycle %+v", c)
	}
	if c.ProjectName != "Checkout" || c.OwnerID != "tester" {
		t.Fatalf("expected project name and owner, got %+v", c)
	}
	base := "/v0/cycles/" + c.ID

	var edited CycleResponse
	call(t, srv, http.MethodPatch, base+"/hypothesis", map[string]any{"out_of_scope": "Payment providers"}, owner, http.StatusOK, &edited)
	if edited.Hypothesis.OutOfScope != "Payment providers" {
		t.Fatalf("out of scope not updated: %+v", edited.Hypothesis)
	}

	var locked CycleResponse
	call(t, srv, http.MethodPost, base+"/hypothesis/lock", nil, owner, http.StatusOK, &locked)
	if !locked.Hypothesis.Locked() || !locked.Phases.Hypothesis {
		t.Fatalf("expected locked hypothesis phase, got %+v", locked)
	}

	call(t, srv, http.MethodPost, base+"/status", map[string]any{}, owner, http.StatusOK, nil)
	var ev domain.Evidence
	call(t, srv, http.MethodPost, base+"/evidence", map[string]any{
		"type":          "ci_run",
		"reference_url": "https://ci.example.com/runs/42",
		"conclusion":    "success",
	}, owner, http.StatusCreated, &ev)
	if ev.Type != domain.EvidenceCIRun {
		t.Fatalf("evidence type %q", ev.Type)
	}
	var list []domain.Evidence
	call(t, srv, http.MethodGet, base+"/evidence", nil, owner, http.StatusOK, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 evidence, got %d", len(list))
	}

	var review CycleResponse
	call(t, srv, http.MethodPost, base+"/status", map[string]any{"to": "REVIEW"}, owner, http.StatusOK, &review)
	if review.Status != domain.StatusReview {
		t.Fatalf("status %s", review.Status)
	}

	for i, achieved := range []int{100, 100, 40} {
		call(t, srv, http.MethodPut, fmt.Sprintf("%s/key-results/%d", base, i), map[string]any{"achieved": achieved}, owner, http.StatusOK, nil)
	}
	var assessment okr.Assessment
	call(t, srv, http.MethodGet, base+"/key-results", nil, owner, http.StatusOK, &assessment)
	// only fully achieved key results count
	if assessment.AchievementRate != 67 || assessment.SuggestedVerdict != domain.VerdictNotValidated {
		t.Fatalf("unexpected assessment %+v", assessment)
	}
	if len(assessment.KeyResults) != 3 || assessment.KeyResults[0].Target != "≥ 45%" {
		t.Fatalf("unexpected key results %+v", assessment.KeyResults)
	}

	var rv domain.Review
	call(t, srv, http.MethodPost, base+"/review", map[string]any{"verdict": "VALIDATED", "comment": "Tickets flat, accept"}, owner, http.StatusCreated, &rv)
	if rv.Verdict != domain.VerdictValidated || rv.AchievementRate != 67 {
		t.Fatalf("unexpected review %+v", rv)
	}

	call(t, srv, http.MethodPost, base+"/status", map[string]any{}, owner, http.StatusOK, nil)
	var out domain.Outcome
	call(t, srv, http.MethodPost, base+"/outcome", map[string]any{
		"decision":  "PROCEED",
		"notes":     "Roll out to all users",
		"issue_url": "https://github.com/acme/shop/issues/7",
	}, owner, http.StatusCreated, &out)
	if out.Decision != domain.DecisionProceed || out.IssueURL == nil {
		t.Fatalf("unexpected outcome %+v", out)
	}

	var closed CycleResponse
	call(t, srv, http.MethodPost, base+"/status", map[string]any{}, owner, http.StatusOK, &closed)
	if closed.Status != domain.StatusClosed || !closed.Phases.Outcome {
		t.Fatalf("unexpected closed cycle %+v", closed)
	}

	var ns domain.NorthStar
	call(t, srv, http.MethodGet, "/v0/projects/"+testProject+"/north-star", nil, owner, http.StatusOK, &ns)
	if ns.ValidatedDecisionRate != 100 || ns.Breakdown.Validated != 1 || ns.Breakdown.Total != 1 {
		t.Fatalf("unexpected north star %+v", ns)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCycle(t, srv)
	base := "/v0/cycles/" + c.ID

	expectError(t, srv, http.MethodGet, "/v0/cycles/missing", nil, owner, http.StatusNotFound, "not_found")
	env := expectError(t, srv, http.MethodPost, base+"/status", map[string]any{"to": "EXECUTING"}, owner, http.StatusConflict, "invalid_transition")
	if env.Error.Details["reason"] != "hypothesis must be locked" {
		t.Fatalf("unexpected transition details %+v", env.Error.Details)
	}
	expectError(t, srv, http.MethodPost, base+"/evidence", map[string]any{
		"type":          "CI_RUN",
		"reference_url": "https://ci.example.com/runs/1",
	}, owner, http.StatusUnprocessableEntity, "validation_failed")

	call(t, srv, http.MethodPost, base+"/hypothesis/lock", nil, owner, http.StatusOK, nil)
	expectError(t, srv, http.MethodPatch, base+"/hypothesis", map[string]any{"hypothesis": "changed"}, owner, http.StatusConflict, "conflict")
	expectError(t, srv, http.MethodPut, base+"/key-results/9", map[string]any{"achieved": 50}, owner, http.StatusBadRequest, "bad_request")
	expectError(t, srv, http.MethodPost, base+"/review", map[string]any{}, owner, http.StatusUnprocessableEntity, "validation_failed")

	env = expectError(t, srv, http.MethodGet, base, nil, as("stranger"), http.StatusForbidden, "forbidden")
	if env.Error.Details["permission"] != config.PermCycleRead {
		t.Fatalf("unexpected forbidden details %+v", env.Error.Details)
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	call(t, srv, http.MethodGet, "/v0/health", nil, nil, http.StatusOK, nil)
	expectError(t, srv, http.MethodGet, "/v0/projects", nil, nil, http.StatusUnauthorized, "unauthorized")
	expectError(t, srv, http.MethodGet, "/v0/projects", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "invalid_credentials")

	var login DevLoginResponse
	call(t, srv, http.MethodPost, "/v0/auth/dev/login", map[string]any{
		"actor_id":    "bot",
		"permissions": []string{config.PermProjectRead, config.PermCycleRead},
	}, nil, http.StatusOK, &login)
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}
	var projects []domain.Project
	call(t, srv, http.MethodGet, "/v0/projects", nil, bearer, http.StatusOK, &projects)
	if len(projects) != 1 || projects[0].ID != testProject {
		t.Fatalf("unexpected projects %+v", projects)
	}
	expectError(t, srv, http.MethodPost, "/v0/projects/"+testProject+"/cycles", map[string]any{"title": "x"}, bearer, http.StatusForbidden, "forbidden")

	raw, _, err := srv.Engine.CreateAPIKey(context.Background(), "tester", "ci", "tester")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	var p domain.Project
	call(t, srv, http.MethodGet, "/v0/projects/"+testProject, nil, map[string]string{"X-Api-Key": raw}, http.StatusOK, &p)
	if p.Name != "Checkout" {
		t.Fatalf("unexpected project %+v", p)
	}
	expectError(t, srv, http.MethodGet, "/v0/projects/"+testProject, nil, map[string]string{"X-Api-Key": "dos_wrong"}, http.StatusUnauthorized, "invalid_credentials")

	var who WhoAmIResponse
	call(t, srv, http.MethodGet, "/v0/projects/"+testProject+"/me/permissions", nil, owner, http.StatusOK, &who)
	if len(who.Roles) != 1 || who.Roles[0] != "owner" {
		t.Fatalf("unexpected roles %+v", who)
	}
}

func TestProjectsCRUD(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var p domain.Project
	call(t, srv, http.MethodPost, "/v0/projects", map[string]any{
		"id":     "proj-2",
		"name":   "Search",
		"github": map[string]any{"owner": "acme", "repo": "search"},
	}, as("alice"), http.StatusCreated, &p)
	if p.GitHub == nil || !p.GitHub.Connected {
		t.Fatalf("expected github connection, got %+v", p)
	}
	expectError(t, srv, http.MethodPost, "/v0/projects", map[string]any{"id": "proj-2", "name": "Again"}, as("alice"), http.StatusConflict, "conflict")

	// alice owns proj-2 only
	var mine []domain.Project
	call(t, srv, http.MethodGet, "/v0/projects", nil, as("alice"), http.StatusOK, &mine)
	if len(mine) != 1 || mine[0].ID != "proj-2" {
		t.Fatalf("unexpected visible projects %+v", mine)
	}

	call(t, srv, http.MethodPatch, "/v0/projects/proj-2", map[string]any{"name": "Site search"}, as("alice"), http.StatusOK, &p)
	if p.Name != "Site search" {
		t.Fatalf("rename failed: %+v", p)
	}
	call(t, srv, http.MethodPost, "/v0/projects/proj-2/rbac/grants", map[string]any{"actor_id": "bob", "role_id": "viewer"}, as("alice"), http.StatusNoContent, nil)
	call(t, srv, http.MethodGet, "/v0/projects/proj-2", nil, as("bob"), http.StatusOK, nil)
	expectError(t, srv, http.MethodDelete, "/v0/projects/proj-2", nil, as("bob"), http.StatusForbidden, "forbidden")

	call(t, srv, http.MethodDelete, "/v0/projects/proj-2", nil, as("alice"), http.StatusNoContent, nil)
	expectError(t, srv, http.MethodGet, "/v0/projects/proj-2", nil, as("alice"), http.StatusForbidden, "forbidden")
}

func TestListCyclesPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for i := 0; i < 3; i++ {
		call(t, srv, http.MethodPost, "/v0/projects/"+testProject+"/cycles", map[string]any{
			"id":    fmt.Sprintf("cycle-%d", i),
			"title": fmt.Sprintf("Cycle %d", i),
		}, owner, http.StatusCreated, nil)
	}
	call(t, srv, http.MethodPost, "/v0/projects/"+testProject+"/cycles", map[string]any{"template": "perf"}, owner, http.StatusCreated, nil)

	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 3; page++ {
		route := "/v0/projects/" + testProject + "/cycles?limit=2"
		if cursor != "" {
			route += "&cursor=" + cursor
		}
		var resp paginatedCycles
		call(t, srv, http.MethodGet, route, nil, owner, http.StatusOK, &resp)
		for _, c := range resp.Items {
			if seen[c.ID] {
				t.Fatalf("cycle %s returned twice", c.ID)
			}
			seen[c.ID] = true
		}
		cursor = resp.NextCursor
		if cursor == "" {
			break
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 cycles across pages, got %d", len(seen))
	}

	var drafting paginatedCycles
	call(t, srv, http.MethodGet, "/v0/projects/"+testProject+"/cycles?status=DRAFTING", nil, owner, http.StatusOK, &drafting)
	if len(drafting.Items) != 4 {
		t.Fatalf("expected 4 drafting cycles, got %d", len(drafting.Items))
	}
	var reviewing paginatedCycles
	call(t, srv, http.MethodGet, "/v0/projects/"+testProject+"/cycles?status=REVIEW", nil, owner, http.StatusOK, &reviewing)
	if len(reviewing.Items) != 0 {
		t.Fatalf("expected no cycles in review, got %d", len(reviewing.Items))
	}
	expectError(t, srv, http.MethodGet, "/v0/projects/"+testProject+"/cycles?cursor=bogus", nil, owner, http.StatusBadRequest, "bad_request")
}

func TestParseAndTemplates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var a okr.Assessment
	call(t, srv, http.MethodPost, "/v0/parse", map[string]any{
		"success_criteria": criteria,
		"marks":            []map[string]int{{"index": 0, "achieved": 100}, {"index": 1, "achieved": 50}},
	}, owner, http.StatusOK, &a)
	if len(a.KeyResults) != 3 || a.AchievementRate != 33 || a.SuggestedVerdict != domain.VerdictNotValidated {
		t.Fatalf("unexpected parse result %+v", a)
	}
	if a.KeyResults[0].Baseline == nil || *a.KeyResults[0].Baseline != "30%" {
		t.Fatalf("expected baseline 30%%, got %+v", a.KeyResults[0])
	}

	var tpls []TemplateResponse
	call(t, srv, http.MethodGet, "/v0/templates", nil, owner, http.StatusOK, &tpls)
	if len(tpls) != 3 || tpls[0].Name != "ab_test" {
		t.Fatalf("unexpected templates %+v", tpls)
	}
}

func TestEventsAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := createCycle(t, srv)
	call(t, srv, http.MethodPost, "/v0/cycles/"+c.ID+"/hypothesis/lock", nil, owner, http.StatusOK, nil)

	var resp paginatedEvents
	call(t, srv, http.MethodGet, "/v0/events?project_id="+testProject+"&limit=2", nil, owner, http.StatusOK, &resp)
	if len(resp.Items) != 2 || resp.Items[0].Type != "hypothesis.locked" || resp.Items[1].Type != "cycle.created" {
		t.Fatalf("unexpected events %+v", resp.Items)
	}
	if resp.NextCursor == "" {
		t.Fatalf("expected next cursor (project.created remains)")
	}
	var rest paginatedEvents
	call(t, srv, http.MethodGet, "/v0/events?project_id="+testProject+"&cursor="+resp.NextCursor, nil, owner, http.StatusOK, &rest)
	if len(rest.Items) == 0 || rest.Items[len(rest.Items)-1].Type != "project.created" {
		t.Fatalf("unexpected remaining events %+v", rest.Items)
	}
	expectError(t, srv, http.MethodGet, "/v0/events?project_id="+testProject, nil, as("stranger"), http.StatusForbidden, "forbidden")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	for _, want := range []string{"decisionos_cycles_created_total", "decisionos_http_requests_total"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestOpenAPIAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	type response struct {
		Content map[string]struct {
			Schema struct {
				Ref string `json:"$ref"`
			} `json:"schema"`
		} `json:"content"`
	}
	type operation struct {
		Tags      []string            `json:"tags"`
		Responses map[string]response `json:"responses"`
	}
	var oas struct {
		Paths      map[string]map[string]json.RawMessage `json:"paths"`
		Components struct {
			Schemas map[string]any `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, p := range []string{"/v0/cycles/{cycle_id}/review", "/v0/projects/{project_id}/north-star", "/v0/parse"} {
		if _, ok := oas.Paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}
	var review operation
	if err := json.Unmarshal(oas.Paths["/v0/cycles/{cycle_id}/review"]["post"], &review); err != nil {
		t.Fatalf("decode review operation: %v", err)
	}
	if len(review.Tags) != 1 || review.Tags[0] != "cycles" {
		t.Fatalf("review operation tags = %v", review.Tags)
	}
	ref := review.Responses["default"].Content["application/json"].Schema.Ref
	name := strings.TrimPrefix(ref, "#/components/schemas/")
	if _, ok := oas.Components.Schemas[name]; name == "" || !ok {
		t.Fatalf("default error response %q does not resolve", ref)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs page status %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	e, closeDB := newTestEngine(t)
	defer closeDB()
	ctx := context.Background()

	type delivery struct {
		header http.Header
		body   webhookEvent
	}
	got := make(chan delivery, 8)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got <- delivery{header: r.Header.Clone(), body: evt}
		w.WriteHeader(http.StatusNoContent)
	})}
	go hookSrv.Serve(ln)
	defer hookSrv.Shutdown(ctx)

	cfg := config.Default(testProject)
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    "http://" + ln.Addr().String() + "/hook",
		Events: []string{"review.submitted", "cycle.created"},
		Secret: "s3cret",
	}}
	if err := e.ImportConfig(ctx, testProject, cfg, "tester"); err != nil {
		t.Fatalf("import config: %v", err)
	}

	rec := metrics.New()
	d := NewDispatcher(e, nil, rec)
	// first pass pins the cursor at the latest event
	d.DispatchOnce(ctx)
	select {
	case dl := <-got:
		t.Fatalf("unexpected delivery of earlier event %s", dl.body.Type)
	default:
	}

	c, err := e.CreateCycle(ctx, engine.CycleCreateOptions{ProjectID: testProject, Title: "Hooked", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	d.DispatchOnce(ctx)

	select {
	case dl := <-got:
		if dl.body.Type != "cycle.created" || dl.body.EntityID != c.ID {
			t.Fatalf("unexpected delivery %+v", dl.body)
		}
		if dl.header.Get("X-DecisionOS-Event") != "cycle.created" ||
			dl.header.Get("X-DecisionOS-Project") != testProject ||
			dl.header.Get("X-DecisionOS-Secret") != "s3cret" ||
			dl.header.Get("X-DecisionOS-Delivery") != fmt.Sprintf("%d", dl.body.ID) {
			t.Fatalf("unexpected headers %v", dl.header)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not delivered")
	}
	select {
	case dl := <-got:
		t.Fatalf("unexpected extra delivery %s", dl.body.Type)
	default:
	}
}
