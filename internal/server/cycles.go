package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"decisionos/internal/config"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/okr"
	"decisionos/internal/repo"
	"decisionos/internal/templates"
)

type cyclePath struct {
	CycleID string `path:"cycle_id"`
}

type cycleBody struct {
	Body CycleResponse `json:"body"`
}

// authorizeCycle loads the cycle and checks perm on its project.
func authorizeCycle(ctx context.Context, e engine.Engine, cycleID, perm string) (domain.DecisionCycle, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return domain.DecisionCycle{}, err
	}
	if err := requirePermission(ctx, e, c.ProjectID, perm); err != nil {
		return domain.DecisionCycle{}, err
	}
	return c, nil
}

// reloadCycle returns the stored cycle after a mutation so children and project name are filled in.
func reloadCycle(ctx context.Context, e engine.Engine, cycleID string) (*cycleBody, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, handleError(err)
	}
	return &cycleBody{Body: cycleResponse(c)}, nil
}

func registerCycles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "Quick-start cycle templates",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		all, err := templates.All()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: all}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cycles",
		Summary:     "List decision cycles, newest first",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"DRAFTING,EXECUTING,REVIEW,OUTCOME,CLOSED"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedCycles `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermCycleRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListCycles(ctx, repo.CycleFilters{
			ProjectID:       input.ProjectID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCycles{Items: []CycleResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		for _, c := range items {
			resp.Items = append(resp.Items, cycleResponse(c))
		}
		return &struct {
			Body paginatedCycles `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-cycle",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/cycles",
		Summary:       "Start a decision cycle in DRAFTING",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateCycleRequest `json:"body"`
	}) (*cycleBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermCycleWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID != "" {
			if _, err := e.Repo.GetCycle(ctx, input.Body.ID); err == nil {
				return nil, newAPIError(http.StatusConflict, "conflict", "cycle already exists", map[string]any{"id": input.Body.ID})
			}
		}
		c, err := e.CreateCycle(ctx, engine.CycleCreateOptions{
			ID:              input.Body.ID,
			ProjectID:       input.ProjectID,
			Title:           input.Body.Title,
			Template:        input.Body.Template,
			Hypothesis:      input.Body.Hypothesis,
			SuccessCriteria: input.Body.SuccessCriteria,
			OutOfScope:      input.Body.OutOfScope,
			OwnerID:         input.Body.OwnerID,
			OwnerName:       input.Body.OwnerName,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}",
		Summary:     "Get a decision cycle with its phases",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*cycleBody, error) {
		c, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleRead)
		if err != nil {
			return nil, handleError(err)
		}
		return &cycleBody{Body: cycleResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-hypothesis",
		Method:      http.MethodPatch,
		Path:        "/cycles/{cycle_id}/hypothesis",
		Summary:     "Edit an unlocked hypothesis",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string                  `path:"cycle_id"`
		Body    UpdateHypothesisRequest `json:"body"`
	}) (*cycleBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.UpdateHypothesis(ctx, engine.HypothesisUpdate{
			CycleID:         input.CycleID,
			Title:           input.Body.Title,
			Hypothesis:      input.Body.Hypothesis,
			SuccessCriteria: input.Body.SuccessCriteria,
			OutOfScope:      input.Body.OutOfScope,
			ActorID:         actorID,
		}); err != nil {
			return nil, handleError(err)
		}
		return reloadCycle(ctx, e, input.CycleID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-hypothesis",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/hypothesis/lock",
		Summary:     "Lock the hypothesis before execution",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *cyclePath) (*cycleBody, error) {
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.LockHypothesis(ctx, input.CycleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return reloadCycle(ctx, e, input.CycleID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/status",
		Summary:     "Move a cycle to the next (or given) status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string              `path:"cycle_id"`
		Body    AdvanceCycleRequest `json:"body"`
	}) (*cycleBody, error) {
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.AdvanceCycle(ctx, input.CycleID, domain.Status(input.Body.To), actorID, input.Body.Force); err != nil {
			return nil, handleError(err)
		}
		return reloadCycle(ctx, e, input.CycleID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/evidence",
		Summary:     "List evidence attached to a cycle",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*struct {
		Body []domain.Evidence `json:"body"`
	}, error) {
		c, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleRead)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Evidence `json:"body"`
		}{Body: nonNilSlice(c.Evidence)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-evidence",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/evidence",
		Summary:       "Attach evidence while executing or under review",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string                `path:"cycle_id"`
		Body    AttachEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AttachEvidence(ctx, engine.EvidenceOptions{
			CycleID:      input.CycleID,
			Type:         input.Body.Type,
			ReferenceURL: input.Body.ReferenceURL,
			Status:       input.Body.Status,
			Conclusion:   input.Body.Conclusion,
			ActorID:      actorID,
			Force:        input.Body.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: ev}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-key-results",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/key-results",
		Summary:     "Key results parsed from the success criteria, with achievement",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermCycleRead); err != nil {
			return nil, handleError(err)
		}
		a, err := e.KeyResults(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-key-result",
		Method:      http.MethodPut,
		Path:        "/cycles/{cycle_id}/key-results/{index}",
		Summary:     "Record how much of a key result was achieved",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string               `path:"cycle_id"`
		Index   int                  `path:"index" minimum:"0"`
		Body    MarkKeyResultRequest `json:"body"`
	}) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermReviewSubmit); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.MarkKeyResult(ctx, input.CycleID, input.Index, input.Body.Achieved, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-review",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/review",
		Summary:       "Submit the review verdict",
		Description:   "Omitting the verdict accepts the one suggested by the achievement rate.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string              `path:"cycle_id"`
		Body    SubmitReviewRequest `json:"body"`
	}) (*struct {
		Body domain.Review `json:"body"`
	}, error) {
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermReviewSubmit); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.SubmitReview(ctx, engine.ReviewOptions{
			CycleID: input.CycleID,
			Verdict: domain.Verdict(input.Body.Verdict),
			Comment: input.Body.Comment,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Review `json:"body"`
		}{Body: rv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-outcome",
		Method:        http.MethodPost,
		Path:          "/cycles/{cycle_id}/outcome",
		Summary:       "Record the decision taken after review",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CycleID string               `path:"cycle_id"`
		Body    RecordOutcomeRequest `json:"body"`
	}) (*struct {
		Body domain.Outcome `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := authorizeCycle(ctx, e, input.CycleID, config.PermOutcomeRecord); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.RecordOutcome(ctx, engine.OutcomeOptions{
			CycleID:  input.CycleID,
			Decision: domain.Decision(input.Body.Decision),
			Notes:    input.Body.Notes,
			IssueURL: input.Body.IssueURL,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Outcome `json:"body"`
		}{Body: o}, nil
	})
}

func registerParse(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "parse-criteria",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Parse success criteria into key results and a suggested verdict",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ParseRequest `json:"body"`
	}) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		marks := make(map[int]int, len(input.Body.Marks))
		for _, m := range input.Body.Marks {
			marks[m.Index] = m.Achieved
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: okr.Assess(input.Body.SuccessCriteria, marks)}, nil
	})
}
