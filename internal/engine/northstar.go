package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"decisionos/internal/domain"
	"decisionos/internal/repo"
)

// NorthStar computes the validated decision rate over closed cycles, scoped to a project
// when projectID is set. History holds one cumulative point per month in which a cycle
// closed, oldest first, so its last point always equals the current rate.
func (e Engine) NorthStar(ctx context.Context, projectID string) (domain.NorthStar, error) {
	if projectID != "" {
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			return domain.NorthStar{}, err
		}
	}
	rows, err := e.Repo.ListCycleVerdicts(ctx, projectID)
	if err != nil {
		return domain.NorthStar{}, err
	}
	return northStarFrom(rows), nil
}

func northStarFrom(rows []repo.CycleVerdict) domain.NorthStar {
	var ns domain.NorthStar
	ns.History = []domain.NorthStarPoint{}
	type monthTally struct{ closed, validated int }
	months := map[string]*monthTally{}
	closed := 0
	for _, r := range rows {
		ns.Breakdown.Total++
		if r.Status != domain.StatusClosed {
			ns.Breakdown.Pending++
			continue
		}
		closed++
		switch r.Verdict {
		case domain.VerdictValidated:
			ns.Breakdown.Validated++
		case domain.VerdictNotValidated:
			ns.Breakdown.NotValidated++
		}
		key := monthKey(r.ClosedAt)
		t, ok := months[key]
		if !ok {
			t = &monthTally{}
			months[key] = t
		}
		t.closed++
		if r.Verdict == domain.VerdictValidated {
			t.validated++
		}
	}
	ns.ValidatedDecisionRate = rate(ns.Breakdown.Validated, closed)

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	runClosed, runValidated := 0, 0
	for _, k := range keys {
		runClosed += months[k].closed
		runValidated += months[k].validated
		ns.History = append(ns.History, domain.NorthStarPoint{Month: monthLabel(k), Rate: rate(runValidated, runClosed)})
	}
	if n := len(ns.History); n >= 2 {
		ns.Trend = ns.History[n-1].Rate - ns.History[n-2].Rate
	}
	return ns
}

func rate(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Floor(float64(part)*100/float64(whole) + 0.5))
}

// monthKey returns "2006-01" for an RFC3339 timestamp; unparsable stamps sort first.
func monthKey(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "0000-00"
	}
	return t.UTC().Format("2006-01")
}

func monthLabel(key string) string {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return "Unknown"
	}
	return t.Format("Jan 2006")
}
