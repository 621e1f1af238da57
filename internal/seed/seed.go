// Package seed loads the demo workspace: three projects and four cycles, one per phase.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/repo"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

type Fixtures struct {
	Projects []domain.Project       `yaml:"projects"`
	Cycles   []domain.DecisionCycle `yaml:"cycles"`
}

// Result counts what Load inserted; rows already present are skipped.
type Result struct {
	Projects int `json:"projects"`
	Cycles   int `json:"cycles"`
}

func Parse() (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(fixturesYAML, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

// Load inserts the demo fixtures. Running it twice leaves the workspace unchanged.
func Load(ctx context.Context, e engine.Engine, actorID string) (Result, error) {
	f, err := Parse()
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, p := range f.Projects {
		_, err := e.Repo.GetProject(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		if _, err := e.InitProject(ctx, engine.ProjectCreateOptions{
			ID:          p.ID,
			Name:        p.Name,
			WorkspaceID: p.WorkspaceID,
			GitHub:      p.GitHub,
			ActorID:     actorID,
			CreatedAt:   p.CreatedAt,
		}); err != nil {
			return res, fmt.Errorf("seed project %s: %w", p.ID, err)
		}
		res.Projects++
	}
	for _, c := range f.Cycles {
		inserted, err := e.ImportCycle(ctx, c, actorID)
		if err != nil {
			return res, fmt.Errorf("seed cycle %s: %w", c.ID, err)
		}
		if inserted {
			res.Cycles++
		}
	}
	return res, nil
}
