package app

import (
	"context"
	"errors"
	"fmt"

	"decisionos/internal/config"
	"decisionos/internal/repo"
)

// ResolveProjectAndConfig picks the active project and loads its config. It prefers the
// explicit override (flag, env or workspace .env default), then the only project in the
// workspace. A project without a stored config gets the default one written back.
func ResolveProjectAndConfig(ctx context.Context, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("no project in workspace; run `dos project create` or `dos seed`")
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w; use --project or `dos project use`", err)
		}
		projectID = p.ID
	}
	if _, err := r.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("project %s not found", projectID)
		}
		return "", nil, err
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default(projectID)
		if err := r.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		return projectID, cfg, nil
	}
	if err != nil {
		return "", nil, err
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
