package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"decisionos/internal/config"
	"decisionos/internal/domain"
	"decisionos/internal/engine/auth"
	"decisionos/internal/events"
	"decisionos/internal/lifecycle"
	"decisionos/internal/repo"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("invalid cycle state")
	ErrHypothesisLocked    = errors.New("hypothesis is locked")
	ErrHypothesisNotLocked = errors.New("hypothesis is not locked")
	ErrAlreadyReviewed     = errors.New("cycle already reviewed")
	ErrAlreadyDecided      = errors.New("cycle outcome already recorded")
)

// TransitionError is returned when a status change is refused.
type TransitionError = lifecycle.TransitionError

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Recorder receives domain counters. *metrics.Metrics implements it.
type Recorder interface {
	CycleCreated(projectID string)
	StatusChanged(from, to string)
	ReviewSubmitted(verdict string)
	OutcomeRecorded(decision string)
}

type nopRecorder struct{}

func (nopRecorder) CycleCreated(string)       {}
func (nopRecorder) StatusChanged(_, _ string) {}
func (nopRecorder) ReviewSubmitted(string)    {}
func (nopRecorder) OutcomeRecorded(string)    {}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Metrics Recorder
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Metrics: nopRecorder{},
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) metrics() Recorder {
	if e.Metrics == nil {
		return nopRecorder{}
	}
	return e.Metrics
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

// inTx runs fn in a transaction and commits when fn succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectCreateOptions are parameters for InitProject.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	WorkspaceID string
	GitHub      *domain.GitHubConnection
	Config      *config.Config
	ActorID     string
	CreatedAt   string
}

// InitProject creates a project with its config, mirrors the config roles and makes the
// creating actor its owner.
func (e Engine) InitProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = opts.ID
	}
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	if opts.ActorID == "" {
		return domain.Project{}, invalid("actor is required")
	}
	now := opts.CreatedAt
	if now == "" {
		now = e.stamp()
	}
	id := opts.ID
	if id == "" {
		id = "proj_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"|"+now)).String()[:8]
	}
	workspaceID := opts.WorkspaceID
	if workspaceID == "" {
		workspaceID = "default"
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(id)
	}
	cfg.Project.Name = name
	p := domain.Project{
		ID:          id,
		Name:        name,
		WorkspaceID: workspaceID,
		GitHub:      opts.GitHub,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
			return fmt.Errorf("insert project config: %w", err)
		}
		if err := e.Repo.SyncRolesTx(ctx, tx, cfg); err != nil {
			return fmt.Errorf("sync roles: %w", err)
		}
		if err := e.Auth.EnsureActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		if _, ok := cfg.RBAC.Roles["owner"]; ok {
			if err := e.Repo.AssignRole(ctx, tx, p.ID, opts.ActorID, "owner"); err != nil {
				return fmt.Errorf("assign owner: %w", err)
			}
		}
		return e.appendEvent(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
			"name":         p.Name,
			"workspace_id": p.WorkspaceID,
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject renames a project.
func (e Engine) UpdateProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, repo.ProjectUpdate{Name: &name}, e.stamp()); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectUpdated, projectID, "project", projectID, actorID, events.EventPayload{"name": name}); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProjectTx(ctx, tx, projectID)
		return err
	})
	return p, err
}

// ConnectGitHub stores repository metadata for a project. No GitHub API is contacted.
func (e Engine) ConnectGitHub(ctx context.Context, projectID, owner, repoName, actorID string) (domain.Project, error) {
	owner, repoName = strings.TrimSpace(owner), strings.TrimSpace(repoName)
	if owner == "" || repoName == "" {
		return domain.Project{}, invalid("github owner and repo are required")
	}
	if strings.ContainsAny(owner+repoName, " /") {
		return domain.Project{}, invalid("github owner and repo must be single path segments")
	}
	gh := &domain.GitHubConnection{Owner: owner, Repo: repoName, Connected: true}
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, repo.ProjectUpdate{GitHub: gh}, e.stamp()); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.GitHubConnected, projectID, "project", projectID, actorID, events.EventPayload{
			"owner": owner,
			"repo":  repoName,
		}); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProjectTx(ctx, tx, projectID)
		return err
	})
	return p, err
}

// DeleteProject removes a project and, by cascade, its cycles.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProjectTx(ctx, tx, projectID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ProjectDeleted, projectID, "project", projectID, actorID, nil)
	})
}

// ImportConfig replaces a project's config and re-syncs its roles.
func (e Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return invalid("config is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if err := e.Repo.SyncRolesTx(ctx, tx, cfg); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ConfigUpdated, projectID, "project", projectID, actorID, events.EventPayload{
			"evidence_types": len(cfg.Evidence.Types),
			"roles":          len(cfg.RBAC.Roles),
			"webhooks":       len(cfg.Webhooks),
		})
	})
}

// ProjectConfig returns the stored config, falling back to the engine default.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil {
			return e.Config, nil
		}
		return config.Default(projectID), nil
	}
	return cfg, err
}

// GrantRole assigns a config-declared role to an actor on a project.
func (e Engine) GrantRole(ctx context.Context, projectID, actorID, roleID, grantedBy string) error {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return err
	}
	if _, ok := cfg.RBAC.Roles[roleID]; !ok {
		return invalid("unknown role %q", roleID)
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SyncRolesTx(ctx, tx, cfg); err != nil {
			return err
		}
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.RoleGranted, projectID, "actor", actorID, grantedBy, events.EventPayload{"role": roleID})
	})
}

// CreateAPIKey mints a key for actorID. The raw key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, createdBy string) (string, domain.APIKey, error) {
	if actorID == "" {
		return "", domain.APIKey{}, invalid("actor is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	raw := "dos_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKeyTx(ctx, tx, key); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, createdBy, events.EventPayload{"actor_id": actorID, "name": name})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
