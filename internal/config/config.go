package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models decisionos.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Evidence struct {
		Types map[string]struct {
			Description string `yaml:"description" json:"description"`
		} `yaml:"types" json:"types"`
	} `yaml:"evidence" json:"evidence"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Permissions understood by the API.
const (
	PermProjectRead   = "project.read"
	PermProjectWrite  = "project.write"
	PermCycleRead     = "cycle.read"
	PermCycleWrite    = "cycle.write"
	PermReviewSubmit  = "review.submit"
	PermOutcomeRecord = "outcome.record"
	PermEventsRead    = "events.read"
	PermAPIKeysManage = "apikeys.manage"
)

var evidenceTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Evidence.Types) == 0 {
		return fmt.Errorf("config.evidence.types is required")
	}
	for kind := range c.Evidence.Types {
		if !evidenceTypePattern.MatchString(kind) {
			return fmt.Errorf("evidence type %q must be UPPER_SNAKE_CASE", kind)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	return nil
}

// HasEvidenceType reports whether kind is in the evidence catalog.
func (c *Config) HasEvidenceType(kind string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Evidence.Types[kind]
	return ok
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s

evidence:
  types:
    CI_RUN:
      description: "CI pipeline run for the change under test"
    PREVIEW_URL:
      description: "Deployed preview of the change"
    DEPLOYMENT:
      description: "Production or staging deployment"
    ANALYTICS_REPORT:
      description: "Dashboard or report backing a key result"
    USER_RESEARCH:
      description: "Interview notes, survey or usability session"

rbac:
  roles:
    owner:
      description: "Full control of the project"
      permissions: [project.read, project.write, cycle.read, cycle.write, review.submit, outcome.record, events.read, apikeys.manage]
    reviewer:
      description: "Can review cycles and record outcomes"
      permissions: [project.read, cycle.read, review.submit, outcome.record, events.read]
    contributor:
      description: "Can draft cycles and attach evidence"
      permissions: [project.read, cycle.read, cycle.write, events.read]
    viewer:
      description: "Read-only access"
      permissions: [project.read, cycle.read]
`
