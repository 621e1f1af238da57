package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("proj_1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "proj_1" {
		t.Fatalf("expected project id proj_1, got %s", cfg.Project.ID)
	}
	if !cfg.HasEvidenceType("CI_RUN") || !cfg.HasEvidenceType("PREVIEW_URL") {
		t.Fatalf("default catalog missing CI_RUN/PREVIEW_URL")
	}
	if _, ok := cfg.RBAC.Roles["owner"]; !ok {
		t.Fatalf("default roles missing owner")
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing id":       "evidence:\n  types:\n    CI_RUN: {}\n",
		"lowercase type":   "project:\n  id: p\nevidence:\n  types:\n    ci_run: {}\n",
		"no owner role":    "project:\n  id: p\nevidence:\n  types:\n    CI_RUN: {}\nrbac:\n  roles:\n    viewer:\n      permissions: [cycle.read]\n",
		"webhook no url":   "project:\n  id: p\nevidence:\n  types:\n    CI_RUN: {}\nwebhooks:\n  - events: [cycle.created]\n",
		"not yaml mapping": "- just\n- a list\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	doc := GenerateDefault("demo")
	if !strings.Contains(doc, "id: demo") {
		t.Fatalf("template missing project id")
	}
	cfg, err := FromYAML([]byte(doc))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if len(cfg.Evidence.Types) != 5 {
		t.Fatalf("expected 5 evidence types, got %d", len(cfg.Evidence.Types))
	}
}
