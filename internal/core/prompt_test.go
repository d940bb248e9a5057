package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/grandma/pkg/models"
)

func promptFixture(t *testing.T, name, body string) PromptBuilder {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewPromptBuilder(dir)
}

func TestBuild_RendersTaskFields(t *testing.T) {
	b := promptFixture(t, PromptImplement,
		"Task {{.Task.ID}}: {{.Task.Title}}\nIteration {{.Iteration}} of {{.MaxIterations}}\n{{.Criteria}}")

	out, err := b.Build(PromptImplement, PromptContext{
		Task: &models.Task{
			ID:    "T-7",
			Title: "Wire up the session archive",
			AcceptanceCriteria: []string{
				"archive folder is dated",
				"logs are reset afterwards",
			},
		},
		Iteration:     2,
		MaxIterations: 10,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"Task T-7: Wire up the session archive",
		"Iteration 2 of 10",
		"1. archive folder is dated",
		"2. logs are reset afterwards",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, out)
		}
	}
}

func TestBuild_MissingTemplateFile(t *testing.T) {
	b := NewPromptBuilder(t.TempDir())

	if _, err := b.Build(PromptInit, PromptContext{}); err == nil {
		t.Fatal("Build succeeded with no template on disk")
	}
}

func TestBuild_UnknownFieldFails(t *testing.T) {
	b := promptFixture(t, PromptPreflight, "hello {{.NoSuchField}}")

	if _, err := b.Build(PromptPreflight, PromptContext{}); err == nil {
		t.Fatal("Build rendered a template referencing an unknown field")
	}
}

func TestCriteria_EmptyWithoutTask(t *testing.T) {
	if got := (PromptContext{}).Criteria(); got != "" {
		t.Errorf("Criteria without a task = %q, want empty", got)
	}
	ctx := PromptContext{Task: &models.Task{ID: "T-1"}}
	if got := ctx.Criteria(); got != "" {
		t.Errorf("Criteria without criteria = %q, want empty", got)
	}
}

// The shipped templates must render against a fully populated context with no
// stray fields, so a template typo is caught here instead of mid-session.
func TestShippedTemplatesRender(t *testing.T) {
	dir := filepath.Join("..", "..", "prompts")
	if _, err := os.Stat(dir); err != nil {
		t.Skipf("prompt templates not present: %v", err)
	}
	b := NewPromptBuilder(dir)

	ctx := PromptContext{
		Task: &models.Task{
			ID:                 "T-1",
			Title:              "Example task",
			Description:        "Do the example work",
			AcceptanceCriteria: []string{"it works"},
		},
		Iteration:     1,
		MaxIterations: 10,
		Branch:        "feat/example",
		Incomplete:    3,
		ProgressPath:  "PROGRESS.md",
		GuidancePath:  "GUIDANCE.md",
	}

	for _, name := range PromptTemplateNames() {
		if _, err := b.Build(name, ctx); err != nil {
			t.Errorf("template %s does not render: %v", name, err)
		}
	}
}
