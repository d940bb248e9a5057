package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/valter-silva-au/grandma/pkg/models"
)

// Prompt template file names, resolved under the prompt directory. All four
// must exist before a session starts; ValidateEnvironment enforces this so a
// missing template never fails mid-loop.
const (
	PromptInit       = "init.md"
	PromptPreflight  = "preflight.md"
	PromptImplement  = "implement.md"
	PromptPostflight = "postflight.md"
)

// PromptTemplateNames returns the required template file names.
func PromptTemplateNames() []string {
	return []string{PromptInit, PromptPreflight, PromptImplement, PromptPostflight}
}

// PromptContext is the data rendered into a prompt template.
type PromptContext struct {
	Task          *models.Task // nil during session init
	Iteration     int
	MaxIterations int
	Branch        string
	Incomplete    int
	ProgressPath  string
	GuidancePath  string
}

// Criteria renders the current task's acceptance criteria as a numbered
// block, for direct inclusion in template bodies.
func (c PromptContext) Criteria() string {
	if c.Task == nil || len(c.Task.AcceptanceCriteria) == 0 {
		return ""
	}
	var b strings.Builder
	for i, crit := range c.Task.AcceptanceCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, crit)
	}
	return b.String()
}

// PromptBuilder renders the prompt templates for each phase. Prompts may be
// arbitrarily large free text; they are delivered to the agent over stdin.
type PromptBuilder interface {
	Build(name string, ctx PromptContext) (string, error)
}

type filePromptBuilder struct {
	dir string
}

// NewPromptBuilder creates a PromptBuilder reading templates from dir.
func NewPromptBuilder(dir string) PromptBuilder {
	return &filePromptBuilder{dir: dir}
}

// Build parses the named template file and renders it with the given
// context.
func (b *filePromptBuilder) Build(name string, ctx PromptContext) (string, error) {
	path := filepath.Join(b.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt template %s: %w", path, err)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parsing prompt template %s: %w", path, err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("rendering prompt template %s: %w", path, err)
	}
	return out.String(), nil
}
