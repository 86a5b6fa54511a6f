package persona

import (
	"fmt"
	"os"
	"path/filepath"
)

// selectionRule returns the template-selection rule for a persona id.
// The three built-ins keep their historical selection behavior; anything
// else picks by task name with the manifest default as fallback.
func selectionRule(id string) func(Manifest, Context) string {
	switch id {
	case "specialist":
		return selectSpecialist
	case "product-manager":
		return selectProductManager
	case "qa-engineer":
		return selectQAEngineer
	default:
		return selectGeneric
	}
}

// selectSpecialist picks the template named after the role; sessions
// without a role get the default template.
func selectSpecialist(m Manifest, ctx Context) string {
	if ctx.Role != "" {
		return ctx.Role
	}
	return fallbackTemplate(m)
}

func selectProductManager(m Manifest, ctx Context) string {
	switch ctx.Task {
	case "decompose":
		if ctx.IssueType == "epic" {
			return "decompose-epic"
		}
		return "decompose-feature"
	case "extend":
		if ctx.IssueType == "epic" {
			return "extend-epic"
		}
		return "extend-feature"
	case "implement":
		if ctx.IssueType == "feature" {
			return "implement-feature"
		}
		return "implement-task"
	case "chat", "":
		return "chat"
	default:
		return fallbackTemplate(m)
	}
}

func selectQAEngineer(m Manifest, ctx Context) string {
	return "fix-dependencies"
}

func selectGeneric(m Manifest, ctx Context) string {
	if ctx.Task != "" {
		return ctx.Task
	}
	return fallbackTemplate(m)
}

func fallbackTemplate(m Manifest) string {
	if m.DefaultTemplate != "" {
		return m.DefaultTemplate
	}
	return "default"
}

// builtinFiles maps relative paths to scaffolded content for the
// built-in personas. Files are only written when absent so local edits
// survive restarts.
var builtinFiles = map[string]string{
	"specialist/persona.yaml": `id: specialist
name: Specialist
description: Hands-on engineer for domain-specific implementation work
default_template: default
`,
	"specialist/default.md": `# Specialist

You are a hands-on software specialist working on task {{feature_id}}.
Implement exactly what the task asks for. Keep changes small and focused,
and verify your work before reporting done.
`,
	"product-manager/persona.yaml": `id: product-manager
name: Product Manager
description: Decomposes, extends, and drives implementation of features
default_template: chat
`,
	"product-manager/chat.md": `# Product Manager

You are a product manager collaborating on task {{feature_id}}.
Clarify requirements, break work into concrete steps, and keep scope tight.
`,
	"product-manager/implement-task.md": `# Product Manager: Implement

Drive the implementation of task {{feature_id}} to completion.
State acceptance criteria first, then work through them one at a time.
`,
	"qa-engineer/persona.yaml": `id: qa-engineer
name: QA Engineer
description: Testing, validation, and dependency health
default_template: fix-dependencies
`,
	"qa-engineer/fix-dependencies.md": `# QA Engineer: Fix Dependencies

Audit the dependencies of task {{feature_id}}.
Find broken, missing, or outdated dependencies and repair them, verifying
the build after each change.
`,
}

// EnsureDefaults scaffolds the built-in persona files under dir,
// creating only what does not already exist.
func EnsureDefaults(dir string) error {
	for rel, content := range builtinFiles {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create persona dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write builtin persona file: %w", err)
		}
	}
	return nil
}
