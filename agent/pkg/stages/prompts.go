package stages

import (
	"fmt"
	"strings"

	"github.com/sqlhelper/sqlhelper/agent/pkg/stages/prompts"
)

// Prompts contains all the stage prompts loaded from embedded files.
type Prompts struct {
	Classify   string // Intent classification, answers 0 or 1
	Casual     string // Small talk reply
	Select     string // Table selection
	Reselect   string // Appended to Select on a corrective pass
	Generate   string // First-pass SQL generation
	Regenerate string // Corrective SQL generation
	Respond    string // Business answer from a query result
	Failure    string // Graceful failure message
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	files := []struct {
		name string
		dst  *string
	}{
		{"CLASSIFY.md", &p.Classify},
		{"CASUAL.md", &p.Casual},
		{"SELECT.md", &p.Select},
		{"RESELECT.md", &p.Reselect},
		{"GENERATE.md", &p.Generate},
		{"REGENERATE.md", &p.Regenerate},
		{"RESPOND.md", &p.Respond},
		{"FAILURE.md", &p.Failure},
	}
	for _, f := range files {
		s, err := loadPrompt(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", strings.TrimSuffix(f.name, ".md"), err)
		}
		*f.dst = s
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// fill replaces {{KEY}} placeholders.
func fill(tmpl string, kv ...string) string {
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{{"+kv[i]+"}}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
