package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dagrun/dagrun/internal/tools"
)

const (
	toolsPlaceholder       = "{{tools}}"
	currentDatePlaceholder = "{{currentDate}}"
)

// RenderTemplate performs the two literal substitutions the agent's prompt
// templates rely on: {{tools}} becomes the tool registry's descriptors as
// JSON, {{currentDate}} becomes now formatted as RFC3339. This is
// deliberately plain string replacement, not text/template — the grammar is
// two fixed placeholders, and behavior must be exact rather than
// general-purpose.
func RenderTemplate(tmpl string, toolDefs []tools.Definition, now time.Time) (string, error) {
	out := tmpl
	if strings.Contains(out, toolsPlaceholder) {
		data, err := json.Marshal(toolDefs)
		if err != nil {
			return "", fmt.Errorf("planner: marshal tool definitions: %w", err)
		}
		out = strings.ReplaceAll(out, toolsPlaceholder, string(data))
	}
	out = strings.ReplaceAll(out, currentDatePlaceholder, now.UTC().Format(time.RFC3339))
	return out, nil
}

// BuildGapPrompt augments the user prompt with a numbered list of gaps from
// a prior attempt's coverage validation.
func BuildGapPrompt(basePrompt string, gaps []string) string {
	if len(gaps) == 0 {
		return basePrompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nThe previous plan left the following gaps; address them:\n")
	for i, g := range gaps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, g)
	}
	return b.String()
}

// BuildParseErrorPrompt augments the user prompt with a diagnostic parse
// failure from a prior attempt.
func BuildParseErrorPrompt(basePrompt string, diag ParseDiagnostic) string {
	return basePrompt + "\n\nThe previous response could not be parsed as JSON:\n" + diag.String() +
		"\n\nRespond again with a single ```json fenced code block containing a valid Job object."
}
