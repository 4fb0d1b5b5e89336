package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/tools"
)

func TestRenderTemplateSubstitutesCurrentDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	out, err := RenderTemplate("today is {{currentDate}}", nil, now)
	require.NoError(t, err)
	require.Equal(t, "today is 2026-03-04T05:06:07Z", out)
}

func TestRenderTemplateSubstitutesTools(t *testing.T) {
	t.Parallel()

	defs := []tools.Definition{{Name: "echo", Description: "echoes"}}
	out, err := RenderTemplate("available: {{tools}}", defs, time.Now())
	require.NoError(t, err)
	require.Contains(t, out, `"name":"echo"`)
}

func TestRenderTemplateLeavesPlainTextUntouched(t *testing.T) {
	t.Parallel()

	out, err := RenderTemplate("no placeholders here", nil, time.Now())
	require.NoError(t, err)
	require.Equal(t, "no placeholders here", out)
}

func TestBuildGapPromptAppendsNumberedGaps(t *testing.T) {
	t.Parallel()

	out := BuildGapPrompt("base goal", []string{"missing step A", "missing step B"})
	require.Contains(t, out, "base goal")
	require.Contains(t, out, "1. missing step A")
	require.Contains(t, out, "2. missing step B")
}

func TestBuildGapPromptNoOpWhenNoGaps(t *testing.T) {
	t.Parallel()

	out := BuildGapPrompt("base goal", nil)
	require.Equal(t, "base goal", out)
}

func TestBuildParseErrorPromptIncludesDiagnostic(t *testing.T) {
	t.Parallel()

	diag := ParseDiagnostic{Line: 3, Column: 5, Context: "bad json here"}
	out := BuildParseErrorPrompt("base goal", diag)
	require.Contains(t, out, "base goal")
	require.Contains(t, out, "line 3, column 5")
	require.Contains(t, out, "bad json here")
}
