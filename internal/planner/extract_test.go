package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlockFindsFencedBlock(t *testing.T) {
	t.Parallel()

	content := "here is the plan:\n```json\n{\"a\":1}\n```\nthanks"
	got, err := ExtractJSONBlock(content)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, got)
}

func TestExtractJSONBlockMissingReturnsErr(t *testing.T) {
	t.Parallel()

	_, err := ExtractJSONBlock("no code fence here")
	require.ErrorIs(t, err, ErrNoFencedJSONBlock)
}

func TestExtractJSONBlockTrimsWhitespace(t *testing.T) {
	t.Parallel()

	content := "```json\n\n  { \"a\": 1 }  \n\n```"
	got, err := ExtractJSONBlock(content)
	require.NoError(t, err)
	require.Equal(t, `{ "a": 1 }`, got)
}

func TestDiagnoseParseErrorLocatesLineAndColumn(t *testing.T) {
	t.Parallel()

	text := "{\n  \"a\": 1,\n  \"b\": ,\n}"
	var v any
	err := json.Unmarshal([]byte(text), &v)
	require.Error(t, err)

	diag := DiagnoseParseError(text, err)
	require.Equal(t, 3, diag.Line)
	require.NotEmpty(t, diag.Context)
	require.Contains(t, diag.String(), "line 3")
}

func TestContextWindowCentersOnLine(t *testing.T) {
	t.Parallel()

	text := "1\n2\n3\n4\n5\n6\n7\n8\n9"
	window := contextWindow(text, 5, 5)
	require.Equal(t, "3\n4\n5\n6\n7", window)
}

func TestContextWindowClampsAtStart(t *testing.T) {
	t.Parallel()

	text := "1\n2\n3"
	window := contextWindow(text, 1, 5)
	require.Equal(t, "1\n2\n3", window)
}
