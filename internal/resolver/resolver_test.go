package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTextualSubstitution(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"prompt": "summarise <Result from Task 1> and also <Results of Task 2>",
		"other":  42,
	}
	results := map[string]any{
		"1": "first result text",
		"2": map[string]any{"k": "v"},
	}

	out := Resolve("inference", params, results)
	require.Equal(t, "summarise first result text and also {\"k\":\"v\"}", out["prompt"])
	require.Equal(t, 42, out["other"])
}

func TestResolveMissingDependencyLeftUntouched(t *testing.T) {
	t.Parallel()

	params := map[string]any{"prompt": "use <Result from Task 9>"}
	out := Resolve("inference", params, map[string]any{})
	require.Equal(t, "use <Result from Task 9>", out["prompt"])
}

func TestResolveFetchURLsFromObjectList(t *testing.T) {
	t.Parallel()

	params := map[string]any{"urls": "<Results from Task 1>"}
	results := map[string]any{
		"1": []any{
			map[string]any{"url": "https://a.example"},
			map[string]any{"url": "https://b.example"},
		},
	}
	out := Resolve(FetchURLsToolName, params, results)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, out["urls"])
}

func TestResolveFetchURLsFromStringExtraction(t *testing.T) {
	t.Parallel()

	params := map[string]any{"urls": "<Result from Task 1>"}
	results := map[string]any{"1": "Visit https://a.example and b.example/page for more"}

	out := Resolve(FetchURLsToolName, params, results)
	require.Equal(t, []string{"https://a.example", "https://b.example/page"}, out["urls"])
}

func TestResolveFetchURLsConcatenatesMultiplePlaceholders(t *testing.T) {
	t.Parallel()

	params := map[string]any{"urls": "<Result from Task 1> <Result from Task 2>"}
	results := map[string]any{
		"1": []any{map[string]any{"url": "https://a.example"}},
		"2": []any{map[string]any{"url": "https://b.example"}},
	}
	out := Resolve(FetchURLsToolName, params, results)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, out["urls"])
}

func TestResolveEmptyResultsIsNoOp(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"a": "plain text, no placeholders",
		"b": "<Result from Task 1>",
		"c": 7,
	}
	out := Resolve("inference", params, map[string]any{})
	require.Equal(t, params, out)
}

func TestResolveIdempotentGivenSameResults(t *testing.T) {
	t.Parallel()

	params := map[string]any{"prompt": "see <Result from Task 1>"}
	results := map[string]any{"1": "stable value"}

	first := Resolve("inference", params, results)
	second := Resolve("inference", first, results)

	// Once substituted, the placeholder text is gone, so resolving twice
	// with the same results produces the same output as resolving once.
	require.Equal(t, first, second)
}

func TestNormalizeURLPrependsScheme(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/page", NormalizeURL("example.com/page"))
	require.Equal(t, "http://example.com", NormalizeURL("http://example.com"))
	require.Equal(t, "https://example.com", NormalizeURL("https://example.com"))
}

func TestResolveNonStringValuesPassThrough(t *testing.T) {
	t.Parallel()

	params := map[string]any{"count": 3, "flag": true, "nested": map[string]any{"x": 1}}
	out := Resolve("inference", params, map[string]any{"1": "x"})
	require.Equal(t, params, out)
}

func TestMissingReferencesReportsAbsentTaskIDs(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"query": "compare <Result from Task 1> with <Results of Task 3>",
		"count": 2,
	}
	results := map[string]any{"1": "known"}

	missing := MissingReferences(params, results)
	require.Equal(t, []string{"3"}, missing)
}

func TestMissingReferencesEmptyWhenAllResolvable(t *testing.T) {
	t.Parallel()

	params := map[string]any{"prompt": "use <Result from Task 1>"}
	results := map[string]any{"1": "known"}

	require.Empty(t, MissingReferences(params, results))
	require.Empty(t, MissingReferences(map[string]any{"prompt": "no placeholders"}, map[string]any{}))
}

func TestMissingReferencesDeduplicates(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"a": "<Result from Task 9> then <Results of Task 9>",
		"b": "<Result from Task 9>",
	}

	require.Equal(t, []string{"9"}, MissingReferences(params, map[string]any{}))
}
