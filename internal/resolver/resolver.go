// Package resolver implements the Dependency Resolver: a tiny, exact-behavior
// DSL that expands `<Result from Task N>` / `<Results of Task N>`
// placeholders inside a SubTask's params, given a map of prior task results.
//
// This is deliberately a hand-rolled scanner, not a general-purpose
// templating engine — the placeholder grammar is narrow and its behavior
// (especially the fetchURLs flattening special case) must be exact.
package resolver

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// FetchURLsToolName is the tool name that triggers URL-list flattening
// instead of textual substitution.
const FetchURLsToolName = "fetchURLs"

var placeholderPattern = regexp.MustCompile(`(?i)<results?\s+(?:from|of)\s+task\s+([A-Za-z0-9_-]+)>`)

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://[^\s<>"']+|(?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s<>"']*)?)`)

// Resolve expands placeholders found in params's string values, using
// toolName to decide between textual substitution and fetchURLs-style URL
// flattening. results maps task id to that task's prior result. Resolve is
// pure: the same (params, results, toolName) always produces the same
// output, and an empty results map is a no-op.
func Resolve(toolName string, params map[string]any, results map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(toolName, v, results)
	}
	return out
}

func resolveValue(toolName string, v any, results map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if !placeholderPattern.MatchString(s) {
		return s
	}
	if toolName == FetchURLsToolName {
		// A value referencing any task absent from results is left
		// untouched, as on the textual path.
		if len(MissingReferences(map[string]any{"": s}, results)) > 0 {
			return s
		}
		return resolveURLList(s, results)
	}
	return resolveTextual(s, results)
}

// resolveTextual replaces every placeholder occurrence with the stringified
// referenced result, preserving surrounding text. A placeholder whose task
// id is absent from results is left untouched.
func resolveTextual(s string, results map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		taskID := submatch(match)
		result, ok := results[taskID]
		if !ok {
			return match
		}
		return stringify(result)
	})
}

// resolveURLList flattens every placeholder in s into a single ordered list
// of URLs, concatenating across multiple placeholders in the same value.
func resolveURLList(s string, results map[string]any) []string {
	var urls []string
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	for _, m := range matches {
		taskID := m[1]
		result, ok := results[taskID]
		if !ok {
			continue
		}
		urls = append(urls, extractURLs(result)...)
	}
	return urls
}

func extractURLs(result any) []string {
	switch v := result.(type) {
	case string:
		matches := urlPattern.FindAllString(v, -1)
		normalized := make([]string, len(matches))
		for i, m := range matches {
			normalized[i] = NormalizeURL(m)
		}
		return normalized
	case []any:
		var urls []string
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				if u, ok := obj["url"].(string); ok {
					urls = append(urls, u)
				}
			}
		}
		return urls
	default:
		return nil
	}
}

func submatch(match string) string {
	m := placeholderPattern.FindStringSubmatch(match)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// stringify renders a prior result as text for substitution: strings pass
// through verbatim, everything else is JSON-encoded.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(err.Error())
	}
	return string(data)
}

// MissingReferences returns, sorted, the task ids that params's string
// values reference via placeholders but that are absent from results.
// Callers use this to fail a task as blocked before
// dispatching it with dangling references: both the textual and the
// fetchURLs path leave such a placeholder in place as literal text.
func MissingReferences(params map[string]any, results map[string]any) []string {
	seen := make(map[string]struct{})
	var missing []string
	for _, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			taskID := m[1]
			if _, ok := results[taskID]; ok {
				continue
			}
			if _, dup := seen[taskID]; dup {
				continue
			}
			seen[taskID] = struct{}{}
			missing = append(missing, taskID)
		}
	}
	sort.Strings(missing)
	return missing
}

// NormalizeURL prepends https:// to a bare host if the match has no scheme,
// matching the "bare hosts are prepended with https://" grammar rule.
func NormalizeURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}
