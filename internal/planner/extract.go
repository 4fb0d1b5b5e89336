package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedJSONPattern matches a Markdown code fence tagged "json", capturing
// its body. The planner's prompt asks the model for exactly this shape; a
// response missing it is treated as a parse failure for the attempt.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)```")

// ErrNoFencedJSONBlock is returned by ExtractJSONBlock when the response
// contains no ```json fenced code block.
var ErrNoFencedJSONBlock = fmt.Errorf("planner: no fenced json code block found in response")

// ExtractJSONBlock is the strict extractor: it requires a fenced code block
// tagged "json" and returns its trimmed body verbatim, or
// ErrNoFencedJSONBlock if none is present.
func ExtractJSONBlock(content string) (string, error) {
	m := fencedJSONPattern.FindStringSubmatch(content)
	if m == nil {
		return "", ErrNoFencedJSONBlock
	}
	return strings.TrimSpace(m[1]), nil
}

// ParseDiagnostic is a human-readable location for a JSON parse failure: the
// line and column of the error and a small context window around it.
type ParseDiagnostic struct {
	Line    int
	Column  int
	Context string
}

// DiagnoseParseError is the diagnostic extractor: given the text that
// failed to parse and the *json.SyntaxError (or *json.UnmarshalTypeError)
// encountered, it locates the offending line/column and renders a 5-line
// context window centered on it, for inclusion in the planner's retry
// prompt.
func DiagnoseParseError(text string, err error) ParseDiagnostic {
	offset := errorOffset(err)
	line, col := lineCol(text, offset)
	return ParseDiagnostic{
		Line:    line,
		Column:  col,
		Context: contextWindow(text, line, 5),
	}
}

func errorOffset(err error) int64 {
	switch e := err.(type) {
	case *json.SyntaxError:
		return e.Offset
	case *json.UnmarshalTypeError:
		return e.Offset
	default:
		return 0
	}
}

// lineCol converts a byte offset into a 1-indexed (line, column) pair.
func lineCol(text string, offset int64) (line, col int) {
	line = 1
	col = 1
	for i, r := range text {
		if int64(i) >= offset {
			break
		}
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// contextWindow returns up to windowSize lines of text centered on line
// (1-indexed), joined with newlines.
func contextWindow(text string, line, windowSize int) string {
	lines := strings.Split(text, "\n")
	half := windowSize / 2
	start := line - 1 - half
	if start < 0 {
		start = 0
	}
	end := start + windowSize
	if end > len(lines) {
		end = len(lines)
		start = end - windowSize
		if start < 0 {
			start = 0
		}
	}
	return strings.Join(lines[start:end], "\n")
}

// String renders a ParseDiagnostic into the gap-list style message
// fed back into the refinement prompt.
func (d ParseDiagnostic) String() string {
	return fmt.Sprintf("parse error at line %d, column %d:\n%s", d.Line, d.Column, d.Context)
}
