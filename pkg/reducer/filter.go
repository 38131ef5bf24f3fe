package reducer

import (
	"regexp"
	"strings"
)

// toolReferencePattern matches the tool-call markup the backend splices into
// streamed text:
//
//	[Tool: <name> (ID: <id>)] Input: <value>
//
// where <value> is a JSON object or array (one level of nesting), a quoted
// string, or a bare token.
var toolReferencePattern = regexp.MustCompile(
	`\[Tool: [^\]]+? \(ID: [^)]+\)\] Input: ` +
		`(?:\{(?:[^{}]|\{[^{}]*\})*\}` +
		`|\[(?:[^\[\]]|\[[^\[\]]*\])*\]` +
		`|"(?:[^"\\]|\\.)*"` +
		`|\S+)`)

// StripToolReferences removes tool-call markup from a text delta, keeping
// the surrounding text (including its whitespace) untouched.
func StripToolReferences(s string) string {
	if !strings.Contains(s, "[Tool: ") {
		return s
	}
	return toolReferencePattern.ReplaceAllString(s, "")
}
