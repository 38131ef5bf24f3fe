package board

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxSummaryRunes bounds an activity summary.
const MaxSummaryRunes = 120

// summaryKeys names the input field that best describes a call to each
// well-known tool.
var summaryKeys = map[string][]string{
	"Bash":         {"command"},
	"Read":         {"file_path", "path"},
	"Write":        {"file_path", "path"},
	"Edit":         {"file_path", "path"},
	"MultiEdit":    {"file_path", "path"},
	"NotebookEdit": {"notebook_path"},
	"Grep":         {"pattern"},
	"Glob":         {"pattern"},
	"WebFetch":     {"url"},
	"WebSearch":    {"query"},
	"Skill":        {"skill", "name"},
}

// Summarize renders a one-line description of a call to the named tool.
func (v Vocabulary) Summarize(name string, raw json.RawMessage) string {
	return summarize(name, v.Kind(name), parseInput(raw))
}

func summarize(name string, kind Kind, in input) string {
	var s string
	switch kind {
	case KindDelegation:
		agent := firstNonEmpty(in.str("subagent_type", "agent", "agentType"), name)
		s = agent + ": " + firstNonEmpty(in.str("description"), UntitledDelegation)
	case KindCreate:
		s = name + ": " + firstNonEmpty(in.str("subject", "title", "content"), UntitledTask)
	case KindUpdate:
		s = name + ": #" + in.str("taskId", "id")
		if st := in.str("status"); st != "" {
			s += " " + st
		}
	case KindChecklist:
		items, ok := in.todos()
		if !ok {
			s = name + ": invalid list"
			break
		}
		done := 0
		for _, it := range items {
			if parseStatus(it.Status, StatusPending) == StatusCompleted {
				done++
			}
		}
		s = fmt.Sprintf("%s: %d/%d done", name, done, len(items))
	default:
		s = summarizeOther(name, in)
	}
	return truncate(oneLine(s), MaxSummaryRunes)
}

func summarizeOther(name string, in input) string {
	if keys, ok := summaryKeys[name]; ok {
		if v := in.str(keys...); v != "" {
			return name + ": " + v
		}
	}
	if len(in) == 0 {
		return name + "()"
	}
	b, err := json.Marshal(map[string]any(in))
	if err != nil {
		return name + "()"
	}
	return name + ": " + string(b)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
