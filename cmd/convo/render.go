package main

import (
	"fmt"
	"strings"

	"convo/pkg/board"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

// maxResultLines bounds how much of a tool result plain output shows.
const maxResultLines = 3

// formatEntry renders one transcript entry as plain text.
func formatEntry(e transcript.Entry, vocab board.Vocabulary) string {
	switch e.Role {
	case transcript.RoleUser:
		return "> " + e.Text()
	case transcript.RoleAssistant:
		return e.Text()
	case transcript.RoleToolInvocation:
		return "* " + vocab.Summarize(e.ToolName, e.Input)
	case transcript.RoleToolResult:
		prefix := "  -> "
		if e.Failed() {
			prefix = "  !> "
		}
		return prefix + clipLines(e.Text(), maxResultLines)
	}
	return e.Text()
}

// clipLines keeps the first n non-empty lines of s.
func clipLines(s string, n int) string {
	var kept []string
	more := 0
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(kept) == n {
			more++
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n     ")
	if more > 0 {
		out += fmt.Sprintf("\n     (+%d lines)", more)
	}
	return out
}

// formatPrompt renders a pending prompt as plain text.
func formatPrompt(p reducer.Prompt) string {
	var b strings.Builder
	switch p.Kind {
	case reducer.PromptQuestion:
		for i, q := range p.Questions {
			fmt.Fprintf(&b, "? %s\n", q.Question)
			for j, o := range q.Options {
				fmt.Fprintf(&b, "    %d. %s", j+1, o.Label)
				if o.Description != "" {
					fmt.Fprintf(&b, " - %s", o.Description)
				}
				b.WriteString("\n")
			}
			if q.MultiSelect {
				b.WriteString("    (several answers allowed, separate with commas)\n")
			}
			if i < len(p.Questions)-1 {
				b.WriteString("\n")
			}
		}
	case reducer.PromptPlan:
		if p.Plan == nil {
			break
		}
		title := p.Plan.Title
		if title == "" {
			title = "Plan"
		}
		fmt.Fprintf(&b, "Plan: %s\n", title)
		if p.Plan.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", p.Plan.Summary)
		}
		for i, s := range p.Plan.Steps {
			fmt.Fprintf(&b, "  %d. %s", i+1, s.Title)
			if s.Description != "" {
				fmt.Fprintf(&b, " - %s", s.Description)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatState is the one-line connection summary.
func formatState(st reducer.State) string {
	parts := []string{string(st.Connection), "agent=" + st.AgentID}
	if st.SessionID != "" {
		parts = append(parts, "session="+shortID(st.SessionID))
	}
	parts = append(parts, fmt.Sprintf("turns=%d", st.TurnCount))
	if st.TotalCostUSD != nil {
		parts = append(parts, fmt.Sprintf("cost=$%.4f", *st.TotalCostUSD))
	}
	if st.Compacting {
		parts = append(parts, "compacting")
	}
	if n := len(st.Queued); n > 0 {
		parts = append(parts, fmt.Sprintf("queued=%d", n))
	}
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}
