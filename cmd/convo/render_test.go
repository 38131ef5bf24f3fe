package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"convo/pkg/board"
	"convo/pkg/chat"
	"convo/pkg/protocol"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	failed := true
	vocab := board.DefaultVocabulary()
	tests := []struct {
		name  string
		entry transcript.Entry
		want  string
	}{
		{"user", transcript.Entry{Role: transcript.RoleUser, Content: protocol.TextContent("hi")}, "> hi"},
		{"assistant", transcript.Entry{Role: transcript.RoleAssistant, Content: protocol.TextContent("hello")}, "hello"},
		{"invocation", transcript.Entry{Role: transcript.RoleToolInvocation, ToolName: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}, "* Bash: ls"},
		{"result", transcript.Entry{Role: transcript.RoleToolResult, Content: protocol.TextContent("a\n\nb")}, "  -> a\n     b"},
		{"failed result", transcript.Entry{Role: transcript.RoleToolResult, Content: protocol.TextContent("boom"), IsError: &failed}, "  !> boom"},
	}
	for _, tt := range tests {
		if got := formatEntry(tt.entry, vocab); got != tt.want {
			t.Errorf("%s: formatEntry() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestClipLines(t *testing.T) {
	t.Parallel()

	got := clipLines("1\n2\n3\n4\n5", 3)
	want := "1\n     2\n     3\n     (+2 lines)"
	if got != want {
		t.Errorf("clipLines() = %q, want %q", got, want)
	}
}

func TestFormatPrompt(t *testing.T) {
	t.Parallel()

	q := formatPrompt(reducer.Prompt{
		Kind: reducer.PromptQuestion,
		ID:   "q1",
		Questions: []reducer.Question{{
			Question:    "Which database?",
			Options:     []reducer.Option{{Label: "Postgres", Description: "relational"}, {Label: "Redis"}},
			MultiSelect: true,
		}},
	})
	for _, want := range []string{"? Which database?", "1. Postgres - relational", "2. Redis", "several answers"} {
		if !strings.Contains(q, want) {
			t.Errorf("question prompt missing %q:\n%s", want, q)
		}
	}

	p := formatPrompt(reducer.Prompt{
		Kind: reducer.PromptPlan,
		ID:   "p1",
		Plan: &reducer.Plan{Summary: "ship it", Steps: []reducer.PlanStep{{Title: "build"}, {Title: "deploy", Description: "to prod"}}},
	})
	for _, want := range []string{"Plan: Plan", "ship it", "1. build", "2. deploy - to prod"} {
		if !strings.Contains(p, want) {
			t.Errorf("plan prompt missing %q:\n%s", want, p)
		}
	}
}

func TestFormatState(t *testing.T) {
	t.Parallel()

	cost := 0.5
	got := formatState(reducer.State{
		Connection:   reducer.Connected,
		AgentID:      "coder",
		SessionID:    "0123456789abcdef",
		TurnCount:    3,
		TotalCostUSD: &cost,
		Queued:       []reducer.Outgoing{{ID: "x"}},
	})
	want := "connected  agent=coder  session=01234567  turns=3  cost=$0.5000  queued=1"
	if got != want {
		t.Errorf("formatState() = %q, want %q", got, want)
	}
}

func TestTailPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := newTailPrinter(&out, board.Vocabulary{})

	st := reducer.State{Connection: reducer.Connected, AgentID: "a", TurnActive: true}
	p.Update(chat.Update{
		State: st,
		Transcript: []transcript.Entry{
			{ID: "u1", Role: transcript.RoleUser, Content: protocol.TextContent("go")},
			{ID: "a1", Role: transcript.RoleAssistant, Content: protocol.TextContent("work"), Streaming: true},
		},
	})
	if strings.Contains(out.String(), "work") {
		t.Errorf("streaming entry printed early:\n%s", out.String())
	}

	st.TurnActive = false
	st.TurnCount = 1
	p.Update(chat.Update{
		State: st,
		Transcript: []transcript.Entry{
			{ID: "u1", Role: transcript.RoleUser, Content: protocol.TextContent("go")},
			{ID: "a1", Role: transcript.RoleAssistant, Content: protocol.TextContent("working done")},
		},
		Effects: []reducer.Effect{reducer.Notice{Level: reducer.NoticeInfo, Text: "Cancelled"}},
	})

	text := out.String()
	if strings.Count(text, "> go") != 1 {
		t.Errorf("user entry printed %d times:\n%s", strings.Count(text, "> go"), text)
	}
	for _, want := range []string{"working done", "[info] Cancelled", "turns=1"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	select {
	case <-p.turnEnded:
	default:
		t.Error("turn end not signalled")
	}

	p.Update(chat.Update{State: st, Effects: []reducer.Effect{reducer.Notice{Level: reducer.NoticeError, Text: "denied", Blocking: true}}})
	select {
	case err := <-p.stopped:
		if err == nil || err.Error() != "denied" {
			t.Errorf("stopped = %v", err)
		}
	default:
		t.Error("blocking notice did not stop the printer")
	}
}
