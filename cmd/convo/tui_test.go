package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"convo/pkg/board"
	"convo/pkg/chat"
	"convo/pkg/protocol"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

// fakeController records calls made by the UI.
type fakeController struct {
	sent      []string
	cancels   int
	compacts  int
	reconnect int
	answerID  string
	answers   map[string]string
	planID    string
	approved  bool
	feedback  string
	err       error
}

func (f *fakeController) SendText(text string) error {
	f.sent = append(f.sent, text)
	return f.err
}
func (f *fakeController) Cancel() error         { f.cancels++; return f.err }
func (f *fakeController) Compact() error        { f.compacts++; return f.err }
func (f *fakeController) ForceReconnect() error { f.reconnect++; return f.err }
func (f *fakeController) Answer(id string, answers map[string]string) error {
	f.answerID, f.answers = id, answers
	return f.err
}
func (f *fakeController) RespondPlan(id string, approved bool, feedback string) error {
	f.planID, f.approved, f.feedback = id, approved, feedback
	return f.err
}

func newTestModel(t *testing.T, ctl chatController) chatModel {
	t.Helper()
	m := newChatModel(ctl, nil, board.Vocabulary{}, "")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(chatModel)
}

// step feeds msg to the model and runs the resulting command once.
func step(t *testing.T, m chatModel, msg tea.Msg) (chatModel, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	var out tea.Msg
	if cmd != nil {
		out = cmd()
	}
	return next.(chatModel), out
}

// typeLine enters text and presses enter.
func typeLine(t *testing.T, m chatModel, text string) (chatModel, tea.Msg) {
	t.Helper()
	m.input.SetValue(text)
	return step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestChatModelSendsTurns(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{}
	m := newTestModel(t, ctl)

	m, _ = typeLine(t, m, "  hello agent  ")
	m, _ = typeLine(t, m, "   ")
	m, _ = typeLine(t, m, "/compact")
	m, _ = typeLine(t, m, "/cancel")
	_, _ = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})

	if diff := cmp.Diff([]string{"hello agent"}, ctl.sent); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
	if ctl.compacts != 1 || ctl.cancels != 1 || ctl.reconnect != 1 {
		t.Errorf("compacts=%d cancels=%d reconnects=%d", ctl.compacts, ctl.cancels, ctl.reconnect)
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
}

func TestChatModelShowsErrors(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{err: errors.New("chat client stopped")}
	m := newTestModel(t, ctl)

	m, msg := typeLine(t, m, "hi")
	m, _ = step(t, m, msg)
	if !strings.Contains(m.View(), "error: chat client stopped") {
		t.Errorf("View() missing error:\n%s", m.View())
	}
}

func TestChatModelAnswersQuestions(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{}
	m := newTestModel(t, ctl)

	prompt := reducer.Prompt{
		Kind: reducer.PromptQuestion,
		ID:   "q1",
		Questions: []reducer.Question{
			{Question: "Language?", Options: []reducer.Option{{Label: "Go"}, {Label: "Rust"}}},
			{Question: "Extras?", Options: []reducer.Option{{Label: "lint"}, {Label: "fmt"}}, MultiSelect: true},
		},
	}
	m, _ = step(t, m, updateMsg(chat.Update{
		State:   reducer.State{Connection: reducer.Connected, Prompt: &prompt},
		Effects: []reducer.Effect{reducer.ShowModal{Prompt: prompt}},
	}))
	if !strings.Contains(m.View(), "Language?") {
		t.Fatalf("prompt not shown:\n%s", m.View())
	}

	m, msg := typeLine(t, m, "1")
	if msg != nil || ctl.answerID != "" {
		t.Fatalf("answered before the last question: %v", msg)
	}
	if !strings.Contains(m.View(), "Question 2 of 2") {
		t.Errorf("second question not current:\n%s", m.View())
	}
	_, _ = typeLine(t, m, "1, 2, docs")

	want := map[string]string{"Language?": "Go", "Extras?": "lint, fmt, docs"}
	if ctl.answerID != "q1" {
		t.Errorf("answer id = %q", ctl.answerID)
	}
	if diff := cmp.Diff(want, ctl.answers); diff != "" {
		t.Errorf("answers (-want +got):\n%s", diff)
	}
	if len(ctl.sent) != 0 {
		t.Errorf("prompt answer sent as chat: %v", ctl.sent)
	}
}

func TestChatModelRespondsToPlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		approved bool
		feedback string
	}{
		{"y", true, ""},
		{"no", false, ""},
		{"split step 2", false, "split step 2"},
	}
	for _, tt := range tests {
		ctl := &fakeController{}
		m := newTestModel(t, ctl)
		prompt := reducer.Prompt{Kind: reducer.PromptPlan, ID: "p1", Plan: &reducer.Plan{Title: "Ship"}}
		m, _ = step(t, m, updateMsg(chat.Update{
			State:   reducer.State{Prompt: &prompt},
			Effects: []reducer.Effect{reducer.ShowModal{Prompt: prompt}},
		}))
		_, _ = typeLine(t, m, tt.input)
		if ctl.planID != "p1" || ctl.approved != tt.approved || ctl.feedback != tt.feedback {
			t.Errorf("%q: plan response = %s/%v/%q", tt.input, ctl.planID, ctl.approved, ctl.feedback)
		}
	}
}

func TestChatModelPromptClosed(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{}
	m := newTestModel(t, ctl)
	prompt := reducer.Prompt{Kind: reducer.PromptPlan, ID: "p1", Plan: &reducer.Plan{}}
	m, _ = step(t, m, updateMsg(chat.Update{
		State:   reducer.State{Prompt: &prompt},
		Effects: []reducer.Effect{reducer.ShowModal{Prompt: prompt}},
	}))
	m, _ = step(t, m, updateMsg(chat.Update{
		Effects: []reducer.Effect{reducer.CloseModal{PromptID: "p1", Reason: reducer.CloseTimeout}},
	}))
	if !strings.Contains(m.View(), "Prompt timed out") {
		t.Errorf("timeout notice missing:\n%s", m.View())
	}

	_, _ = typeLine(t, m, "y")
	if ctl.planID != "" {
		t.Error("closed prompt was answered")
	}
	if diff := cmp.Diff([]string{"y"}, ctl.sent); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
}

func TestChatModelRendersTranscriptAndBoard(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, &fakeController{})
	entries := []transcript.Entry{
		{ID: "u1", Role: transcript.RoleUser, Content: protocol.TextContent("list files")},
		{ID: "c1", Role: transcript.RoleToolInvocation, ToolName: "Bash", Input: json.RawMessage(`{"command":"ls"}`)},
		{ID: "r1", Role: transcript.RoleToolResult, InvocationID: "c1", Content: protocol.TextContent("main.go")},
		{ID: "a1", Role: transcript.RoleAssistant, Content: protocol.TextContent("One file."), Streaming: true},
	}
	m, _ = step(t, m, updateMsg(chat.Update{
		State:      reducer.State{Connection: reducer.Connected, AgentID: "coder", TurnActive: true},
		Transcript: entries,
		Board:      board.Derive(entries),
	}))

	view := m.View()
	for _, want := range []string{"connected", "agent=coder", "> list files", "Bash: ls", "main.go", "One file. ▍"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Pending (") {
		t.Error("board shown before toggle")
	}

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if !strings.Contains(m.View(), "Pending (0)") {
		t.Errorf("board not shown after tab:\n%s", m.View())
	}
}

func TestResolveAnswer(t *testing.T) {
	t.Parallel()

	q := reducer.Question{Options: []reducer.Option{{Label: "A"}, {Label: "B"}}}
	tests := []struct {
		multi bool
		in    string
		want  string
	}{
		{false, "2", "B"},
		{false, "7", "7"},
		{false, "custom, answer", "custom, answer"},
		{true, "1,2", "A, B"},
		{true, " , 1 ,", "A"},
	}
	for _, tt := range tests {
		q.MultiSelect = tt.multi
		if got := resolveAnswer(q, tt.in); got != tt.want {
			t.Errorf("resolveAnswer(multi=%v, %q) = %q, want %q", tt.multi, tt.in, got, tt.want)
		}
	}
}
