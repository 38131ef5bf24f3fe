package board_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"convo/pkg/board"
	"convo/pkg/protocol"
	"convo/pkg/transcript"
)

func invoke(id, name, input string) transcript.Entry {
	return transcript.Entry{ID: id, Role: transcript.RoleToolInvocation, ToolName: name, Input: json.RawMessage(input)}
}

func resultFor(invocationID, text string, failed bool) transcript.Entry {
	e := transcript.Entry{
		ID:           "r-" + invocationID,
		Role:         transcript.RoleToolResult,
		InvocationID: invocationID,
		Content:      protocol.TextContent(text),
	}
	if failed {
		e.IsError = &failed
	}
	return e
}

func todos(items ...string) string {
	list := make([]map[string]string, len(items))
	for i, it := range items {
		list[i] = map[string]string{"content": it, "status": "pending", "activeForm": it + "ing"}
	}
	b, _ := json.Marshal(map[string]any{"todos": list})
	return string(b)
}

func sampleTranscript() []transcript.Entry {
	return []transcript.Entry{
		{ID: "u1", Role: transcript.RoleUser, Content: protocol.TextContent("build it")},
		invoke("c1", "TodoWrite", todos("plan", "build", "test")),
		resultFor("c1", "ok", false),
		invoke("c2", "TaskCreate", `{"subject":"Write docs","description":"README"}`),
		resultFor("c2", "Task #7 created successfully", false),
		invoke("c3", "Task", `{"subagent_type":"researcher","description":"Survey libraries","prompt":"look around"}`),
		invoke("c4", "TaskCreate", `{"subject":"Compare options"}`),
		invoke("c5", "Bash", `{"command":"go test ./..."}`),
		resultFor("c5", "FAIL", true),
		resultFor("c3", "done", false),
		invoke("c6", "TaskUpdate", `{"taskId":"7","status":"in_progress"}`),
		invoke("c7", "TodoWrite", todos("ship")),
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	entries := sampleTranscript()
	first := board.Derive(entries)
	second := board.Derive(entries)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Derive not deterministic (-first +second):\n%s", diff)
	}

	// Deriving a prefix and then the whole transcript gives the same result
	// as deriving the whole transcript fresh.
	board.Derive(entries[:5])
	if diff := cmp.Diff(first, board.Derive(entries)); diff != "" {
		t.Errorf("prefix derivation leaked state (-want +got):\n%s", diff)
	}
}

func TestChecklistReplacesOnlyChecklistTasks(t *testing.T) {
	t.Parallel()

	entries := []transcript.Entry{
		invoke("c1", "TodoWrite", todos("a", "b", "c")),
		invoke("c2", "TaskCreate", `{"subject":"explicit"}`),
		invoke("c3", "TodoWrite", todos("d")),
	}
	b := board.Derive(entries)
	if len(b.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2: %+v", len(b.Tasks), b.Tasks)
	}
	var sources []board.Source
	var subjects []string
	for _, task := range b.Tasks {
		sources = append(sources, task.Source)
		subjects = append(subjects, task.Subject)
	}
	want := []board.Source{board.SourceCreate, board.SourceChecklist}
	if diff := cmp.Diff(want, sources); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"explicit", "d"}, subjects); diff != "" {
		t.Errorf("subjects (-want +got):\n%s", diff)
	}
}

func TestDeriveSample(t *testing.T) {
	t.Parallel()

	b := board.Derive(sampleTranscript())

	byID := make(map[string]board.Task)
	for _, task := range b.Tasks {
		byID[task.ID] = task
	}
	if len(b.Tasks) != 4 {
		t.Fatalf("tasks = %+v", b.Tasks)
	}

	docs, ok := byID["7"]
	if !ok {
		t.Fatalf("task 7 missing: %+v", b.Tasks)
	}
	if docs.Status != board.StatusInProgress || docs.Owner != board.MainAgent {
		t.Errorf("task 7 = %+v", docs)
	}

	del := byID["c3"]
	if del.Source != board.SourceDelegation || del.Status != board.StatusCompleted || del.Owner != board.MainAgent {
		t.Errorf("delegation card = %+v", del)
	}
	if del.Subject != "Survey libraries" {
		t.Errorf("delegation subject = %q", del.Subject)
	}

	var compare board.Task
	for _, task := range b.Tasks {
		if task.Subject == "Compare options" {
			compare = task
		}
	}
	if compare.Owner != "researcher" || compare.OwnerInvocationID != "c3" {
		t.Errorf("task created inside delegation = %+v", compare)
	}

	if len(b.OpenDelegations) != 0 {
		t.Errorf("OpenDelegations = %+v", b.OpenDelegations)
	}

	statuses := make(map[string]board.ActivityStatus)
	owners := make(map[string]string)
	for _, a := range b.Timeline {
		statuses[a.InvocationID] = a.Status
		owners[a.InvocationID] = a.Owner
	}
	if len(b.Timeline) != 7 {
		t.Errorf("len(Timeline) = %d, want 7", len(b.Timeline))
	}
	wantStatus := map[string]board.ActivityStatus{
		"c1": board.ActivityCompleted,
		"c3": board.ActivityCompleted,
		"c4": board.ActivityRunning,
		"c5": board.ActivityError,
		"c7": board.ActivityRunning,
	}
	for id, want := range wantStatus {
		if statuses[id] != want {
			t.Errorf("activity %s status = %s, want %s", id, statuses[id], want)
		}
	}
	if owners["c5"] != "researcher" || owners["c6"] != board.MainAgent {
		t.Errorf("owners = %v", owners)
	}
}

func TestPendingCreateKeepsNumberedTask(t *testing.T) {
	t.Parallel()

	b := board.Derive([]transcript.Entry{
		invoke("c1", "TaskCreate", `{"subject":"first"}`),
		resultFor("c1", "Task #2 created successfully", false),
		invoke("c2", "TaskCreate", `{"subject":"second"}`),
	})

	got := make(map[string]string)
	for _, task := range b.Tasks {
		got[task.ID] = task.Subject
	}
	want := map[string]string{"2": "first", "c2": "second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tasks by id (-want +got):\n%s", diff)
	}
}

func TestOpenDelegations(t *testing.T) {
	t.Parallel()

	b := board.Derive([]transcript.Entry{
		invoke("d1", "Task", `{"subagent_type":"coder","description":"outer"}`),
		invoke("d2", "Agent", `{"subagent_type":"tester","description":"inner"}`),
		invoke("t1", "TaskCreate", `{"subject":"nested work"}`),
		resultFor("d2", "ok", false),
		invoke("t2", "TaskCreate", `{"subject":"outer work"}`),
	})

	if len(b.OpenDelegations) != 1 || b.OpenDelegations[0].InvocationID != "d1" {
		t.Errorf("OpenDelegations = %+v", b.OpenDelegations)
	}
	owners := make(map[string]string)
	for _, task := range b.Tasks {
		owners[task.Subject] = task.Owner
	}
	want := map[string]string{
		"outer":       board.MainAgent,
		"inner":       "coder",
		"nested work": "tester",
		"outer work":  "coder",
	}
	if diff := cmp.Diff(want, owners); diff != "" {
		t.Errorf("owners (-want +got):\n%s", diff)
	}
}

func TestParentInvocationOverridesPosition(t *testing.T) {
	t.Parallel()

	child := invoke("t1", "TaskCreate", `{"subject":"child"}`)
	child.ParentInvocationID = "d1"
	b := board.Derive([]transcript.Entry{
		invoke("d1", "Task", `{"subagent_type":"alpha","description":"a"}`),
		invoke("d2", "Task", `{"subagent_type":"beta","description":"b"}`),
		child,
	})
	for _, task := range b.Tasks {
		if task.Subject == "child" && task.Owner != "alpha" {
			t.Errorf("child owner = %q, want alpha", task.Owner)
		}
	}
}

func TestMalformedInputDegrades(t *testing.T) {
	t.Parallel()

	b := board.Derive([]transcript.Entry{
		invoke("c1", "TaskCreate", `{not json`),
		invoke("c2", "Task", `[1,2`),
		invoke("c3", "TodoWrite", `{"todos":"garbage"}`),
		invoke("c4", "TaskUpdate", `{"status":"completed"}`),
		invoke("c5", "Bash", ``),
	})

	if len(b.Tasks) != 2 {
		t.Fatalf("tasks = %+v", b.Tasks)
	}
	if b.Tasks[0].Subject != board.UntitledTask {
		t.Errorf("create subject = %q", b.Tasks[0].Subject)
	}
	if b.Tasks[1].Subject != board.UntitledDelegation {
		t.Errorf("delegation subject = %q", b.Tasks[1].Subject)
	}
	if len(b.Timeline) != 5 {
		t.Errorf("len(Timeline) = %d, want 5", len(b.Timeline))
	}
}

func TestTaskUpdate(t *testing.T) {
	t.Parallel()

	b := board.Derive([]transcript.Entry{
		invoke("c1", "TaskCreate", `{"subject":"one"}`),
		invoke("c2", "TaskCreate", `{"subject":"two"}`),
		invoke("c3", "TaskUpdate", `{"taskId":"1","status":"completed","subject":"one!"}`),
		invoke("c4", "TaskUpdate", `{"taskId":2,"status":"deleted"}`),
		invoke("c5", "TaskUpdate", `{"taskId":"9","status":"in_progress"}`),
	})

	got := make(map[string]board.Task)
	for _, task := range b.Tasks {
		got[task.ID] = task
	}
	if len(got) != 2 {
		t.Fatalf("tasks = %+v", b.Tasks)
	}
	if got["1"].Status != board.StatusCompleted || got["1"].Subject != "one!" {
		t.Errorf("task 1 = %+v", got["1"])
	}
	if got["9"].Source != board.SourceUpdate || got["9"].Status != board.StatusInProgress {
		t.Errorf("task 9 = %+v", got["9"])
	}
	if c := b.Counts(); c[board.StatusCompleted] != 1 || c[board.StatusInProgress] != 1 {
		t.Errorf("Counts() = %v", c)
	}
}

func TestCustomVocabulary(t *testing.T) {
	t.Parallel()

	v := board.Vocabulary{Checklist: []string{"update_plan"}}.Merge(board.DefaultVocabulary())
	b := v.Derive([]transcript.Entry{
		invoke("c1", "update_plan", todos("x", "y")),
		invoke("c2", "TodoWrite", todos("ignored")),
	})
	if len(b.Tasks) != 2 {
		t.Errorf("tasks = %+v", b.Tasks)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	v := board.DefaultVocabulary()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Bash", `{"command":"ls -la\n  | wc"}`, "Bash: ls -la | wc"},
		{"Read", `{"file_path":"/tmp/a.go"}`, "Read: /tmp/a.go"},
		{"Grep", `{"pattern":"func main"}`, "Grep: func main"},
		{"WebFetch", `{"url":"https://example.com"}`, "WebFetch: https://example.com"},
		{"Task", `{"subagent_type":"explorer","description":"Find uses"}`, "explorer: Find uses"},
		{"TodoWrite", `{"todos":[{"content":"a","status":"completed"},{"content":"b"}]}`, "TodoWrite: 1/2 done"},
		{"TaskUpdate", `{"taskId":"3","status":"completed"}`, "TaskUpdate: #3 completed"},
		{"Custom", `{"k":1}`, `Custom: {"k":1}`},
		{"Empty", ``, "Empty()"},
	}
	for _, tt := range tests {
		if got := v.Summarize(tt.name, json.RawMessage(tt.input)); got != tt.want {
			t.Errorf("Summarize(%s, %s) = %q, want %q", tt.name, tt.input, got, tt.want)
		}
	}

	long := v.Summarize("Bash", json.RawMessage(`{"command":"`+strings.Repeat("é", 300)+`"}`))
	if n := len([]rune(long)); n != board.MaxSummaryRunes {
		t.Errorf("long summary has %d runes, want %d", n, board.MaxSummaryRunes)
	}
	if !strings.HasSuffix(long, "...") {
		t.Errorf("long summary not ellipsized: %q", long)
	}
}
