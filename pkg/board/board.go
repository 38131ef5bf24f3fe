// Package board reconstructs a task board and an activity timeline from a
// transcript.
//
// The board is never patched incrementally. Derive replays the whole
// transcript on every call, so the same transcript prefix always yields
// the same board.
package board

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"convo/pkg/transcript"
)

// MainAgent owns work done outside any delegation.
const MainAgent = "main"

// Default subjects used when tool input cannot be parsed.
const (
	UntitledTask       = "Untitled task"
	UntitledDelegation = "Delegated task"
)

// Status is a task's progress.
type Status string

// Task statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Source records which kind of tool call produced a task.
type Source string

// Task sources.
const (
	SourceCreate     Source = "explicit-create"
	SourceUpdate     Source = "explicit-update"
	SourceChecklist  Source = "checklist-snapshot"
	SourceDelegation Source = "delegation"
)

// Task is one card on the board.
type Task struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	// ActiveForm is the present-continuous label shown while in progress.
	ActiveForm string `json:"activeForm,omitempty"`
	Owner      string `json:"owner"`
	// OwnerInvocationID is the delegation that owns the task, empty for
	// the main agent.
	OwnerInvocationID string `json:"ownerInvocationId,omitempty"`
	Source            Source `json:"source"`
	InvocationID      string `json:"invocationId"`
}

// ActivityStatus is the state of one tool invocation.
type ActivityStatus string

// Activity statuses.
const (
	ActivityRunning   ActivityStatus = "running"
	ActivityCompleted ActivityStatus = "completed"
	ActivityError     ActivityStatus = "error"
)

// Activity is one timeline row per tool invocation.
type Activity struct {
	InvocationID string         `json:"invocationId"`
	Tool         string         `json:"tool"`
	Summary      string         `json:"summary"`
	Owner        string         `json:"owner"`
	Status       ActivityStatus `json:"status"`
}

// Delegation is a sub-agent invocation.
type Delegation struct {
	InvocationID string `json:"invocationId"`
	Agent        string `json:"agent"`
	Description  string `json:"description,omitempty"`
}

// Board is the derived view.
type Board struct {
	Tasks           []Task       `json:"tasks"`
	Timeline        []Activity   `json:"timeline"`
	OpenDelegations []Delegation `json:"openDelegations"`
}

// Counts returns the number of tasks per status.
func (b Board) Counts() map[Status]int {
	out := make(map[Status]int, 3)
	for _, t := range b.Tasks {
		out[t.Status]++
	}
	return out
}

// Kind classifies a tool name for board purposes.
type Kind int

// Tool kinds.
const (
	KindOther Kind = iota
	KindCreate
	KindUpdate
	KindChecklist
	KindDelegation
)

// Vocabulary lists the tool names of each kind.
type Vocabulary struct {
	Create     []string `json:"create" yaml:"create" toml:"create"`
	Update     []string `json:"update" yaml:"update" toml:"update"`
	Checklist  []string `json:"checklist" yaml:"checklist" toml:"checklist"`
	Delegation []string `json:"delegation" yaml:"delegation" toml:"delegation"`
}

// DefaultVocabulary returns the tool names the agent backend uses.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Create:     []string{"TaskCreate"},
		Update:     []string{"TaskUpdate"},
		Checklist:  []string{"TodoWrite"},
		Delegation: []string{"Task", "Agent"},
	}
}

// Merge returns v with every empty list taken from base.
func (v Vocabulary) Merge(base Vocabulary) Vocabulary {
	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	return Vocabulary{
		Create:     pick(v.Create, base.Create),
		Update:     pick(v.Update, base.Update),
		Checklist:  pick(v.Checklist, base.Checklist),
		Delegation: pick(v.Delegation, base.Delegation),
	}
}

// Kind classifies name.
func (v Vocabulary) Kind(name string) Kind {
	switch {
	case slices.Contains(v.Create, name):
		return KindCreate
	case slices.Contains(v.Update, name):
		return KindUpdate
	case slices.Contains(v.Checklist, name):
		return KindChecklist
	case slices.Contains(v.Delegation, name):
		return KindDelegation
	}
	return KindOther
}

// Derive builds the board from entries using the default vocabulary.
func Derive(entries []transcript.Entry) Board {
	return DefaultVocabulary().Derive(entries)
}

// result is the first tool result seen for an invocation.
type result struct {
	index  int
	failed bool
	text   string
}

type delegation struct {
	Delegation
	start int
}

// deriver holds the per-call scan state. A new one is built for every
// Derive call.
type deriver struct {
	vocab       Vocabulary
	entries     []transcript.Entry
	results     map[string]result
	delegations []delegation
	byID        map[string]int

	tasks     map[string]*Task
	order     []string
	timeline  []Activity
	checklist int
}

// Derive builds the board from entries.
func (v Vocabulary) Derive(entries []transcript.Entry) Board {
	d := &deriver{
		vocab:   v,
		entries: entries,
		results: make(map[string]result),
		byID:    make(map[string]int),
		tasks:   make(map[string]*Task),
	}
	d.scanResults()
	d.scanInvocations()
	return d.board()
}

// scanResults records, for every invocation, where its result appears and
// lists the delegations in start order.
func (d *deriver) scanResults() {
	for i, e := range d.entries {
		switch e.Role {
		case transcript.RoleToolResult:
			if _, seen := d.results[e.InvocationID]; !seen {
				d.results[e.InvocationID] = result{index: i, failed: e.Failed(), text: e.Text()}
			}
		case transcript.RoleToolInvocation:
			if d.vocab.Kind(e.ToolName) != KindDelegation {
				continue
			}
			in := parseInput(e.Input)
			d.byID[e.ID] = len(d.delegations)
			d.delegations = append(d.delegations, delegation{
				Delegation: Delegation{
					InvocationID: e.ID,
					Agent:        firstNonEmpty(in.str("subagent_type", "agent", "agentType"), "subagent"),
					Description:  in.str("description"),
				},
				start: i,
			})
		}
	}
}

// openAt reports whether dl is still running at position i.
func (d *deriver) openAt(dl delegation, i int) bool {
	if dl.start >= i {
		return false
	}
	r, done := d.results[dl.InvocationID]
	return !done || r.index > i
}

// ownerAt returns the agent that owns work at position i. An explicit
// parent invocation wins over the positional rule.
func (d *deriver) ownerAt(i int, e transcript.Entry) (string, string) {
	if e.ParentInvocationID != "" {
		if k, ok := d.byID[e.ParentInvocationID]; ok {
			dl := d.delegations[k]
			return dl.Agent, dl.InvocationID
		}
	}
	for k := len(d.delegations) - 1; k >= 0; k-- {
		if dl := d.delegations[k]; d.openAt(dl, i) {
			return dl.Agent, dl.InvocationID
		}
	}
	return MainAgent, ""
}

func (d *deriver) scanInvocations() {
	for i, e := range d.entries {
		if e.Role != transcript.RoleToolInvocation {
			continue
		}
		owner, ownerID := d.ownerAt(i, e)
		in := parseInput(e.Input)
		kind := d.vocab.Kind(e.ToolName)

		switch kind {
		case KindCreate:
			d.create(e, in, owner, ownerID)
		case KindUpdate:
			d.update(e, in, owner, ownerID)
		case KindChecklist:
			d.replaceChecklist(e, in, owner, ownerID)
		case KindDelegation:
			d.delegate(e, in, owner, ownerID)
		}

		d.timeline = append(d.timeline, Activity{
			InvocationID: e.ID,
			Tool:         e.ToolName,
			Summary:      summarize(e.ToolName, kind, in),
			Owner:        owner,
			Status:       d.activityStatus(e.ID),
		})
	}
}

func (d *deriver) activityStatus(id string) ActivityStatus {
	r, ok := d.results[id]
	switch {
	case !ok:
		return ActivityRunning
	case r.failed:
		return ActivityError
	}
	return ActivityCompleted
}

var taskNumberPattern = regexp.MustCompile(`#(\d+)`)

// createdID picks the id of an explicitly created task: an id in the
// input, then a "#N" in the tool result, then the invocation id. The last
// one cannot collide with a server-assigned number.
func (d *deriver) createdID(e transcript.Entry, in input) string {
	if id := in.str("taskId", "id"); id != "" {
		return id
	}
	if r, ok := d.results[e.ID]; ok && !r.failed {
		if m := taskNumberPattern.FindStringSubmatch(r.text); m != nil {
			return m[1]
		}
	}
	return e.ID
}

func (d *deriver) create(e transcript.Entry, in input, owner, ownerID string) {
	t := &Task{
		ID:                d.createdID(e, in),
		Subject:           firstNonEmpty(in.str("subject", "title", "content"), UntitledTask),
		Description:       in.str("description"),
		ActiveForm:        in.str("activeForm"),
		Status:            parseStatus(in.str("status"), StatusPending),
		Owner:             owner,
		OwnerInvocationID: ownerID,
		Source:            SourceCreate,
		InvocationID:      e.ID,
	}
	d.put(t)
}

func (d *deriver) update(e transcript.Entry, in input, owner, ownerID string) {
	id := in.str("taskId", "id")
	if id == "" {
		return
	}
	status := in.str("status")
	if status == "deleted" {
		d.remove(id)
		return
	}
	t, ok := d.tasks[id]
	if !ok {
		t = &Task{
			ID:                id,
			Subject:           "Task " + id,
			Status:            StatusPending,
			Owner:             owner,
			OwnerInvocationID: ownerID,
			Source:            SourceUpdate,
			InvocationID:      e.ID,
		}
		d.put(t)
	}
	t.Status = parseStatus(status, t.Status)
	if s := in.str("subject"); s != "" {
		t.Subject = s
	}
	if s := in.str("description"); s != "" {
		t.Description = s
	}
	if s := in.str("activeForm"); s != "" {
		t.ActiveForm = s
	}
	if s := in.str("owner"); s != "" {
		t.Owner = s
	}
}

// replaceChecklist swaps every checklist-sourced task for the items of this
// snapshot. Explicitly created tasks stay. An unparsable snapshot changes
// nothing.
func (d *deriver) replaceChecklist(e transcript.Entry, in input, owner, ownerID string) {
	items, ok := in.todos()
	if !ok {
		return
	}
	for _, id := range slices.Clone(d.order) {
		if d.tasks[id].Source == SourceChecklist {
			d.remove(id)
		}
	}
	d.checklist++
	for n, item := range items {
		d.put(&Task{
			ID:                fmt.Sprintf("todo-%d.%d", d.checklist, n+1),
			Subject:           firstNonEmpty(item.Content, item.Subject, UntitledTask),
			ActiveForm:        item.ActiveForm,
			Status:            parseStatus(item.Status, StatusPending),
			Owner:             owner,
			OwnerInvocationID: ownerID,
			Source:            SourceChecklist,
			InvocationID:      e.ID,
		})
	}
}

func (d *deriver) delegate(e transcript.Entry, in input, owner, ownerID string) {
	status := StatusInProgress
	if _, done := d.results[e.ID]; done {
		status = StatusCompleted
	}
	d.put(&Task{
		ID:                e.ID,
		Subject:           firstNonEmpty(in.str("description"), UntitledDelegation),
		Description:       in.str("prompt"),
		Status:            status,
		Owner:             owner,
		OwnerInvocationID: ownerID,
		Source:            SourceDelegation,
		InvocationID:      e.ID,
	})
}

func (d *deriver) put(t *Task) {
	if _, ok := d.tasks[t.ID]; !ok {
		d.order = append(d.order, t.ID)
	}
	d.tasks[t.ID] = t
}

func (d *deriver) remove(id string) {
	if _, ok := d.tasks[id]; !ok {
		return
	}
	delete(d.tasks, id)
	d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == id })
}

func (d *deriver) board() Board {
	b := Board{
		Tasks:           make([]Task, 0, len(d.order)),
		Timeline:        d.timeline,
		OpenDelegations: []Delegation{},
	}
	if b.Timeline == nil {
		b.Timeline = []Activity{}
	}
	for _, id := range d.order {
		b.Tasks = append(b.Tasks, *d.tasks[id])
	}
	for _, dl := range d.delegations {
		if _, done := d.results[dl.InvocationID]; !done {
			b.OpenDelegations = append(b.OpenDelegations, dl.Delegation)
		}
	}
	return b
}

func parseStatus(s string, fallback Status) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending
	case StatusInProgress, "in-progress", "active":
		return StatusInProgress
	case StatusCompleted, "done", "complete":
		return StatusCompleted
	}
	return fallback
}

// input is tolerant access to a tool's JSON input. A malformed document
// behaves like an empty object.
type input map[string]any

func parseInput(raw json.RawMessage) input {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return input{}
	}
	return m
}

// str returns the first key holding a non-empty string or number.
func (in input) str(keys ...string) string {
	for _, k := range keys {
		switch v := in[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

type todoItem struct {
	Content    string `json:"content"`
	Subject    string `json:"subject"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// todos decodes the "todos" list, which may also arrive JSON-encoded in a
// string.
func (in input) todos() ([]todoItem, bool) {
	v, ok := in["todos"]
	if !ok {
		return nil, false
	}
	var raw []byte
	if s, isString := v.(string); isString {
		raw = []byte(s)
	} else {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return nil, false
		}
	}
	var items []todoItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
