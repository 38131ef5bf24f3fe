package reducer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"convo/pkg/protocol"
)

// PromptKind distinguishes the two side-channel prompts.
type PromptKind string

// Prompt kinds.
const (
	PromptQuestion PromptKind = "question"
	PromptPlan     PromptKind = "plan"
)

// Prompt is a pending question or plan approval.
type Prompt struct {
	Kind      PromptKind `json:"kind"`
	ID        string     `json:"id"`
	Questions []Question `json:"questions,omitempty"`
	Plan      *Plan      `json:"plan,omitempty"`
}

// Question is one question with selectable options.
type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

// Option is one answer choice. On the wire it may be an object or a bare
// string label.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Option) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*o = Option{Label: label}
		return nil
	}
	type plain Option
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = Option(p)
	return nil
}

// Plan is the body of a plan approval prompt.
type Plan struct {
	Title   string     `json:"title"`
	Summary string     `json:"summary"`
	Steps   []PlanStep `json:"steps"`
}

// PlanStep is one step of a plan. On the wire it may be an object or a
// bare string.
type PlanStep struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. Objects may name the step
// with "title", "step" or "name".
func (s *PlanStep) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = PlanStep{Title: text}
		return nil
	}
	var obj struct {
		Title       string `json:"title"`
		Step        string `json:"step"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = PlanStep{Title: firstNonEmpty(obj.Title, obj.Step, obj.Name, obj.Description)}
	if s.Title != obj.Description {
		s.Description = obj.Description
	}
	return nil
}

// InvalidPromptError reports a prompt payload that could not be
// normalised.
type InvalidPromptError struct {
	Kind PromptKind
	ID   string
	Err  error
}

func (e *InvalidPromptError) Error() string {
	return fmt.Sprintf("invalid %s payload %q: %v", e.Kind, e.ID, e.Err)
}

func (e *InvalidPromptError) Unwrap() error { return e.Err }

var errEmptyList = errors.New("empty list")

func (r *Reducer) askQuestion(ev protocol.AskUserQuestion) []Effect {
	qs, err := parseQuestions(ev.Questions)
	if err != nil {
		return r.invalidPrompt(&InvalidPromptError{Kind: PromptQuestion, ID: ev.QuestionID, Err: err})
	}
	return r.openPrompt(Prompt{Kind: PromptQuestion, ID: ev.QuestionID, Questions: qs}, ev.TimeoutSeconds)
}

func (r *Reducer) planApproval(ev protocol.PlanApproval) []Effect {
	steps, err := parseSteps(ev.Steps)
	if err != nil {
		return r.invalidPrompt(&InvalidPromptError{Kind: PromptPlan, ID: ev.PlanID, Err: err})
	}
	plan := &Plan{Title: ev.Title, Summary: ev.Summary, Steps: steps}
	return r.openPrompt(Prompt{Kind: PromptPlan, ID: ev.PlanID, Plan: plan}, ev.TimeoutSeconds)
}

func (r *Reducer) invalidPrompt(err *InvalidPromptError) []Effect {
	r.logger.Warn("rejecting prompt", "kind", err.Kind, "id", err.ID, "error", err.Err)
	label := "question"
	if err.Kind == PromptPlan {
		label = "plan"
	}
	return []Effect{Notice{Level: NoticeWarning, Text: "Received " + label + " in an invalid format"}}
}

// openPrompt shows p, superseding any prompt still open.
func (r *Reducer) openPrompt(p Prompt, timeoutSeconds protocol.Seconds) []Effect {
	var effects []Effect
	if old := r.state.Prompt; old != nil {
		effects = append(effects, CloseModal{PromptID: old.ID, Reason: CloseSuperseded})
	}
	timeout := r.cfg.PromptTimeout
	if timeoutSeconds > 0 {
		timeout = timeoutSeconds.Duration()
	}
	r.state.Prompt = &p
	return append(effects, ShowModal{Prompt: p, Timeout: timeout})
}

func (r *Reducer) abortPrompt() []Effect {
	p := r.state.Prompt
	if p == nil {
		return nil
	}
	r.state.Prompt = nil
	return []Effect{CloseModal{PromptID: p.ID, Reason: CloseAborted}}
}

func (r *Reducer) takePrompt(kind PromptKind, id string) error {
	p := r.state.Prompt
	if p == nil || p.Kind != kind || p.ID != id {
		return ErrNoPendingPrompt
	}
	r.state.Prompt = nil
	return nil
}

// AnswerQuestion answers the open question prompt.
func (r *Reducer) AnswerQuestion(questionID string, answers map[string]string) ([]Effect, error) {
	if err := r.takePrompt(PromptQuestion, questionID); err != nil {
		return nil, err
	}
	return []Effect{
		SendMessage{Message: protocol.UserAnswer{QuestionID: questionID, Answers: answers}},
		CloseModal{PromptID: questionID, Reason: CloseAnswered},
	}, nil
}

// RespondPlan approves or rejects the open plan prompt.
func (r *Reducer) RespondPlan(planID string, approved bool, feedback string) ([]Effect, error) {
	if err := r.takePrompt(PromptPlan, planID); err != nil {
		return nil, err
	}
	return []Effect{
		SendMessage{Message: protocol.PlanApprovalResponse{PlanID: planID, Approved: approved, Feedback: feedback}},
		CloseModal{PromptID: planID, Reason: CloseAnswered},
	}, nil
}

// ExpirePrompt closes the prompt with id after its timeout. It does
// nothing if that prompt was already answered or superseded.
func (r *Reducer) ExpirePrompt(id string) []Effect {
	p := r.state.Prompt
	if p == nil || p.ID != id {
		return nil
	}
	r.state.Prompt = nil
	return []Effect{CloseModal{PromptID: id, Reason: CloseTimeout}}
}

// decodeList decodes a list that arrives either as a JSON array or as a
// string holding an encoded array.
func decodeList(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errEmptyList
	}
	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return err
		}
		trimmed = []byte(strings.TrimSpace(encoded))
	}
	return json.Unmarshal(trimmed, v)
}

func parseQuestions(raw json.RawMessage) ([]Question, error) {
	var qs []Question
	if err := decodeList(raw, &qs); err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, errEmptyList
	}
	for i, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("question %d has no text", i)
		}
	}
	return qs, nil
}

func parseSteps(raw json.RawMessage) ([]PlanStep, error) {
	var steps []PlanStep
	err := decodeList(raw, &steps)
	if errors.Is(err, errEmptyList) {
		return nil, nil
	}
	return steps, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
