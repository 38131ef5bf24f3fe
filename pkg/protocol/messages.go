package protocol

import "encoding/json"

// ClientMessage is a client-to-server frame. The set is closed.
type ClientMessage interface {
	isClientMessage()
}

// ChatMessage is one user turn.
type ChatMessage struct {
	Content Content `json:"content"`
}

// UserAnswer answers an AskUserQuestion. Answers maps question text to the
// chosen option label(s); multi-select answers are comma-joined.
type UserAnswer struct {
	QuestionID string            `json:"questionId"`
	Answers    map[string]string `json:"answers"`
}

// PlanApprovalResponse answers a PlanApproval.
type PlanApprovalResponse struct {
	PlanID   string `json:"planId"`
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// CancelRequest asks the server to stop the current turn. The server
// confirms with a Cancelled event.
type CancelRequest struct{}

// CompactRequest asks the server to compact the session history.
type CompactRequest struct{}

func (ChatMessage) isClientMessage()          {}
func (UserAnswer) isClientMessage()           {}
func (PlanApprovalResponse) isClientMessage() {}
func (CancelRequest) isClientMessage()        {}
func (CompactRequest) isClientMessage()       {}

// MarshalJSON implements json.Marshaler.
func (m UserAnswer) MarshalJSON() ([]byte, error) {
	type plain UserAnswer
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		plain
	}{MsgUserAnswer, plain(m)})
}

// MarshalJSON implements json.Marshaler.
func (m PlanApprovalResponse) MarshalJSON() ([]byte, error) {
	type plain PlanApprovalResponse
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		plain
	}{MsgPlanApprovalResponse, plain(m)})
}

// MarshalJSON implements json.Marshaler.
func (CancelRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]MessageType{"type": MsgCancelRequest})
}

// MarshalJSON implements json.Marshaler.
func (CompactRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]MessageType{"type": MsgCompactRequest})
}

// EncodeMessage renders a client message as a JSON frame.
func EncodeMessage(msg ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}
