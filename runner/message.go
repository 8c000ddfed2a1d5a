package runner

import (
	"encoding/json"
	"slices"
)

// Message types produced by the parser.
const (
	MessageText              = "text"
	MessageSystem            = "system"
	MessageError             = "error"
	MessageInputRequest      = "input_request"
	MessageDebugInputRequest = "debug_input_request"
)

// WorkflowEndID is the id of the system message appended when a workflow
// end banner is detected.
const WorkflowEndID = "workflow-end"

// Message is one parsed conversation message.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Password  bool   `json:"password,omitempty"`
}

// IsInputRequest reports whether m asks the user (or debugger) for input.
func (m Message) IsInputRequest() bool {
	return m.Type == MessageInputRequest || m.Type == MessageDebugInputRequest
}

// Participant is an entry of a participants update.
type Participant struct {
	Name   string `json:"name"`
	IsUser bool   `json:"is_user"`
}

// UnmarshalJSON accepts both "is_user" and "isUser".
func (p *Participant) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string `json:"name"`
		IsUser      *bool  `json:"is_user"`
		IsUserCamel *bool  `json:"isUser"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = raw.Name
	switch {
	case raw.IsUser != nil:
		p.IsUser = *raw.IsUser
	case raw.IsUserCamel != nil:
		p.IsUser = *raw.IsUserCamel
	default:
		p.IsUser = false
	}
	return nil
}

// Timeline is the analytics snapshot a flow prints at the end of a
// conversation segment. Entries are kept as raw JSON.
type Timeline struct {
	Timeline     []json.RawMessage `json:"timeline"`
	CostTimeline []json.RawMessage `json:"cost_timeline"`
	Summary      json.RawMessage   `json:"summary,omitempty"`
	Metadata     json.RawMessage   `json:"metadata,omitempty"`
	Agents       []json.RawMessage `json:"agents"`
}

// InputRequest is a pending request for user input.
type InputRequest struct {
	RequestID string
	Prompt    string
	Password  bool
	// Metadata is sent back with the stdin reply.
	Metadata map[string]any
}

// UpdateField selects which fields of an Update are present.
type UpdateField uint8

const (
	FieldMessages UpdateField = 1 << iota
	FieldParticipants
	FieldTimeline
	FieldActiveRequest
)

// Update is a state patch handed to the update callback. A field is only
// meaningful when its bit is set in Fields; a set bit with a nil value means
// the field was cleared.
type Update struct {
	Fields        UpdateField
	Messages      []Message
	Participants  []string
	Timeline      *Timeline
	ActiveRequest *InputRequest
}

// Has reports whether f is present in the patch.
func (u Update) Has(f UpdateField) bool {
	return u.Fields&f != 0
}

// View is a consumer's merged copy of runner state.
type View struct {
	Messages      []Message
	Participants  []string
	Timeline      *Timeline
	ActiveRequest *InputRequest
}

// Apply merges u into v: present fields overwrite, absent fields are kept.
func (v *View) Apply(u Update) {
	if u.Has(FieldMessages) {
		v.Messages = slices.Clone(u.Messages)
	}
	if u.Has(FieldParticipants) {
		v.Participants = slices.Clone(u.Participants)
	}
	if u.Has(FieldTimeline) {
		v.Timeline = u.Timeline
	}
	if u.Has(FieldActiveRequest) {
		v.ActiveRequest = u.ActiveRequest
	}
}

// InputResponse builds the structured stdin reply for requestID.
func InputResponse(requestID, value string) string {
	data, _ := json.Marshal(struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
		Data      string `json:"data"`
	}{"input_response", requestID, value})
	return string(data)
}
