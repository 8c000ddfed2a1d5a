package runner

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waldiez/jupyter-runner/parser"
)

// flowEvent is one structured line printed by a flow running with
// structured output enabled.
type flowEvent struct {
	Type         string          `json:"type"`                   // "text", "input_request", "timeline", "print", "debug_*", ...
	ID           string          `json:"id,omitempty"`           // event id, generated when missing
	Timestamp    string          `json:"timestamp,omitempty"`    // RFC 3339, generated when missing
	RequestID    string          `json:"request_id,omitempty"`   // input requests only
	Prompt       string          `json:"prompt,omitempty"`       // input requests only
	Password     json.RawMessage `json:"password,omitempty"`     // bool or "true"/"false"
	Sender       string          `json:"sender,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`      // string or {"content","sender","recipient"}
	Data         json.RawMessage `json:"data,omitempty"`         // print payload
	Participants []Participant   `json:"participants,omitempty"` // participants updates
	Error        json.RawMessage `json:"error,omitempty"`        // error and debug_error

	// Step-by-step payloads.
	Event       json.RawMessage   `json:"event,omitempty"`
	Stats       json.RawMessage   `json:"stats,omitempty"`
	Help        json.RawMessage   `json:"help,omitempty"`
	Breakpoints []json.RawMessage `json:"breakpoints,omitempty"`
	Breakpoint  json.RawMessage   `json:"breakpoint,omitempty"`
	Message     json.RawMessage   `json:"message,omitempty"`
}

// parsedChunk is everything one raw output chunk contributed. Any
// combination of fields may be set.
type parsedChunk struct {
	Message      *Message
	RequestID    string
	Timeline     *Timeline
	Participants []Participant
	Debug        *debugPayload
	WorkflowEnd  bool
}

// debugPayload carries a debug_* event for the step runner.
type debugPayload struct {
	Type        string
	Event       json.RawMessage
	Stats       json.RawMessage
	Help        json.RawMessage
	Breakpoints []string
	Breakpoint  string
	Error       string
	Content     string
}

// parseChunk decodes the first structured event found in raw. The whole
// chunk is tried first, then each line. Returns false when nothing in the
// chunk is a structured event.
func parseChunk(raw string, now time.Time) (*parsedChunk, bool) {
	text := strings.TrimSpace(parser.StripANSI(raw))
	ev, ok := decodeEvent(text)
	if !ok {
		return nil, false
	}
	return interpret(ev, raw, now, 0), true
}

func decodeEvent(text string) (*flowEvent, bool) {
	if ev, ok := decodeObject(text); ok {
		return ev, true
	}
	if !strings.Contains(text, "\n") {
		return nil, false
	}
	for _, line := range strings.Split(text, "\n") {
		if ev, ok := decodeObject(line); ok {
			return ev, true
		}
	}
	return nil, false
}

func decodeObject(s string) (*flowEvent, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var ev flowEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return nil, false
	}
	if ev.Type == "" {
		if len(ev.Participants) == 0 {
			return nil, false
		}
		ev.Type = "participants"
	}
	return &ev, true
}

func interpret(ev *flowEvent, raw string, now time.Time, depth int) *parsedChunk {
	res := &parsedChunk{}
	timestamp := ev.Timestamp
	if timestamp == "" {
		timestamp = now.UTC().Format(time.RFC3339Nano)
	}

	switch ev.Type {
	case MessageInputRequest, MessageDebugInputRequest:
		id := ev.RequestID
		if id == "" {
			id, _ = parser.ExtractRequestID(raw)
		}
		res.RequestID = id
		res.Message = &Message{
			ID:        firstNonEmpty(ev.ID, id, uuid.New().String()),
			Type:      ev.Type,
			Timestamp: timestamp,
			Content:   ev.Prompt,
			RequestID: id,
			Prompt:    ev.Prompt,
			Password:  truthy(ev.Password),
		}
		if ev.Type == MessageDebugInputRequest {
			res.Debug = &debugPayload{Type: ev.Type}
		}

	case "timeline":
		if tl, ok := decodeTimeline(ev.Content); ok {
			res.Timeline = tl
		} else if tl, ok := decodeTimeline(ev.Data); ok {
			res.Timeline = tl
		}

	case "participants":
		res.Participants = ev.Participants
		if len(res.Participants) == 0 {
			res.Participants = decodeParticipants(ev.Content)
		}
		if len(res.Participants) == 0 {
			res.Participants = decodeParticipants(ev.Data)
		}

	case "print":
		// Prints only matter when they wrap another structured event.
		if depth > 0 {
			break
		}
		if nested, ok := decodeObject(rawText(ev.Data)); ok && nested.Type != "print" {
			return interpret(nested, raw, now, depth+1)
		}

	case MessageError:
		content := firstNonEmpty(rawText(ev.Error), rawText(ev.Content), rawText(ev.Data))
		res.Message = &Message{
			ID:        firstNonEmpty(ev.ID, uuid.New().String()),
			Type:      MessageError,
			Timestamp: timestamp,
			Content:   content,
		}

	default:
		if strings.HasPrefix(ev.Type, "debug_") {
			res.Debug = decodeDebug(ev)
			break
		}
		res.Message = contentMessage(ev, timestamp)
	}
	return res
}

// contentMessage builds a chat message, unwrapping a nested
// {"content","sender","recipient"} object. Returns nil for events without
// content or sender.
func contentMessage(ev *flowEvent, timestamp string) *Message {
	content := rawText(ev.Content)
	sender, recipient := ev.Sender, ev.Recipient

	var inner struct {
		Content   json.RawMessage `json:"content"`
		Sender    string          `json:"sender"`
		Recipient string          `json:"recipient"`
	}
	if isObject(ev.Content) && json.Unmarshal(ev.Content, &inner) == nil && (len(inner.Content) > 0 || inner.Sender != "") {
		content = rawText(inner.Content)
		sender = firstNonEmpty(sender, inner.Sender)
		recipient = firstNonEmpty(recipient, inner.Recipient)
	}
	if content == "" && sender == "" {
		return nil
	}
	return &Message{
		ID:        firstNonEmpty(ev.ID, uuid.New().String()),
		Type:      ev.Type,
		Timestamp: timestamp,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
	}
}

func decodeDebug(ev *flowEvent) *debugPayload {
	d := &debugPayload{
		Type:       ev.Type,
		Event:      firstRaw(ev.Event, ev.Data),
		Stats:      firstRaw(ev.Stats, ev.Data),
		Help:       firstRaw(ev.Help, ev.Data),
		Error:      rawText(ev.Error),
		Breakpoint: rawText(ev.Breakpoint),
		Content:    firstNonEmpty(rawText(ev.Content), rawText(ev.Message)),
	}
	for _, bp := range ev.Breakpoints {
		if s := rawText(bp); s != "" {
			d.Breakpoints = append(d.Breakpoints, s)
		}
	}
	return d
}

func decodeTimeline(raw json.RawMessage) (*Timeline, bool) {
	if s := rawText(raw); s != "" && !isObject(raw) {
		raw = json.RawMessage(s)
	}
	if !isObject(raw) {
		return nil, false
	}
	var tl Timeline
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, false
	}
	return &tl, true
}

func decodeParticipants(raw json.RawMessage) []Participant {
	if len(raw) == 0 {
		return nil
	}
	var list []Participant
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Participants []Participant `json:"participants"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Participants
	}
	return nil
}

// displayPrompt returns the prompt to show for a stdin request. Structured
// input requests carry their own prompt.
func displayPrompt(prompt string) string {
	if ev, ok := decodeObject(prompt); ok && (ev.Type == MessageInputRequest || ev.Type == MessageDebugInputRequest) {
		return ev.Prompt
	}
	return prompt
}

func terminationMessage(text string, now time.Time) Message {
	return Message{
		ID:        WorkflowEndID,
		Type:      MessageSystem,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Content:   text,
	}
}

// rawText returns a JSON string's value, or the compact JSON of anything
// else. null and empty input yield "".
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func truthy(raw json.RawMessage) bool {
	switch strings.ToLower(rawText(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(bytes.TrimSpace(v)) > 0 {
			return v
		}
	}
	return nil
}
