// Package kernel describes the compute kernel channel the runner consumes.
//
// A Kernel executes code and hands back a Future. The Future delivers every
// stdin and iopub message belonging to that execute request, in arrival
// order, on a single channel. The channel is closed once the request settles
// (or the future is disposed) and Reply then reports how it settled.
//
// Two backends implement Kernel: kernel/jupyter talks to a Jupyter server
// over its websocket channels, kernel/subprocess runs the code in a local
// python process. kernel/kerneltest provides a scripted fake for tests.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Channels a Message can arrive on.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
	ChannelStdin = "stdin"
)

// ProtocolVersion is the kernel messaging protocol version spoken.
const ProtocolVersion = "5.3"

// Message types the runner cares about.
const (
	MsgExecuteRequest = "execute_request"
	MsgExecuteReply   = "execute_reply"
	MsgStream         = "stream"
	MsgError          = "error"
	MsgStatus         = "status"
	MsgInputRequest   = "input_request"
	MsgInputReply     = "input_reply"
)

var (
	// ErrDisposed is returned by Future.Reply when the future was disposed
	// before the request settled.
	ErrDisposed = errors.New("kernel future disposed")

	// ErrClosed is returned when the kernel connection is gone.
	ErrClosed = errors.New("kernel connection closed")
)

// Header is a Jupyter message header.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// Message is one message of the kernel messaging protocol.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel,omitempty"`
	Buffers      []any           `json:"buffers,omitempty"`
}

// NewMessage builds a message of msgType answering the request parentID.
// Content that fails to marshal leaves Content empty.
func NewMessage(channel, msgType, msgID, parentID string, content any) *Message {
	raw, _ := json.Marshal(content)
	return &Message{
		Header:       Header{MsgID: msgID, MsgType: msgType, Version: ProtocolVersion},
		ParentHeader: Header{MsgID: parentID},
		Metadata:     map[string]any{},
		Content:      raw,
		Channel:      channel,
	}
}

// Type returns the message type from the header.
func (m *Message) Type() string {
	return m.Header.MsgType
}

// Decode unmarshals the message content into v.
func (m *Message) Decode(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("decode %s: empty content", m.Header.MsgType)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Header.MsgType, err)
	}
	return nil
}

// StreamContent is the content of an iopub stream message.
type StreamContent struct {
	Name string `json:"name"` // "stdout" or "stderr"
	Text string `json:"text"`
}

// ErrorContent is the content of an iopub error message.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// InputRequestContent is the content of a stdin input_request.
type InputRequestContent struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// InputReplyContent is the content of a stdin input_reply.
type InputReplyContent struct {
	Value string `json:"value"`
}

// StatusContent is the content of an iopub status message.
type StatusContent struct {
	ExecutionState string `json:"execution_state"` // "busy", "idle", "starting"
}

// ExecuteRequestContent is the content of a shell execute_request.
type ExecuteRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReplyContent is the content of a shell execute_reply.
type ExecuteReplyContent struct {
	Status         string `json:"status"` // "ok", "error", "aborted"
	ExecutionCount int    `json:"execution_count"`
	EName          string `json:"ename,omitempty"`
	EValue         string `json:"evalue,omitempty"`
}

// ExecutionError is returned by Future.Reply when the kernel settled the
// request with a status other than "ok".
type ExecutionError struct {
	Status string
	EName  string
	EValue string
}

func (e *ExecutionError) Error() string {
	if e.EName == "" && e.EValue == "" {
		return fmt.Sprintf("execution %s", e.Status)
	}
	return fmt.Sprintf("execution %s: %s: %s", e.Status, e.EName, e.EValue)
}

// ReplyError converts an execute_reply into an error, nil when the reply
// status is "ok".
func ReplyError(reply *Message) error {
	if reply == nil {
		return errors.New("missing execute reply")
	}
	var content ExecuteReplyContent
	if err := reply.Decode(&content); err != nil {
		return err
	}
	if content.Status == "ok" {
		return nil
	}
	return &ExecutionError{Status: content.Status, EName: content.EName, EValue: content.EValue}
}

// ExecuteRequest describes code to run on the kernel.
type ExecuteRequest struct {
	Code        string
	StopOnError bool
	AllowStdin  bool
}

// Future is the handle of one in-flight execute request.
type Future interface {
	// MsgID returns the id of the execute request.
	MsgID() string

	// Messages delivers the request's stdin and iopub messages in arrival
	// order. It is closed when the request settles or the future is disposed.
	Messages() <-chan *Message

	// Reply reports how the request settled. Only valid after Messages is
	// closed. Returns ErrDisposed for a disposed future and an
	// *ExecutionError when the kernel reported a failure.
	Reply() (*Message, error)

	// Dispose stops delivery and releases the kernel side subscription.
	// Safe to call multiple times.
	Dispose()
}

// Kernel is a running compute kernel.
type Kernel interface {
	// Execute submits code and returns the future tracking it.
	Execute(ctx context.Context, req ExecuteRequest) (Future, error)

	// SendInputReply answers the pending stdin input_request.
	SendInputReply(ctx context.Context, value string, metadata map[string]any) error

	// Interrupt interrupts the running execution.
	Interrupt(ctx context.Context) error

	// Restart restarts the kernel, dropping any execution in progress.
	Restart(ctx context.Context) error
}
