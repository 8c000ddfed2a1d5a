// Package kerneltest provides a scripted in-memory kernel for tests.
package kerneltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/waldiez/jupyter-runner/kernel"
)

// InputReply records one SendInputReply call.
type InputReply struct {
	Value    string
	Metadata map[string]any
}

// Kernel is a fake kernel.Kernel. Each Execute creates a future that the
// test drives with Stdout, InputRequest, Error and Finish.
type Kernel struct {
	mu           sync.Mutex
	requests     []kernel.ExecuteRequest
	futures      []*kernel.ChanFuture
	inputReplies []InputReply
	interrupts   int
	restarts     int
	disposed     int

	// ExecuteErr, when set, is returned by Execute.
	ExecuteErr error
	// NilFuture makes Execute return neither a future nor an error.
	NilFuture bool
	// ReplyErr, when set, is returned by SendInputReply.
	ReplyErr error
}

// New returns an empty fake kernel.
func New() *Kernel {
	return &Kernel{}
}

// Execute implements kernel.Kernel.
func (k *Kernel) Execute(ctx context.Context, req kernel.ExecuteRequest) (kernel.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = append(k.requests, req)
	if k.ExecuteErr != nil {
		return nil, k.ExecuteErr
	}
	if k.NilFuture {
		return nil, nil
	}
	f := kernel.NewFuture(fmt.Sprintf("execute-%d", len(k.requests)), func() {
		k.mu.Lock()
		k.disposed++
		k.mu.Unlock()
	})
	k.futures = append(k.futures, f)
	return f, nil
}

// SendInputReply implements kernel.Kernel.
func (k *Kernel) SendInputReply(_ context.Context, value string, metadata map[string]any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ReplyErr != nil {
		return k.ReplyErr
	}
	k.inputReplies = append(k.inputReplies, InputReply{Value: value, Metadata: metadata})
	return nil
}

// Interrupt implements kernel.Kernel.
func (k *Kernel) Interrupt(context.Context) error {
	k.mu.Lock()
	k.interrupts++
	k.mu.Unlock()
	return nil
}

// Restart implements kernel.Kernel. The current future settles as aborted.
func (k *Kernel) Restart(context.Context) error {
	k.mu.Lock()
	k.restarts++
	f := k.latestLocked()
	k.mu.Unlock()
	if f != nil {
		f.Settle(nil, kernel.ErrClosed)
	}
	return nil
}

// Requests returns the execute requests received so far.
func (k *Kernel) Requests() []kernel.ExecuteRequest {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]kernel.ExecuteRequest(nil), k.requests...)
}

// InputReplies returns the input replies sent so far.
func (k *Kernel) InputReplies() []InputReply {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]InputReply(nil), k.inputReplies...)
}

// Interrupts returns how many times Interrupt was called.
func (k *Kernel) Interrupts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.interrupts
}

// Restarts returns how many times Restart was called.
func (k *Kernel) Restarts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.restarts
}

// Disposed returns how many futures were disposed.
func (k *Kernel) Disposed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.disposed
}

// Future returns the most recent future, or nil.
func (k *Kernel) Future() *kernel.ChanFuture {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.latestLocked()
}

func (k *Kernel) latestLocked() *kernel.ChanFuture {
	if len(k.futures) == 0 {
		return nil
	}
	return k.futures[len(k.futures)-1]
}

func (k *Kernel) push(channel, msgType string, content any) bool {
	f := k.Future()
	if f == nil {
		return false
	}
	return f.Push(kernel.NewMessage(channel, msgType, "", f.MsgID(), content))
}

// Stdout pushes a stdout stream message to the current future.
func (k *Kernel) Stdout(text string) bool {
	return k.push(kernel.ChannelIOPub, kernel.MsgStream, kernel.StreamContent{Name: "stdout", Text: text})
}

// Stderr pushes a stderr stream message to the current future.
func (k *Kernel) Stderr(text string) bool {
	return k.push(kernel.ChannelIOPub, kernel.MsgStream, kernel.StreamContent{Name: "stderr", Text: text})
}

// InputRequest pushes a stdin input_request to the current future.
func (k *Kernel) InputRequest(prompt string, password bool) bool {
	return k.push(kernel.ChannelStdin, kernel.MsgInputRequest, kernel.InputRequestContent{Prompt: prompt, Password: password})
}

// Error pushes an iopub error message to the current future.
func (k *Kernel) Error(ename, evalue string, traceback ...string) bool {
	return k.push(kernel.ChannelIOPub, kernel.MsgError, kernel.ErrorContent{EName: ename, EValue: evalue, Traceback: traceback})
}

// Status pushes an iopub status message to the current future.
func (k *Kernel) Status(state string) bool {
	return k.push(kernel.ChannelIOPub, kernel.MsgStatus, kernel.StatusContent{ExecutionState: state})
}

// Finish settles the current future with an execute_reply of status. Any
// status other than "ok" settles with an *kernel.ExecutionError.
func (k *Kernel) Finish(status string) {
	f := k.Future()
	if f == nil {
		return
	}
	reply := kernel.NewMessage(kernel.ChannelShell, kernel.MsgExecuteReply, "", f.MsgID(),
		kernel.ExecuteReplyContent{Status: status})
	f.Settle(reply, kernel.ReplyError(reply))
}

// Fail settles the current future with err.
func (k *Kernel) Fail(err error) {
	if f := k.Future(); f != nil {
		f.Settle(nil, err)
	}
}

var _ kernel.Kernel = (*Kernel)(nil)
