package runner

import (
	"context"

	"github.com/waldiez/jupyter-runner/codegen"
	"github.com/waldiez/jupyter-runner/kernel"
)

// Processor is what a concrete runner plugs into Base. Base calls the hooks
// from its dispatch goroutine, one at a time, never while holding its lock.
//
// run identifies the run the input belongs to. A Reset can land between
// Base's own check and the hook, so the hook must confirm with IsCurrentRun
// under its own lock before touching state.
type Processor interface {
	// HandleOutput handles one line of stdout text of run.
	HandleOutput(run uint64, raw string)

	// HandleStdin handles a kernel request for input during run.
	// req.Metadata carries the request id to send back with the reply.
	HandleStdin(run uint64, req InputRequest)
}

// RunnerInterface is the surface shared by the standard and step runners.
type RunnerInterface interface {
	IsRunning() bool
	Session() Session
	Reset()
	EndSession()
	SetOnEnd(fn func())
	SetOnOutput(fn func(sessionID, text string))
	ExecuteFile(ctx context.Context, k kernel.Kernel, req codegen.Request) error
}

// Ensure both runners implement RunnerInterface at compile time.
var (
	_ RunnerInterface = (*Standard)(nil)
	_ RunnerInterface = (*Step)(nil)
)
