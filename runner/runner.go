package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/waldiez/jupyter-runner/codegen"
	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/logger"
	"github.com/waldiez/jupyter-runner/parser"
)

var (
	// ErrAlreadyRunning is returned when a run is started while another one
	// is active. The active run is not affected.
	ErrAlreadyRunning = errors.New("execution already running")

	// ErrNoFuture is returned when the kernel did not hand back an execution
	// handle. The runner is reset before it is returned.
	ErrNoFuture = errors.New("kernel returned no execution handle")
)

// Base owns the single in-flight execution of a runner. It submits the
// generated code, consumes the kernel future on a dispatch goroutine and
// feeds stdout and stdin requests to its Processor.
//
// Every run gets a generation number. Reset bumps it, so messages and the
// completion of a disposed future are dropped even if they still arrive.
type Base struct {
	proc Processor
	log  *slog.Logger // nil means the process logger

	mu       sync.Mutex
	session  *Session
	gen      uint64
	endedGen uint64
	onEnd    func()
	onOutput func(sessionID, text string)
}

// NewBase creates a Base driving proc. A nil log uses the process logger
// with a per run session attribute.
func NewBase(proc Processor, log *slog.Logger) *Base {
	return &Base{proc: proc, log: log, session: &Session{}}
}

func (b *Base) runLogger(sessionID string) *slog.Logger {
	if b.log != nil {
		return b.log.With("sessionID", sessionID)
	}
	return logger.WithSession(sessionID)
}

func (b *Base) sessionLogLocked() *slog.Logger {
	if b.session.log != nil {
		return b.session.log
	}
	if b.log != nil {
		return b.log
	}
	return logger.WithComponent("runner")
}

// SetOnEnd sets the session end callback. It is called at most once per run,
// without any runner lock held.
func (b *Base) SetOnEnd(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEnd = fn
}

// SetOnOutput sets a callback receiving every raw stdout chunk of the
// current run, before it is parsed.
func (b *Base) SetOnOutput(fn func(sessionID, text string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOutput = fn
}

// IsRunning reports whether a run is in progress.
func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Running
}

// Session returns a copy of the current session state.
func (b *Base) Session() Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.snapshot()
}

// CurrentRun returns the number of the current run. Reset and ExecuteFile
// move it forward.
func (b *Base) CurrentRun() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// IsCurrentRun reports whether run is still the current run.
func (b *Base) IsCurrentRun(run uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == run
}

// runActive reports whether run is current and still running.
func (b *Base) runActive(run uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == run && b.session.Running
}

// RequestID returns the id of the input request being answered.
func (b *Base) RequestID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.RequestID
}

// SetRequestID adopts id as the current input request id.
func (b *Base) SetRequestID(id string) {
	b.setRequestID(b.CurrentRun(), id)
}

func (b *Base) setRequestID(run uint64, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == run {
		b.session.RequestID = id
	}
}

// ExpectingUserInput reports whether an input request is outstanding.
func (b *Base) ExpectingUserInput() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.ExpectingUserInput
}

// SetExpectingUserInput sets the awaiting input flag. Clearing it also
// drops the pending stdin request.
func (b *Base) SetExpectingUserInput(expecting bool) {
	b.setExpecting(b.CurrentRun(), expecting)
}

func (b *Base) setExpecting(run uint64, expecting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != run {
		return
	}
	b.session.ExpectingUserInput = expecting
	if !expecting {
		b.session.InputRequest = nil
	}
}

// ExecuteFile submits the flow at req.FilePath to k and starts consuming
// the execution. It fails with ErrAlreadyRunning while a run is active and
// with ErrNoFuture when k does not produce an execution handle.
func (b *Base) ExecuteFile(ctx context.Context, k kernel.Kernel, req codegen.Request) error {
	b.mu.Lock()
	if b.session.Running {
		log := b.sessionLogLocked()
		b.mu.Unlock()
		log.Error("execution already running", "file", req.FilePath)
		return ErrAlreadyRunning
	}
	stale := b.resetLocked()
	id := uuid.New().String()
	log := b.runLogger(id)
	b.session = &Session{
		ID:          id,
		Running:     true,
		UploadsRoot: codegen.UploadsRoot(req.FilePath),
		log:         log,
	}
	gen := b.gen
	b.mu.Unlock()

	if stale != nil {
		stale.Dispose()
	}
	if req.Mode == "" {
		req.Mode = codegen.ModeStandard
	}
	log.Info("executing flow", "file", req.FilePath, "mode", req.Mode, "breakpoints", len(req.Breakpoints))

	var future kernel.Future
	var err error
	if k == nil {
		err = errors.New("no kernel")
	} else {
		future, err = k.Execute(ctx, kernel.ExecuteRequest{
			Code:        codegen.Generate(req),
			StopOnError: true,
			AllowStdin:  true,
		})
	}
	if err != nil || future == nil {
		if future != nil {
			future.Dispose()
		}
		log.Error("no execution handle", "file", req.FilePath, "error", err)
		b.resetGen(gen)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoFuture, err)
		}
		return ErrNoFuture
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		future.Dispose()
		log.Warn("run reset while submitting")
		return nil
	}
	b.session.future = future
	b.mu.Unlock()

	log.Debug("execution submitted", "msgID", future.MsgID())
	go b.dispatch(gen, future)
	return nil
}

// dispatch consumes one future until it settles.
func (b *Base) dispatch(gen uint64, future kernel.Future) {
	for msg := range future.Messages() {
		b.handle(gen, msg)
	}
	b.flush(gen)
	_, err := future.Reply()
	b.complete(gen, err)
}

// current returns the run logger if gen is still the active run.
func (b *Base) current(gen uint64) (*slog.Logger, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return nil, false
	}
	return b.sessionLogLocked(), true
}

func (b *Base) handle(gen uint64, msg *kernel.Message) {
	log, ok := b.current(gen)
	if !ok {
		return
	}

	switch msg.Type() {
	case kernel.MsgInputRequest:
		var content kernel.InputRequestContent
		if err := msg.Decode(&content); err != nil {
			log.Warn("invalid input request", "error", err)
			return
		}
		b.onStdin(gen, content)

	case kernel.MsgStream:
		var content kernel.StreamContent
		if err := msg.Decode(&content); err != nil {
			log.Warn("invalid stream message", "error", err)
			return
		}
		if content.Name != "stdout" {
			for _, line := range parser.NormalizeLogEntry(parser.StripANSI(content.Text), false) {
				log.Debug("kernel "+content.Name, "line", line)
			}
			return
		}
		b.onStdout(gen, content.Text)

	case kernel.MsgError:
		var content kernel.ErrorContent
		if err := msg.Decode(&content); err != nil {
			log.Warn("invalid error message", "error", err)
		}
		log.Error("kernel error",
			"ename", content.EName,
			"evalue", content.EValue,
			"traceback", parser.StripANSI(strings.Join(content.Traceback, "\n")))
		// Cleanup waits for the completion signal.
		b.mu.Lock()
		if b.gen == gen {
			b.session.Running = false
		}
		b.mu.Unlock()

	default:
		log.Debug("ignoring kernel message", "type", msg.Type())
	}
}

// onStdout forwards every complete stdout line to the processor.
func (b *Base) onStdout(gen uint64, text string) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	lines := b.session.takeLines(text)
	id := b.session.ID
	onOutput := b.onOutput
	b.mu.Unlock()

	if onOutput != nil {
		onOutput(id, text)
	}
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, ok := b.current(gen); !ok {
			return
		}
		b.proc.HandleOutput(gen, line)
	}
}

// flush hands any unterminated stdout text to the processor.
func (b *Base) flush(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	rest := b.session.flushPartial()
	b.mu.Unlock()
	if strings.TrimSpace(rest) != "" {
		b.proc.HandleOutput(gen, rest)
	}
}

func (b *Base) onStdin(gen uint64, content kernel.InputRequestContent) {
	b.flush(gen)

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	if id, ok := parser.ExtractRequestID(content.Prompt); ok {
		b.session.RequestID = id
	}
	id := b.session.RequestID
	req := InputRequest{
		RequestID: id,
		Prompt:    displayPrompt(content.Prompt),
		Password:  content.Password,
		Metadata:  map[string]any{"request_id": id},
	}
	b.session.InputRequest = &req
	b.session.ExpectingUserInput = true
	log := b.sessionLogLocked()
	b.mu.Unlock()

	log.Debug("input requested", "requestID", id)
	b.proc.HandleStdin(gen, req)
}

// complete handles the settlement of the run's future.
func (b *Base) complete(gen uint64, err error) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	log := b.sessionLogLocked()
	future := b.resetLocked()
	fire := b.endedGen != gen
	b.endedGen = gen
	onEnd := b.onEnd
	b.mu.Unlock()

	if future != nil {
		future.Dispose()
	}
	if err != nil {
		log.Error("execution failed", "error", err)
	} else {
		log.Info("execution completed")
	}
	if fire && onEnd != nil {
		onEnd()
	}
}

// EndSession marks the run finished and fires the session end callback if
// it has not fired for this run yet. The kernel handle is kept until the
// kernel reports completion.
func (b *Base) EndSession() {
	b.endRun(b.CurrentRun())
}

// endRun is EndSession for run; it does nothing once run is not current.
func (b *Base) endRun(run uint64) {
	b.mu.Lock()
	if b.gen != run {
		b.mu.Unlock()
		return
	}
	b.session.Running = false
	if b.session.ID == "" || b.endedGen == b.gen {
		b.mu.Unlock()
		return
	}
	b.endedGen = b.gen
	onEnd := b.onEnd
	log := b.sessionLogLocked()
	b.mu.Unlock()

	log.Info("session ended")
	if onEnd != nil {
		onEnd()
	}
}

// Reset drops the current run: flags are cleared and the kernel handle is
// disposed. Safe to call in any state.
func (b *Base) Reset() {
	b.mu.Lock()
	future := b.resetLocked()
	b.mu.Unlock()
	if future != nil {
		future.Dispose()
	}
}

func (b *Base) resetGen(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	future := b.resetLocked()
	b.mu.Unlock()
	if future != nil {
		future.Dispose()
	}
}

// resetLocked replaces the session and returns the handle to dispose.
func (b *Base) resetLocked() kernel.Future {
	future := b.session.future
	b.gen++
	b.session = &Session{}
	return future
}

// Interrupt interrupts the kernel. The run ends through the normal
// completion path.
func (b *Base) Interrupt(ctx context.Context, k kernel.Kernel) error {
	b.mu.Lock()
	log := b.sessionLogLocked()
	b.mu.Unlock()
	if err := k.Interrupt(ctx); err != nil {
		log.Error("failed to interrupt kernel", "error", err)
		return fmt.Errorf("interrupt kernel: %w", err)
	}
	log.Info("kernel interrupted")
	return nil
}

// Restart resets the runner, dropping the current run, then restarts k.
func (b *Base) Restart(ctx context.Context, k kernel.Kernel) error {
	b.mu.Lock()
	log := b.sessionLogLocked()
	b.mu.Unlock()
	b.Reset()
	if err := k.Restart(ctx); err != nil {
		log.Error("failed to restart kernel", "error", err)
		return fmt.Errorf("restart kernel: %w", err)
	}
	log.Info("kernel restarted")
	return nil
}
