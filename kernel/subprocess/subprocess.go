// Package subprocess runs generated flow code in a local python process and
// presents it as a kernel.Kernel.
//
// Stdout and stderr lines become stream messages. A stdout line carrying a
// structured input request is followed by a stdin input_request whose prompt
// is that line, mirroring what an IPython kernel does when the flow calls
// input(). Input replies are written to the process stdin.
package subprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/parser"
)

// DefaultPython is the interpreter used when Config.Python is empty.
const DefaultPython = "python3"

// ErrBusy is returned by Execute while another execution is in progress.
var ErrBusy = errors.New("subprocess kernel busy")

// ErrNotRunning is returned when an operation needs a running execution.
var ErrNotRunning = errors.New("no running execution")

// Config configures the interpreter process.
type Config struct {
	Python     string   // interpreter, invoked as <Python> -u -c <code>
	WorkingDir string   // empty means the current directory
	Env        []string // extra KEY=VALUE entries; nil inherits the environment
}

// Kernel is a kernel.Kernel backed by one interpreter process per execution.
type Kernel struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	current *execution
}

type execution struct {
	msgID  string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	future *kernel.ChanFuture

	mu          sync.Mutex
	interrupted bool
	stopped     bool
	exited      bool
	stderrTail  []string
}

// live reports whether the execution still owns the kernel: it was neither
// stopped nor has its process exited. A disposed future never settles, so
// this is tracked here rather than on the future.
func (exe *execution) live() bool {
	exe.mu.Lock()
	defer exe.mu.Unlock()
	return !exe.stopped && !exe.exited
}

// New creates a subprocess kernel.
func New(cfg Config, log *slog.Logger) *Kernel {
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Kernel{cfg: cfg, log: log.With("component", "subprocess-kernel")}
}

// Execute starts a process running req.Code.
func (k *Kernel) Execute(ctx context.Context, req kernel.ExecuteRequest) (kernel.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.current != nil && k.current.live() {
		return nil, ErrBusy
	}

	cmd := exec.Command(k.cfg.Python, "-u", "-c", req.Code)
	cmd.Dir = k.cfg.WorkingDir
	if k.cfg.Env != nil {
		cmd.Env = append(cmd.Environ(), k.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", k.cfg.Python, err)
	}

	exe := &execution{msgID: uuid.New().String(), cmd: cmd, stdin: stdin}
	exe.future = kernel.NewFuture(exe.msgID, func() { k.stop(exe) })
	k.current = exe
	k.log.Info("process started", "pid", cmd.Process.Pid, "msgID", exe.msgID)

	var readers errgroup.Group
	readers.Go(func() error { return k.readStream(exe, stdout, "stdout") })
	readers.Go(func() error { return k.readStream(exe, stderr, "stderr") })
	go k.monitorExit(exe, &readers)

	return exe.future, nil
}

// readStream turns each output line into a stream message until r is
// exhausted. A read error other than EOF is returned.
func (k *Kernel) readStream(exe *execution, r io.Reader, name string) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			exe.future.Push(k.message(exe, kernel.ChannelIOPub, kernel.MsgStream,
				kernel.StreamContent{Name: name, Text: line}))
			switch name {
			case "stdout":
				if _, ok := parser.ExtractRequestID(line); ok {
					exe.future.Push(k.message(exe, kernel.ChannelStdin, kernel.MsgInputRequest,
						kernel.InputRequestContent{Prompt: strings.TrimRight(line, "\r\n")}))
				}
			case "stderr":
				exe.mu.Lock()
				exe.stderrTail = append(exe.stderrTail, strings.TrimRight(line, "\r\n"))
				if len(exe.stderrTail) > 20 {
					exe.stderrTail = exe.stderrTail[1:]
				}
				exe.mu.Unlock()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
	}
}

// monitorExit waits for the readers to drain, then settles the future from
// the process exit status.
func (k *Kernel) monitorExit(exe *execution, readers *errgroup.Group) {
	if err := readers.Wait(); err != nil {
		k.log.Debug("error reading output", "msgID", exe.msgID, "error", err)
	}
	err := exe.cmd.Wait()

	k.mu.Lock()
	if k.current == exe {
		k.current = nil
	}
	k.mu.Unlock()

	exe.mu.Lock()
	exe.exited = true
	interrupted := exe.interrupted
	stopped := exe.stopped
	tail := append([]string(nil), exe.stderrTail...)
	exe.mu.Unlock()

	k.log.Debug("process exited", "msgID", exe.msgID, "error", err)

	switch {
	case stopped:
		exe.future.Settle(nil, kernel.ErrClosed)
	case err == nil:
		reply := k.message(exe, kernel.ChannelShell, kernel.MsgExecuteReply,
			kernel.ExecuteReplyContent{Status: "ok"})
		exe.future.Settle(reply, nil)
	default:
		ename := "ProcessError"
		if interrupted {
			ename = "KeyboardInterrupt"
		}
		evalue := err.Error()
		exe.future.Push(k.message(exe, kernel.ChannelIOPub, kernel.MsgError,
			kernel.ErrorContent{EName: ename, EValue: evalue, Traceback: tail}))
		reply := k.message(exe, kernel.ChannelShell, kernel.MsgExecuteReply,
			kernel.ExecuteReplyContent{Status: "error", EName: ename, EValue: evalue})
		exe.future.Settle(reply, kernel.ReplyError(reply))
	}
}

func (k *Kernel) message(exe *execution, channel, msgType string, content any) *kernel.Message {
	return kernel.NewMessage(channel, msgType, uuid.New().String(), exe.msgID, content)
}

// SendInputReply writes value as one line to the process stdin.
func (k *Kernel) SendInputReply(_ context.Context, value string, metadata map[string]any) error {
	k.mu.Lock()
	exe := k.current
	k.mu.Unlock()
	if exe == nil || !exe.live() {
		return ErrNotRunning
	}
	k.log.Debug("writing input reply", "msgID", exe.msgID, "metadata", metadata)
	if _, err := io.WriteString(exe.stdin, value+"\n"); err != nil {
		return fmt.Errorf("failed to write input reply: %w", err)
	}
	return nil
}

// Interrupt sends SIGINT to the running process.
func (k *Kernel) Interrupt(context.Context) error {
	k.mu.Lock()
	exe := k.current
	k.mu.Unlock()
	if exe == nil || !exe.live() {
		return ErrNotRunning
	}
	exe.mu.Lock()
	exe.interrupted = true
	exe.mu.Unlock()
	k.log.Info("sending SIGINT", "pid", exe.cmd.Process.Pid)
	if err := exe.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to interrupt process: %w", err)
	}
	return nil
}

// Restart kills the running process, if any. The next Execute starts a
// fresh interpreter.
func (k *Kernel) Restart(context.Context) error {
	k.mu.Lock()
	exe := k.current
	k.current = nil
	k.mu.Unlock()
	if exe != nil {
		k.stop(exe)
	}
	return nil
}

// Close kills the running process, if any.
func (k *Kernel) Close() error {
	return k.Restart(context.Background())
}

func (k *Kernel) stop(exe *execution) {
	exe.mu.Lock()
	if exe.stopped {
		exe.mu.Unlock()
		return
	}
	exe.stopped = true
	exe.mu.Unlock()

	exe.stdin.Close()
	if err := exe.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		k.log.Debug("kill failed", "pid", exe.cmd.Process.Pid, "error", err)
	}
}

var _ kernel.Kernel = (*Kernel)(nil)
