package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waldiez/jupyter-runner/config"
	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/kernel/jupyter"
	"github.com/waldiez/jupyter-runner/kernel/subprocess"
	"github.com/waldiez/jupyter-runner/logger"
	"github.com/waldiez/jupyter-runner/parser"
)

// interruptGrace is how long a run may take to wind down after Ctrl-C
// before it is dropped.
const interruptGrace = 10 * time.Second

// errInterrupted is returned when the user stopped the run.
var errInterrupted = errors.New("run interrupted")

// kernelConn is a kernel the CLI owns and must close.
type kernelConn interface {
	kernel.Kernel
	Close() error
}

// openKernel connects to the configured backend.
func openKernel(ctx context.Context, cfg *config.Config) (kernelConn, error) {
	switch cfg.GetBackend() {
	case config.BackendSubprocess:
		s := cfg.SubprocessSettings()
		return subprocess.New(subprocess.Config{
			Python:     s.Python,
			WorkingDir: s.WorkingDir,
			Env:        s.Env,
		}, logger.WithComponent("subprocess")), nil
	default:
		c, err := jupyter.Dial(ctx, jupyterConfig(cfg), logger.WithComponent("jupyter"))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func jupyterConfig(cfg *config.Config) jupyter.Config {
	j := cfg.JupyterSettings()
	return jupyter.Config{
		BaseURL:    j.URL,
		Token:      j.Token,
		KernelID:   j.KernelID,
		KernelName: j.KernelName,
	}
}

// flowRun is one started run as seen by drive.
type flowRun struct {
	done      <-chan struct{}
	answer    func(ctx context.Context, line string) error
	interrupt func(ctx context.Context) error
	reset     func()
}

// drive feeds terminal lines to the run until it ends. On ctx cancellation
// the kernel is interrupted and the run gets interruptGrace to finish.
func (a *app) drive(ctx context.Context, run flowRun) error {
	lines := readLines(a.in)
	log := logger.WithComponent("cli")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-run.done:
				return nil
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				if err := run.answer(gctx, line); err != nil {
					log.Warn("failed to answer input request", "error", err)
					fmt.Fprintf(a.errOut, "input not sent: %v\n", err)
				}
			}
		}
	})
	g.Go(func() error {
		select {
		case <-run.done:
			return nil
		case <-ctx.Done():
		}

		fmt.Fprintln(a.errOut, "\ninterrupting...")
		stopCtx, cancel := context.WithTimeout(context.Background(), interruptGrace)
		defer cancel()
		if err := run.interrupt(stopCtx); err != nil {
			log.Warn("interrupt failed", "error", err)
		}
		select {
		case <-run.done:
		case <-stopCtx.Done():
			run.reset()
		}
		return errInterrupted
	})
	return g.Wait()
}

// signalContext is canceled on Ctrl-C or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// endSignal returns a callback closing the returned channel once.
func endSignal() (func(), <-chan struct{}) {
	done := make(chan struct{})
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, done
}

// readLines delivers the lines of r until EOF. The reader goroutine lives
// as long as r blocks.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// streamLog mirrors raw kernel output of each run to its own file.
type streamLog struct {
	mu        sync.Mutex
	sessionID string
	f         *os.File
	failed    bool
}

func (s *streamLog) write(sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != s.sessionID {
		s.closeLocked()
		s.sessionID = sessionID
		s.failed = false
	}
	if s.failed {
		return
	}
	if s.f == nil {
		if err := s.openLocked(); err != nil {
			logger.WithSession(sessionID).Warn("stream log disabled", "error", err)
			s.failed = true
			return
		}
	}
	for _, line := range parser.NormalizeLogEntry(parser.StripANSI(text), false) {
		fmt.Fprintln(s.f, line)
	}
}

func (s *streamLog) openLocked() error {
	path, err := logger.StreamLogPath(s.sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *streamLog) closeLocked() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}

// Close closes the current file.
func (s *streamLog) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}
