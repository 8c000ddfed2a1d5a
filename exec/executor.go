// Package exec wraps the command lookups and probes made while checking a
// host, so tests can replace them with recorded answers.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"sync"
)

// ErrNotFound is returned by MockExecutor.LookPath for unknown commands.
var ErrNotFound = errors.New("executable file not found")

// Executor finds and runs probe commands.
type Executor interface {
	// LookPath resolves name to an executable path.
	LookPath(name string) (string, error)

	// Output runs name and returns its stdout. A failure carries stderr.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// LookPath searches PATH for name.
func (e *RealExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Output runs name with args.
func (e *RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%w: %s", err, lastLine(exitErr.Stderr))
	}
	return out, err
}

// lastLine returns the last non-empty line of b. Python puts the exception
// there.
func lastLine(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && b[start-1] != '\n' {
		start--
	}
	return string(b[start:end])
}

// MockResponse is the recorded answer to a command.
type MockResponse struct {
	Stdout []byte
	Err    error
}

// CommandMatcher reports whether a rule applies to a command.
type CommandMatcher func(name string, args []string) bool

// MockRule pairs a matcher with its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor answers from registered rules. Rules are tried in the order
// they were added; unmatched commands succeed with no output.
type MockExecutor struct {
	mu    sync.RWMutex
	paths map[string]string
	rules []MockRule
	calls []MockCall
}

// NewMockExecutor creates a MockExecutor that knows no executables.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{paths: make(map[string]string)}
}

// AddPath makes LookPath resolve name to path.
func (e *MockExecutor) AddPath(name, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths[name] = path
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch adds a rule for one exact command line.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}, response)
}

// AddPrefixMatch adds a rule for commands whose args start with prefixArgs.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && len(a) >= len(prefixArgs) && slices.Equal(a[:len(prefixArgs)], prefixArgs)
	}, response)
}

// GetCalls returns all recorded Output invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

// LookPath resolves names registered with AddPath.
func (e *MockExecutor) LookPath(name string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if path, ok := e.paths[name]; ok {
		return path, nil
	}
	return "", &exec.Error{Name: name, Err: ErrNotFound}
}

// Output returns the response of the first matching rule.
func (e *MockExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Name: name, Args: slices.Clone(args)})
	for _, rule := range e.rules {
		if rule.Match(name, args) {
			return rule.Response.Stdout, rule.Response.Err
		}
	}
	return nil, nil
}

var _ Executor = (*RealExecutor)(nil)
var _ Executor = (*MockExecutor)(nil)

var (
	defaultExecutorMu sync.RWMutex
	defaultExecutor   Executor = NewRealExecutor()
)

// GetDefaultExecutor returns the global default executor.
func GetDefaultExecutor() Executor {
	defaultExecutorMu.RLock()
	defer defaultExecutorMu.RUnlock()
	return defaultExecutor
}

// SetDefaultExecutor sets the global default executor.
func SetDefaultExecutor(e Executor) {
	defaultExecutorMu.Lock()
	defer defaultExecutorMu.Unlock()
	defaultExecutor = e
}
