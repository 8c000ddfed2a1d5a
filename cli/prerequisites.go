// Package cli provides utilities for CLI tool management and validation.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	pexec "github.com/waldiez/jupyter-runner/exec"
)

// probeTimeout bounds each version or import probe.
const probeTimeout = 10 * time.Second

// Prerequisite represents a required CLI tool or python module
type Prerequisite struct {
	Name        string // Command name (e.g., "python3", "jupyter") or module name
	Command     string // Executable to run; defaults to Name
	Module      string // When set, a python module imported with Command
	Required    bool   // Whether the tool is required to run flows
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

func (p Prerequisite) command() string {
	if p.Command != "" {
		return p.Command
	}
	return p.Name
}

// DefaultPrerequisites returns the tools needed to run flows. With
// localKernel the flow runs in a python subprocess, so python and the
// waldiez package must be installed here; otherwise they live next to the
// Jupyter server and are only reported.
func DefaultPrerequisites(python string, localKernel bool) []Prerequisite {
	if python == "" {
		python = "python3"
	}
	return []Prerequisite{
		{
			Name:        python,
			Required:    localKernel,
			Description: "Python interpreter",
			InstallURL:  "https://www.python.org/downloads",
		},
		{
			Name:        "waldiez",
			Command:     python,
			Module:      "waldiez",
			Required:    localKernel,
			Description: "waldiez python package",
			InstallURL:  "https://pypi.org/project/waldiez",
		},
		{
			Name:        "jupyter",
			Required:    false, // Only needed to start a local server
			Description: "Jupyter (optional, for a local kernel server)",
			InstallURL:  "https://jupyter.org/install",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Checker probes prerequisites through an executor.
type Checker struct {
	executor pexec.Executor
}

// NewChecker creates a Checker using the default executor.
func NewChecker() *Checker {
	return &Checker{executor: pexec.GetDefaultExecutor()}
}

// NewCheckerWithExecutor creates a Checker with a custom executor.
func NewCheckerWithExecutor(e pexec.Executor) *Checker {
	return &Checker{executor: e}
}

// Check verifies that a CLI tool is available in PATH and, for modules,
// importable by its interpreter.
func (c *Checker) Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.executor.LookPath(prereq.command())
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.command())
		return result
	}
	result.Path = path

	if prereq.Module != "" {
		version, err := c.moduleVersion(path, prereq.Module)
		if err != nil {
			result.Error = err
			return result
		}
		result.Found = true
		result.Version = version
		return result
	}

	result.Found = true

	// Try to get version
	version := c.getVersion(path)
	if version != "" {
		result.Version = version
	}

	return result
}

// CheckAll verifies all prerequisites and returns results
func (c *Checker) CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = c.Check(prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met
func (c *Checker) ValidateRequired(prereqs []Prerequisite) error {
	return MissingRequired(c.CheckAll(prereqs))
}

// Check verifies prereq with the default executor.
func Check(prereq Prerequisite) CheckResult {
	return NewChecker().Check(prereq)
}

// CheckAll verifies prereqs with the default executor.
func CheckAll(prereqs []Prerequisite) []CheckResult {
	return NewChecker().CheckAll(prereqs)
}

// ValidateRequired checks that all required prerequisites are met
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func ValidateRequired(prereqs []Prerequisite) error {
	return NewChecker().ValidateRequired(prereqs)
}

// MissingRequired reports the required prerequisites that results did not
// find.
func MissingRequired(results []CheckResult) error {
	var missing []string

	for _, r := range results {
		prereq := r.Prerequisite
		if !prereq.Required || r.Found {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
			prereq.Name, prereq.Description, prereq.InstallURL))
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required prerequisites:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// moduleVersion imports module with the interpreter at python and returns
// its __version__, if any.
func (c *Checker) moduleVersion(python, module string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	script := fmt.Sprintf("import %s as m; print(getattr(m, '__version__', ''))", module)
	output, err := c.executor.Output(ctx, python, "-c", script)
	if err != nil {
		return "", fmt.Errorf("python module %s not importable: %w", module, err)
	}
	return firstLine(output), nil
}

// getVersion attempts to get the version of a CLI tool
func (c *Checker) getVersion(name string) string {
	// Different tools use different version flags
	versionFlags := []string{"--version", "-v", "version"}

	for _, flag := range versionFlags {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		output, err := c.executor.Output(ctx, name, flag)
		cancel()
		if err == nil {
			if version := firstLine(output); version != "" {
				return version
			}
		}
	}

	return ""
}

// firstLine returns the first line of output, trimmed and capped in length.
func firstLine(output []byte) string {
	line, _, _ := strings.Cut(string(output), "\n")
	version := strings.TrimSpace(line)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found && r.Version != "" {
			fmt.Fprintf(&sb, " (%s)", r.Version)
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
