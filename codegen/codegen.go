// Package codegen builds the python source submitted to the kernel to run a
// waldiez flow file.
package codegen

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the flow is run.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeDebug    Mode = "debug"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeDebug
}

// Request describes one flow execution.
type Request struct {
	FilePath    string
	Mode        Mode
	Breakpoints []string
	Checkpoint  *string // nil runs from the start
}

// Generate returns the python code that loads the flow at req.FilePath, builds
// a runner for the requested mode, breakpoints and checkpoint, and runs it
// with structured output. A .env file next to the flow is preferred, then one
// in the kernel's working directory, else the flow runs without one.
func Generate(req Request) string {
	mode := req.Mode
	if mode == "" {
		mode = ModeStandard
	}

	var sb strings.Builder
	sb.WriteString("from pathlib import Path\n")
	sb.WriteString("from waldiez import WaldiezRunner\n\n")
	fmt.Fprintf(&sb, "file_path = Path(%s)\n", pyString(req.FilePath))
	fmt.Fprintf(&sb, "uploads_root = Path(%s)\n", pyString(UploadsRoot(req.FilePath)))
	fmt.Fprintf(&sb, "breakpoints = %s\n", pyList(req.Breakpoints))
	fmt.Fprintf(&sb, "checkpoint = %s\n", pyOptional(req.Checkpoint))
	fmt.Fprintf(&sb,
		"runner = WaldiezRunner.load(file_path, mode=%s, breakpoints=breakpoints, checkpoint=checkpoint)\n",
		pyString(string(mode)))
	sb.WriteString("dot_env_path = file_path.parent / \".env\"\n")
	sb.WriteString("if not dot_env_path.is_file():\n")
	sb.WriteString("    dot_env_path = Path.cwd() / \".env\"\n")
	sb.WriteString("if dot_env_path.is_file():\n")
	sb.WriteString("    runner.run(uploads_root=uploads_root, structured_io=True, dot_env=dot_env_path)\n")
	sb.WriteString("else:\n")
	sb.WriteString("    runner.run(uploads_root=uploads_root, structured_io=True)\n")
	return sb.String()
}

// UploadsRoot returns the "uploads" folder next to the file at path.
//
// Any query or fragment is dropped first. The last separator actually present
// ('/' or '\') decides both the parent directory and the separator used to
// append "uploads". A path without separators maps to "./uploads", a bare
// root separator to "<sep>uploads", and a path ending in a separator is taken
// to be the directory itself.
func UploadsRoot(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	idx := strings.LastIndexAny(path, `/\`)
	if idx < 0 {
		return "./uploads"
	}
	sep := path[idx : idx+1]

	var dir string
	if idx == len(path)-1 {
		dir = strings.TrimRight(path, `/\`)
	} else {
		dir = path[:idx]
	}
	if dir == "" {
		return sep + "uploads"
	}
	return dir + sep + "uploads"
}

// pyString quotes s as a python string literal. Go's quoting only emits
// escapes python understands (\", \\, \n, \t, \xNN, \uNNNN, \UNNNNNNNN).
func pyString(s string) string {
	return strconv.Quote(s)
}

func pyOptional(s *string) string {
	if s == nil {
		return "None"
	}
	return pyString(*s)
}

func pyList(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(pyString(item))
		sb.WriteString(", ")
	}
	return "[" + strings.TrimSuffix(sb.String(), ", ") + "]"
}
