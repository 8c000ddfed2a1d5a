package cli

import (
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	pexec "github.com/waldiez/jupyter-runner/exec"
)

func TestDefaultPrerequisites(t *testing.T) {
	tests := []struct {
		name        string
		python      string
		localKernel bool
		wantPython  string
	}{
		{"subprocess backend", "/opt/py/bin/python", true, "/opt/py/bin/python"},
		{"jupyter backend", "", false, "python3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prereqs := DefaultPrerequisites(tt.python, tt.localKernel)
			if len(prereqs) != 3 {
				t.Fatalf("got %d prerequisites", len(prereqs))
			}

			byName := map[string]Prerequisite{}
			for _, p := range prereqs {
				byName[p.Name] = p
			}
			py, ok := byName[tt.wantPython]
			if !ok {
				t.Fatalf("python prerequisite %q missing: %+v", tt.wantPython, prereqs)
			}
			if py.Required != tt.localKernel {
				t.Errorf("python required = %v, want %v", py.Required, tt.localKernel)
			}
			mod := byName["waldiez"]
			if mod.Module != "waldiez" || mod.command() != tt.wantPython || mod.Required != tt.localKernel {
				t.Errorf("waldiez prerequisite = %+v", mod)
			}
			if byName["jupyter"].Required {
				t.Error("jupyter should be optional")
			}
		})
	}
}

func TestCheck_ExistingCommand(t *testing.T) {
	// Test with a command that definitely exists on any system
	prereq := Prerequisite{
		Name:        "echo",
		Required:    true,
		Description: "Echo command",
	}

	result := Check(prereq)

	if !result.Found {
		t.Skip("echo command not found in PATH, skipping test")
	}

	if result.Path == "" {
		t.Error("Check should return path for found command")
	}

	if result.Error != nil {
		t.Errorf("Check should not return error for found command: %v", result.Error)
	}
}

func TestCheck_NonExistingCommand(t *testing.T) {
	prereq := Prerequisite{
		Name:        "definitely-not-a-real-command-12345",
		Required:    true,
		Description: "Fake command",
		InstallURL:  "http://example.com",
	}

	result := Check(prereq)

	if result.Found {
		t.Error("Check should return Found=false for non-existing command")
	}
	if result.Path != "" {
		t.Error("Check should return empty path for non-existing command")
	}
	if result.Error == nil {
		t.Error("Check should return error for non-existing command")
	}
}

func TestCheck_Module(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses false")
	}
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not found")
	}

	// An interpreter that always fails reports the module missing.
	result := Check(Prerequisite{Name: "waldiez", Command: "false", Module: "waldiez"})
	if result.Found {
		t.Error("module should not be found")
	}
	if result.Path == "" {
		t.Error("interpreter path should be reported")
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "waldiez") {
		t.Errorf("error = %v", result.Error)
	}
}

func TestChecker_WithMockExecutor(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddPath("python3", "/usr/bin/python3")
	mock.AddExactMatch("/usr/bin/python3", []string{"--version"}, pexec.MockResponse{Stdout: []byte("Python 3.12.1\n")})
	mock.AddPrefixMatch("/usr/bin/python3", []string{"-c"}, pexec.MockResponse{Stdout: []byte("0.6.0\n")})
	c := NewCheckerWithExecutor(mock)

	results := c.CheckAll(DefaultPrerequisites("python3", true))
	want := []struct {
		found   bool
		version string
	}{
		{true, "Python 3.12.1"},
		{true, "0.6.0"},
		{false, ""},
	}
	for i, w := range want {
		if results[i].Found != w.found || results[i].Version != w.version {
			t.Errorf("result %d (%s) = %+v, want found=%v version=%q", i, results[i].Prerequisite.Name, results[i], w.found, w.version)
		}
	}
	if err := MissingRequired(results); err != nil {
		t.Errorf("only optional jupyter is missing: %v", err)
	}

	var script string
	for _, call := range mock.GetCalls() {
		if len(call.Args) == 2 && call.Args[0] == "-c" {
			script = call.Args[1]
		}
	}
	if !strings.Contains(script, "import waldiez as m") {
		t.Errorf("import probe = %q", script)
	}
}

func TestChecker_ModuleNotImportable(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddPath("python3", "/usr/bin/python3")
	mock.AddPrefixMatch("/usr/bin/python3", []string{"-c"}, pexec.MockResponse{Err: errors.New("exit status 1: ModuleNotFoundError: No module named 'waldiez'")})
	c := NewCheckerWithExecutor(mock)

	err := c.ValidateRequired(DefaultPrerequisites("python3", true))
	if err == nil || !strings.Contains(err.Error(), "waldiez (waldiez python package)") {
		t.Errorf("ValidateRequired error = %v", err)
	}
	if err := c.ValidateRequired(DefaultPrerequisites("python3", false)); err != nil {
		t.Errorf("nothing is required with a remote kernel: %v", err)
	}
}

func TestCheckAll(t *testing.T) {
	prereqs := []Prerequisite{
		{Name: "echo", Required: true, Description: "Echo"},
		{Name: "fake-cmd-xyz", Required: false, Description: "Fake"},
	}

	results := CheckAll(prereqs)

	if len(results) != len(prereqs) {
		t.Errorf("CheckAll returned %d results, want %d", len(results), len(prereqs))
	}

	// First should be found, second should not
	if !results[0].Found {
		t.Skip("echo not found, skipping")
	}

	if results[1].Found {
		t.Error("Fake command should not be found")
	}
}

func TestValidateRequired_MissingRequired(t *testing.T) {
	prereqs := []Prerequisite{
		{Name: "echo", Required: true, Description: "Echo"},
		{Name: "fake-required-cmd-xyz", Required: true, Description: "Fake required", InstallURL: "http://example.com"},
	}

	err := ValidateRequired(prereqs)
	if err == nil {
		t.Fatal("ValidateRequired should return error when required command is missing")
	}

	// Error should mention the missing command
	if !strings.Contains(err.Error(), "fake-required-cmd-xyz") {
		t.Errorf("Error should mention missing command: %v", err)
	}
}

func TestValidateRequired_OptionalMissing(t *testing.T) {
	prereqs := []Prerequisite{
		{Name: "echo", Required: true, Description: "Echo"},
		{Name: "fake-optional-cmd-xyz", Required: false, Description: "Fake optional"},
	}

	// Check if echo exists first
	result := Check(prereqs[0])
	if !result.Found {
		t.Skip("echo not found, skipping")
	}

	err := ValidateRequired(prereqs)
	if err != nil {
		t.Errorf("ValidateRequired should not error when only optional commands are missing: %v", err)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Python 3.12.1\n", "Python 3.12.1"},
		{"  0.6.0  \nextra\n", "0.6.0"},
		{"", ""},
		{strings.Repeat("x", 120), strings.Repeat("x", 100) + "..."},
	}
	for _, tt := range tests {
		if got := firstLine([]byte(tt.in)); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCheckResults(t *testing.T) {
	results := []CheckResult{
		{
			Prerequisite: Prerequisite{Name: "found-cmd", Required: true, Description: "Found command"},
			Found:        true,
			Path:         "/usr/bin/found-cmd",
			Version:      "1.0.0",
		},
		{
			Prerequisite: Prerequisite{Name: "missing-required", Required: true, Description: "Missing required"},
			Found:        false,
		},
		{
			Prerequisite: Prerequisite{Name: "missing-optional", Required: false, Description: "Missing optional"},
			Found:        false,
		},
	}

	output := FormatCheckResults(results)

	for _, want := range []string{"Prerequisites", "found-cmd (1.0.0)", "✓", "✗ missing-required [REQUIRED]", "○ missing-optional [optional]"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestFormatCheckResults_Empty(t *testing.T) {
	output := FormatCheckResults([]CheckResult{})

	if !strings.Contains(output, "Prerequisites") {
		t.Error("Empty results should still contain header")
	}
}
