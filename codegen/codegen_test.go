package codegen

import (
	"strings"
	"testing"
)

func TestUploadsRoot(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"absolute posix file", "/a/b/c.txt", "/a/b/uploads"},
		{"relative posix file", "a/b/c.waldiez", "a/b/uploads"},
		{"bare filename", "c.txt", "./uploads"},
		{"empty", "", "./uploads"},
		{"root only", "/", "/uploads"},
		{"file at root", "/c.txt", "/uploads"},
		{"trailing separator", "/a/b/", "/a/b/uploads"},
		{"windows file", `C:\flows\demo.waldiez`, `C:\flows\uploads`},
		{"windows trailing separator", `C:\flows\`, `C:\flows\uploads`},
		{"windows drive root", `C:\`, `C:\uploads`},
		{"backslash root only", `\`, `\uploads`},
		{"unc path", `\\server\share\demo.waldiez`, `\\server\share\uploads`},
		{"mixed, last is backslash", `C:/flows\demo.waldiez`, `C:/flows\uploads`},
		{"mixed, last is slash", `C:\flows/demo.waldiez`, `C:\flows/uploads`},
		{"query string", "/a/b/c.txt?x=1", "/a/b/uploads"},
		{"fragment", "/a/b/c.txt#top", "/a/b/uploads"},
		{"query with slash", "/a/b/c.txt?next=/x/y", "/a/b/uploads"},
		{"dot relative", "./c.txt", "./uploads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UploadsRoot(tt.path); got != tt.want {
				t.Errorf("UploadsRoot(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestGenerate_Standard(t *testing.T) {
	code := Generate(Request{FilePath: "/flows/demo.waldiez", Mode: ModeStandard})

	for _, want := range []string{
		"from waldiez import WaldiezRunner",
		`file_path = Path("/flows/demo.waldiez")`,
		`uploads_root = Path("/flows/uploads")`,
		"breakpoints = []\n",
		"checkpoint = None\n",
		`mode="standard"`,
		`dot_env_path = file_path.parent / ".env"`,
		`dot_env_path = Path.cwd() / ".env"`,
		"runner.run(uploads_root=uploads_root, structured_io=True, dot_env=dot_env_path)",
		"runner.run(uploads_root=uploads_root, structured_io=True)\n",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q:\n%s", want, code)
		}
	}
}

func TestGenerate_DefaultsToStandardMode(t *testing.T) {
	code := Generate(Request{FilePath: "demo.waldiez"})
	if !strings.Contains(code, `mode="standard"`) {
		t.Errorf("empty mode should generate standard:\n%s", code)
	}
	if !strings.Contains(code, `uploads_root = Path("./uploads")`) {
		t.Errorf("bare filename should use ./uploads:\n%s", code)
	}
}

func TestGenerate_DebugWithBreakpointsAndCheckpoint(t *testing.T) {
	checkpoint := "2025-01-01_12-00-00"
	code := Generate(Request{
		FilePath:    `C:\flows\demo.waldiez`,
		Mode:        ModeDebug,
		Breakpoints: []string{"event:group_chat", "agent:assistant"},
		Checkpoint:  &checkpoint,
	})

	for _, want := range []string{
		`file_path = Path("C:\\flows\\demo.waldiez")`,
		`uploads_root = Path("C:\\flows\\uploads")`,
		`breakpoints = ["event:group_chat", "agent:assistant"]` + "\n",
		`checkpoint = "2025-01-01_12-00-00"`,
		`mode="debug"`,
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q:\n%s", want, code)
		}
	}
}

func TestGenerate_SingleBreakpointHasNoTrailingSeparator(t *testing.T) {
	code := Generate(Request{FilePath: "/f.waldiez", Mode: ModeDebug, Breakpoints: []string{"a"}})
	if !strings.Contains(code, `breakpoints = ["a"]`+"\n") {
		t.Errorf("unexpected breakpoint list:\n%s", code)
	}
}

func TestGenerate_QuotesHostileInput(t *testing.T) {
	code := Generate(Request{FilePath: "/tmp/we\"ird\nname.waldiez", Breakpoints: []string{`x"y`}})
	if !strings.Contains(code, `Path("/tmp/we\"ird\nname.waldiez")`) {
		t.Errorf("file path not escaped:\n%s", code)
	}
	if !strings.Contains(code, `["x\"y"]`) {
		t.Errorf("breakpoint not escaped:\n%s", code)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	req := Request{FilePath: "/a/b.waldiez", Mode: ModeDebug, Breakpoints: []string{"1", "2"}}
	if Generate(req) != Generate(req) {
		t.Error("Generate should be deterministic")
	}
}

func TestModeValid(t *testing.T) {
	if !ModeStandard.Valid() || !ModeDebug.Valid() {
		t.Error("known modes should be valid")
	}
	if Mode("turbo").Valid() {
		t.Error("unknown mode should be invalid")
	}
}
