package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/waldiez/jupyter-runner/paths"
)

// setupTestLogger creates a temp log file and initializes the logger with it.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()

	logPath := filepath.Join(t.TempDir(), "test-debug.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	t.Cleanup(Reset)
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestGet_StructuredLogging(t *testing.T) {
	logPath := setupTestLogger(t)

	Get().Info("flow submitted", "mode", "standard", "breakpoints", 2)

	content := readLog(t, logPath)
	for _, want := range []string{"flow submitted", "mode=standard", "breakpoints=2", "time="} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q, got:\n%s", want, content)
		}
	}
}

func TestPath(t *testing.T) {
	logPath := setupTestLogger(t)
	if got := Path(); got != logPath {
		t.Errorf("Path() = %q, want %q", got, logPath)
	}
}

func TestReset(t *testing.T) {
	tmpDir := t.TempDir()
	logPath1 := filepath.Join(tmpDir, "log1.log")
	if err := Init(logPath1); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	Get().Info("message to log1")

	Reset()

	logPath2 := filepath.Join(tmpDir, "log2.log")
	if err := Init(logPath2); err != nil {
		t.Fatalf("Failed to reinit logger: %v", err)
	}
	Get().Info("message to log2")
	Reset()

	content1 := readLog(t, logPath1)
	if !strings.Contains(content1, "message to log1") || strings.Contains(content1, "message to log2") {
		t.Errorf("log1 has unexpected content:\n%s", content1)
	}
	content2 := readLog(t, logPath2)
	if !strings.Contains(content2, "message to log2") || strings.Contains(content2, "message to log1") {
		t.Errorf("log2 has unexpected content:\n%s", content2)
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	logPath := setupTestLogger(t)

	SetDebug(false)
	Get().Debug("debug-filtered")
	Get().Info("info-visible")

	SetDebug(true)
	Get().Debug("debug-visible")
	SetDebug(false)

	content := readLog(t, logPath)
	if strings.Contains(content, "debug-filtered") {
		t.Error("Debug message should be filtered at Info level")
	}
	if !strings.Contains(content, "info-visible") {
		t.Error("Info message should be visible at Info level")
	}
	if !strings.Contains(content, "debug-visible") {
		t.Error("Debug message should be visible after SetDebug(true)")
	}
}

func TestWithSessionAndComponent(t *testing.T) {
	logPath := setupTestLogger(t)

	WithSession("session-xyz").Info("execution submitted")
	WithComponent("jupyter").Info("kernel started", "kernelID", "k-1")

	content := readLog(t, logPath)
	for _, want := range []string{"sessionID=session-xyz", "component=jupyter", "kernelID=k-1"} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q", want)
		}
	}
}

func TestLog_Concurrent(t *testing.T) {
	setupTestLogger(t)

	done := make(chan bool)
	for i := range 10 {
		go func(n int) {
			log := WithSession("concurrent")
			for j := range 100 {
				log.Debug("concurrent test", "goroutine", n, "iteration", j)
			}
			done <- true
		}(i)
	}
	for range 10 {
		<-done
	}
}

func TestClearLogs(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)

	Get().Info("default log entry")
	Close()

	streamPath, err := StreamLogPath("run-1")
	if err != nil {
		t.Fatalf("StreamLogPath: %v", err)
	}
	if err := os.WriteFile(streamPath, []byte("chunk\n"), 0644); err != nil {
		t.Fatal(err)
	}

	count, err := ClearLogs()
	if err != nil {
		t.Fatalf("ClearLogs: %v", err)
	}
	if count != 2 {
		t.Errorf("ClearLogs removed %d files, want 2", count)
	}
	if _, err := os.Stat(streamPath); !os.IsNotExist(err) {
		t.Error("stream log should be removed")
	}
}
