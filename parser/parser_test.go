package parser

import (
	"slices"
	"testing"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"color codes", "\x1b[31mred\x1b[0m text", "red text"},
		{"bold and multi params", "\x1b[1;32;40mok\x1b[m", "ok"},
		{"cursor movement", "a\x1b[2Kb\x1b[1A", "ab"},
		{"osc title bel", "\x1b]0;title\x07body", "body"},
		{"osc hyperlink st", "\x1b]8;;http://x\x1b\\link\x1b]8;;\x1b\\", "link"},
		{"two byte escape", "x\x1bMy", "xy"},
		{"keeps brackets", "[INFO] {\"a\": [1]}", "[INFO] {\"a\": [1]}"},
		{"keeps unicode", "\x1b[33m✓ done\x1b[0m", "✓ done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractRequestID(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{
			name:   "json double quotes",
			text:   `{"type": "input_request", "request_id": "abc-123", "prompt": "> "}`,
			want:   "abc-123",
			wantOK: true,
		},
		{
			name:   "python dict single quotes",
			text:   `{'type': 'input_request', 'request_id': 'req-9', 'prompt': '> '}`,
			want:   "req-9",
			wantOK: true,
		},
		{
			name:   "unquoted key double quoted value",
			text:   `type="debug_input_request" request_id="dbg-1"`,
			want:   "dbg-1",
			wantOK: true,
		},
		{
			name:   "unquoted key single quoted value",
			text:   `type='input_request', request_id='r-42'`,
			want:   "r-42",
			wantOK: true,
		},
		{
			name:   "debug marker json",
			text:   `{"request_id":"d-7","type":"debug_input_request"}`,
			want:   "d-7",
			wantOK: true,
		},
		{
			name:   "mixed quoting",
			text:   `{"type": "input_request", "request_id": 'mixed-1'}`,
			want:   "mixed-1",
			wantOK: true,
		},
		{
			name:   "request id without marker",
			text:   `{"type": "text", "request_id": "abc-123"}`,
			wantOK: false,
		},
		{
			name:   "marker only as content",
			text:   `{"type": "print", "data": "input_request", "request_id": "x"}`,
			wantOK: false,
		},
		{
			name:   "marker without request id",
			text:   `{"type": "input_request", "prompt": "> "}`,
			wantOK: false,
		},
		{
			name:   "plain text",
			text:   "Enter your name:",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractRequestID(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ExtractRequestID ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractRequestID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeLogEntry(t *testing.T) {
	tests := []struct {
		name            string
		entry           string
		stripTimestamps bool
		want            []string
	}{
		{
			name:  "json quoted string",
			entry: `"line one\nline two\n\n"`,
			want:  []string{"line one", "line two"},
		},
		{
			name:  "manual unescape",
			entry: `say \"hi\"\n\tindented  \nC:\\path`,
			want:  []string{`say "hi"`, "\tindented", `C:\path`},
		},
		{
			name:  "escaped backslash before n stays literal",
			entry: `a\\nb`,
			want:  []string{`a\nb`},
		},
		{
			name:  "real newlines and blank lines",
			entry: "first   \r\n\r\n   \nsecond\t",
			want:  []string{"first", "second"},
		},
		{
			name:            "strip timestamps",
			entry:           "10:04:05 AM starting flow\n9:00:00 pm done",
			stripTimestamps: true,
			want:            []string{"starting flow", "done"},
		},
		{
			name:  "timestamps kept when not asked",
			entry: "10:04:05 AM starting flow",
			want:  []string{"10:04:05 AM starting flow"},
		},
		{
			name:  "invalid json quoted falls back",
			entry: `"broken \q"`,
			want:  []string{`"broken \q"`},
		},
		{
			name:  "empty",
			entry: "   ",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeLogEntry(tt.entry, tt.stripTimestamps)
			if !slices.Equal(got, tt.want) {
				t.Errorf("NormalizeLogEntry(%q) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestDetectTermination(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "json data field",
			raw:    `{"type": "print", "data": "<Waldiez> - Workflow finished\n"}`,
			want:   "<Waldiez> - Workflow finished",
			wantOK: true,
		},
		{
			name:   "plain banner",
			raw:    "<Waldiez> - Workflow finished",
			want:   "finished",
			wantOK: true,
		},
		{
			name:   "literal newline sequence removed",
			raw:    `<Waldiez> - Workflow stopped by user\n`,
			want:   "stopped by user",
			wantOK: true,
		},
		{
			name:   "banner after other output",
			raw:    "{\"type\":\"text\",\"content\":\"hi\"}\n<Waldiez> - Workflow finished",
			want:   "finished",
			wantOK: true,
		},
		{
			name:   "non string data falls back",
			raw:    `{"data": 1, "note": "<Waldiez> - Workflow done"}`,
			want:   `done"}`,
			wantOK: true,
		},
		{
			name:   "no sentinel",
			raw:    `{"type": "print", "data": "Workflow finished"}`,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectTermination(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("DetectTermination ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("DetectTermination = %q, want %q", got, tt.want)
			}
		})
	}
}
