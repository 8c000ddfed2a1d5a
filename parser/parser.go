// Package parser holds the pure text helpers used on raw kernel output:
// terminal escape stripping, input request id extraction, log entry
// normalization and workflow termination detection.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// WorkflowSentinel marks the human readable banners the flow prints when it
// stops ("<Waldiez> - Workflow finished", "... stopped", ...).
const WorkflowSentinel = "<Waldiez> - Workflow "

// CSI sequences, OSC sequences (BEL or ST terminated) and two byte escapes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal control escape sequences from s.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

var inputRequestTypePattern = regexp.MustCompile(
	`(?:"type"|'type'|\btype)\s*[:=]\s*(?:"(?:debug_)?input_request"|'(?:debug_)?input_request')`)

var requestIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"request_id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`'request_id'\s*:\s*'([^']+)'`),
	regexp.MustCompile(`\brequest_id\s*[:=]\s*"([^"]+)"`),
	regexp.MustCompile(`\brequest_id\s*[:=]\s*'([^']+)'`),
	regexp.MustCompile(`["']request_id["']\s*:\s*["']([^"']+)["']`),
}

// ExtractRequestID returns the request_id of an input request found in text.
// Nothing is returned unless text also carries an input_request or
// debug_input_request type marker.
func ExtractRequestID(text string) (string, bool) {
	if !inputRequestTypePattern.MatchString(text) {
		return "", false
	}
	for _, re := range requestIDPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var timestampPattern = regexp.MustCompile(`(?i)^\s*\d{1,2}:\d{2}:\d{2}\s*[AP]M\s*`)

var manualUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\"`, `"`,
	`\'`, `'`,
	`\n`, "\n",
	`\t`, "\t",
)

// NormalizeLogEntry turns one raw log entry into display lines. JSON quoted
// entries are decoded, anything else is unescaped by hand. Lines are right
// trimmed, blank lines dropped and, with stripTimestamps, a leading
// "HH:MM:SS AM/PM" removed from each line.
func NormalizeLogEntry(entry string, stripTimestamps bool) []string {
	text := entry
	decoded := false
	if trimmed := strings.TrimSpace(entry); len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			text = s
			decoded = true
		}
	}
	if !decoded {
		text = manualUnescaper.Replace(text)
	}

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if stripTimestamps {
			line = timestampPattern.ReplaceAllString(line, "")
		}
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// DetectTermination reports whether raw carries a workflow end banner and
// returns its readable text. A JSON chunk with a string "data" field yields
// that field; otherwise the text after the sentinel is used with the first
// literal `\n` sequence removed.
func DetectTermination(raw string) (string, bool) {
	if !strings.Contains(raw, WorkflowSentinel) {
		return "", false
	}
	if text, ok := terminationData(raw); ok {
		return text, true
	}
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, WorkflowSentinel)
		if idx < 0 {
			continue
		}
		if text, ok := terminationData(line); ok {
			return text, true
		}
		text := line[idx+len(WorkflowSentinel):]
		text = strings.Replace(text, `\n`, "", 1)
		return strings.TrimSpace(text), true
	}
	// The sentinel has no newline in it, so some line always matches.
	return "", true
}

func terminationData(s string) (string, bool) {
	var payload struct {
		Data any `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &payload); err != nil {
		return "", false
	}
	data, ok := payload.Data.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}
