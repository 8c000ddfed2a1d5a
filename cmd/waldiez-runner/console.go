package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/waldiez/jupyter-runner/runner"
)

// console renders runner state to a terminal, printing each message once.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	shown    int
	prompted string // request id of the last prompt printed
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// printMessages prints the messages not printed yet. A shorter history
// means a new run started.
func (c *console) printMessages(msgs []runner.Message) {
	if len(msgs) < c.shown {
		c.shown = 0
	}
	for _, m := range msgs[c.shown:] {
		fmt.Fprintln(c.out, formatMessage(m))
	}
	c.shown = len(msgs)
}

func (c *console) promptFor(id, prompt string, password bool) {
	if id == c.prompted {
		return
	}
	c.prompted = id
	if prompt == "" || strings.HasPrefix(strings.TrimSpace(prompt), "{") {
		prompt = "> "
	}
	if password {
		prompt += "(input is visible) "
	}
	fmt.Fprint(c.out, prompt)
}

func formatMessage(m runner.Message) string {
	switch {
	case m.ID == runner.WorkflowEndID:
		return "== Workflow " + m.Content
	case m.Type == runner.MessageError:
		return "!! " + m.Content
	case m.IsInputRequest():
		return "?? " + m.Content
	}

	var who string
	switch {
	case m.Sender != "" && m.Recipient != "":
		who = m.Sender + " -> " + m.Recipient
	case m.Sender != "":
		who = m.Sender
	}
	prefix := ""
	if m.Type != runner.MessageText {
		prefix = "[" + m.Type + "] "
	}
	if who == "" {
		return prefix + m.Content
	}
	return prefix + who + ": " + m.Content
}

// standardConsole renders a standard run from its update patches.
type standardConsole struct {
	*console
	view runner.View
}

func newStandardConsole(out io.Writer) *standardConsole {
	return &standardConsole{console: newConsole(out)}
}

func (c *standardConsole) update(u runner.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.view.Apply(u)
	if u.Has(runner.FieldMessages) {
		c.printMessages(c.view.Messages)
	}
	if u.Has(runner.FieldTimeline) && c.view.Timeline != nil {
		tl := c.view.Timeline
		fmt.Fprintf(c.out, "-- timeline: %d events, %d cost entries, %d agents\n",
			len(tl.Timeline), len(tl.CostTimeline), len(tl.Agents))
	}
	if req := c.view.ActiveRequest; req != nil {
		c.promptFor(req.RequestID, req.Prompt, req.Password)
	}
}

// stepConsole renders a debug run from its view snapshots.
type stepConsole struct {
	*console
	last runner.StepView
}

func newStepConsole(out io.Writer) *stepConsole {
	return &stepConsole{console: newConsole(out)}
}

// debugHelp lists the control commands accepted at a debugger prompt.
const debugHelp = "[c]ontinue [s]tep [r]un [q]uit [i]nfo [h]elp [st]ats [ab|rb] <breakpoint> [lb] [cb] (empty line continues)"

func (c *stepConsole) update(v runner.StepView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printMessages(v.Messages)
	if v.CurrentEvent != nil && !bytes.Equal(v.CurrentEvent, c.last.CurrentEvent) {
		fmt.Fprintf(c.out, "-- event %d: %s\n", len(v.EventHistory), compact(v.CurrentEvent))
	}
	if v.Stats != nil && !bytes.Equal(v.Stats, c.last.Stats) {
		fmt.Fprintf(c.out, "-- stats: %s\n", compact(v.Stats))
	}
	if v.Help != nil && !bytes.Equal(v.Help, c.last.Help) {
		fmt.Fprintf(c.out, "-- help: %s\n", compact(v.Help))
	}
	if v.LastError != "" && v.LastError != c.last.LastError {
		fmt.Fprintf(c.out, "!! debugger: %s\n", v.LastError)
	}
	if !slices.Equal(v.Breakpoints, c.last.Breakpoints) {
		fmt.Fprintf(c.out, "-- breakpoints: [%s]\n", strings.Join(v.Breakpoints, ", "))
	}
	switch {
	case v.Pending != nil:
		if v.Pending.RequestID != c.prompted {
			fmt.Fprintln(c.out, debugHelp)
		}
		c.promptFor(v.Pending.RequestID, v.Pending.Prompt, false)
	case v.ActiveRequest != nil:
		c.promptFor(v.ActiveRequest.RequestID, v.ActiveRequest.Prompt, v.ActiveRequest.Password)
	}
	c.last = v
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
