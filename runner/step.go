package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waldiez/jupyter-runner/codegen"
	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/parser"
)

// MaxEventHistory bounds StepView.EventHistory.
const MaxEventHistory = 200

// ControlAction is a debugger command answering a debug input request.
type ControlAction string

const (
	ActionContinue         ControlAction = "continue"
	ActionStep             ControlAction = "step"
	ActionRun              ControlAction = "run"
	ActionQuit             ControlAction = "quit"
	ActionInfo             ControlAction = "info"
	ActionHelp             ControlAction = "help"
	ActionStats            ControlAction = "stats"
	ActionAddBreakpoint    ControlAction = "add_breakpoint"
	ActionRemoveBreakpoint ControlAction = "remove_breakpoint"
	ActionListBreakpoints  ControlAction = "list_breakpoints"
	ActionClearBreakpoints ControlAction = "clear_breakpoints"
)

var controlCodes = map[ControlAction]string{
	ActionContinue:         "c",
	ActionStep:             "s",
	ActionRun:              "r",
	ActionQuit:             "q",
	ActionInfo:             "i",
	ActionHelp:             "h",
	ActionStats:            "st",
	ActionAddBreakpoint:    "ab",
	ActionRemoveBreakpoint: "rb",
	ActionListBreakpoints:  "lb",
	ActionClearBreakpoints: "cb",
}

// ParseControlAction maps a command name or its short code to an action.
func ParseControlAction(s string) (ControlAction, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := controlCodes[ControlAction(s)]; ok {
		return ControlAction(s), true
	}
	for action, code := range controlCodes {
		if code == s {
			return action, true
		}
	}
	return "", false
}

// ControlResponse builds the stdin reply carrying action for the debug
// input request requestID. Breakpoint actions take the breakpoint as args.
func ControlResponse(requestID string, action ControlAction, args ...string) (string, error) {
	code, ok := controlCodes[action]
	if !ok {
		return "", fmt.Errorf("unknown control action %q", action)
	}
	if len(args) > 0 {
		code += " " + strings.Join(args, " ")
	}
	data, err := json.Marshal(struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
		Data      string `json:"data"`
	}{"debug_input_response", requestID, code})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DebugRequest is a debugger prompt waiting for a control command.
type DebugRequest struct {
	RequestID string
	Prompt    string
}

// StepView is the state published by the step runner. Every published
// value is a snapshot the runner never mutates again.
type StepView struct {
	Messages      []Message
	Participants  []string
	Timeline      *Timeline
	ActiveRequest *InputRequest // user input pending on stdin
	Pending       *DebugRequest // debugger waiting for a command
	CurrentEvent  json.RawMessage
	EventHistory  []json.RawMessage
	Stats         json.RawMessage
	Help          json.RawMessage
	Breakpoints   []string
	LastError     string
	Ended         bool
}

func (v *StepView) clone() StepView {
	out := *v
	out.Messages = slices.Clone(v.Messages)
	out.Participants = slices.Clone(v.Participants)
	out.EventHistory = slices.Clone(v.EventHistory)
	out.Breakpoints = slices.Clone(v.Breakpoints)
	return out
}

// Step runs a flow in debug mode, pausing at events and breakpoints for
// control commands.
type Step struct {
	*Base

	now func() time.Time

	mu       sync.Mutex
	view     StepView
	onUpdate func(StepView)
}

// NewStep creates a step runner. A nil log uses the process logger.
func NewStep(log *slog.Logger) *Step {
	s := &Step{now: time.Now}
	s.Base = NewBase(s, log)
	return s
}

// SetOnUpdate sets the callback receiving a StepView after every change.
func (s *Step) SetOnUpdate(fn func(StepView)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// View returns the current state.
func (s *Step) View() StepView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.clone()
}

// ExecuteStepByStep starts the flow at filePath in debug mode. Unless a run
// is already active, all state is cleared first.
func (s *Step) ExecuteStepByStep(ctx context.Context, k kernel.Kernel, filePath string, breakpoints []string, checkpoint *string) error {
	if !s.IsRunning() {
		s.Reset()
		s.mu.Lock()
		s.view.Breakpoints = slices.Clone(breakpoints)
		s.mu.Unlock()
	}
	return s.ExecuteFile(ctx, k, codegen.Request{
		FilePath:    filePath,
		Mode:        codegen.ModeDebug,
		Breakpoints: breakpoints,
		Checkpoint:  checkpoint,
	})
}

// Reset drops the current run and clears all debug state. The run number
// moves before the state is cleared.
func (s *Step) Reset() {
	s.Base.Reset()
	s.mu.Lock()
	s.view = StepView{}
	s.mu.Unlock()
}

// OnStdin records req as the active request unless the debugger is the
// one asking.
func (s *Step) OnStdin(req InputRequest) {
	s.HandleStdin(s.CurrentRun(), req)
}

// HandleStdin is OnStdin for run.
func (s *Step) HandleStdin(run uint64, req InputRequest) {
	s.mu.Lock()
	if !s.IsCurrentRun(run) || (s.view.Pending != nil && s.view.Pending.RequestID == req.RequestID) {
		s.mu.Unlock()
		return
	}
	s.view.ActiveRequest = &req
	s.publish(run, false)
}

// ProcessMessage handles one stdout chunk of the current run.
func (s *Step) ProcessMessage(raw string) {
	s.HandleOutput(s.CurrentRun(), raw)
}

// HandleOutput is ProcessMessage for run.
func (s *Step) HandleOutput(run uint64, raw string) {
	now := s.now()
	res, ok := parseChunk(raw, now)

	s.mu.Lock()
	if !s.runActive(run) {
		s.mu.Unlock()
		return
	}
	changed := false
	if ok {
		if res.Debug != nil {
			changed = s.applyDebug(run, res)
		} else {
			changed = s.applyConversation(run, res)
		}
	}
	ended := false
	if text, found := parser.DetectTermination(raw); found {
		s.view.Messages = append(s.view.Messages, terminationMessage(text, now))
		s.view.ActiveRequest = nil
		s.view.Pending = nil
		s.view.Ended = true
		s.setExpecting(run, false)
		changed, ended = true, true
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.publish(run, ended)
}

// publish releases s.mu, hands a snapshot to the update callback and ends
// run if asked.
func (s *Step) publish(run uint64, ended bool) {
	snapshot := s.view.clone()
	onUpdate := s.onUpdate
	s.mu.Unlock()
	if onUpdate != nil {
		onUpdate(snapshot)
	}
	if ended {
		s.endRun(run)
	}
}

func (s *Step) applyDebug(run uint64, res *parsedChunk) bool {
	d := res.Debug
	if d.Type != MessageDebugInputRequest {
		s.view.Pending = nil
	}
	switch d.Type {
	case MessageDebugInputRequest:
		prompt := ""
		if res.Message != nil {
			prompt = res.Message.Prompt
		}
		s.view.Pending = &DebugRequest{RequestID: res.RequestID, Prompt: prompt}
		if res.RequestID != "" {
			s.setRequestID(run, res.RequestID)
			s.setExpecting(run, true)
		}
	case "debug_event_info":
		s.view.CurrentEvent = d.Event
		s.view.EventHistory = append(s.view.EventHistory, d.Event)
		if n := len(s.view.EventHistory); n > MaxEventHistory {
			s.view.EventHistory = slices.Clone(s.view.EventHistory[n-MaxEventHistory:])
		}
	case "debug_stats":
		s.view.Stats = d.Stats
	case "debug_help":
		s.view.Help = d.Help
	case "debug_error":
		s.view.LastError = firstNonEmpty(d.Error, d.Content)
	case "debug_print":
		if d.Content == "" {
			return false
		}
		s.view.Messages = append(s.view.Messages, Message{
			ID:        uuid.New().String(),
			Type:      d.Type,
			Timestamp: s.now().UTC().Format(time.RFC3339Nano),
			Content:   d.Content,
		})
	case "debug_breakpoints_list":
		s.view.Breakpoints = slices.Clone(d.Breakpoints)
	case "debug_breakpoint_added":
		if d.Breakpoint != "" && !slices.Contains(s.view.Breakpoints, d.Breakpoint) {
			s.view.Breakpoints = append(s.view.Breakpoints, d.Breakpoint)
		}
	case "debug_breakpoint_removed":
		s.view.Breakpoints = slices.DeleteFunc(slices.Clone(s.view.Breakpoints), func(bp string) bool {
			return bp == d.Breakpoint
		})
	case "debug_breakpoint_cleared":
		s.view.Breakpoints = nil
	default:
		return false
	}
	return true
}

func (s *Step) applyConversation(run uint64, res *parsedChunk) bool {
	changed := false
	if res.Timeline != nil {
		s.view.Timeline = res.Timeline
		changed = true
	}
	if s.ExpectingUserInput() && res.Message != nil && res.Message.Type == MessageText && res.Message.Sender != "" {
		s.setExpecting(run, false)
		s.view.ActiveRequest = nil
	}
	if len(res.Participants) > 0 {
		for _, p := range res.Participants {
			if p.IsUser && p.Name != "" && !slices.Contains(s.view.Participants, p.Name) {
				s.view.Participants = append(s.view.Participants, p.Name)
			}
		}
		s.view.Timeline = nil
		changed = true
	}
	if res.Message != nil {
		if res.Message.IsInputRequest() && res.RequestID != "" {
			s.setRequestID(run, res.RequestID)
			s.setExpecting(run, true)
		}
		s.view.Messages = append(s.view.Messages, *res.Message)
		changed = true
	}
	return changed
}
