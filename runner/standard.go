package runner

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/waldiez/jupyter-runner/codegen"
	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/parser"
)

// Standard runs a flow to completion and accumulates its conversation:
// message history, user participants and the latest timeline.
//
// Lock order is Standard.mu then Base.mu. Callbacks run with no lock held.
type Standard struct {
	*Base

	now func() time.Time

	mu            sync.Mutex
	messages      []Message
	participants  []string
	timeline      *Timeline
	activeRequest *InputRequest
	onUpdate      func(Update)
}

// NewStandard creates a standard runner. A nil log uses the process logger.
func NewStandard(log *slog.Logger) *Standard {
	s := &Standard{now: time.Now}
	s.Base = NewBase(s, log)
	return s
}

// SetOnUpdate sets the update callback. Patches are delivered in order from
// the dispatch goroutine.
func (s *Standard) SetOnUpdate(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Run starts the flow at filePath in standard mode. All accumulated state
// is cleared first unless a run is already active, in which case nothing
// changes and ErrAlreadyRunning is returned.
func (s *Standard) Run(ctx context.Context, k kernel.Kernel, filePath string) error {
	if !s.IsRunning() {
		s.Reset()
	}
	return s.ExecuteFile(ctx, k, codegen.Request{FilePath: filePath, Mode: codegen.ModeStandard})
}

// Reset drops the current run and clears history, participants, timeline
// and the active request. The run number moves first, so a line of the old
// run still in flight cannot land in the cleared state.
func (s *Standard) Reset() {
	s.Base.Reset()
	s.mu.Lock()
	s.messages = nil
	s.participants = nil
	s.timeline = nil
	s.activeRequest = nil
	s.mu.Unlock()
}

// Messages returns a copy of the message history.
func (s *Standard) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// UserParticipants returns the user participant names in order of first
// appearance.
func (s *Standard) UserParticipants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants)
}

// Timeline returns the latest timeline, or nil.
func (s *Standard) Timeline() *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// ActiveRequest returns the pending input request shown to the user, or nil.
func (s *Standard) ActiveRequest() *InputRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRequest
}

// OnStdin records req as the active request of the current run and
// publishes it.
func (s *Standard) OnStdin(req InputRequest) {
	s.HandleStdin(s.CurrentRun(), req)
}

// HandleStdin is OnStdin for run.
func (s *Standard) HandleStdin(run uint64, req InputRequest) {
	s.mu.Lock()
	if !s.IsCurrentRun(run) {
		s.mu.Unlock()
		return
	}
	s.activeRequest = &req
	onUpdate := s.onUpdate
	s.mu.Unlock()
	if onUpdate != nil {
		onUpdate(Update{Fields: FieldActiveRequest, ActiveRequest: &req})
	}
}

// ProcessMessage handles one stdout chunk of the current run. A chunk can
// carry a structured event, a workflow end banner, both, or neither.
func (s *Standard) ProcessMessage(raw string) {
	s.HandleOutput(s.CurrentRun(), raw)
}

// HandleOutput is ProcessMessage for run. Chunks of a run that is no longer
// current, or no longer running, are dropped.
func (s *Standard) HandleOutput(run uint64, raw string) {
	now := s.now()
	res, ok := parseChunk(raw, now)

	var updates []Update
	ended := false

	s.mu.Lock()
	if !s.runActive(run) {
		s.mu.Unlock()
		return
	}
	if !ok {
		if text, found := parser.DetectTermination(raw); found {
			s.messages = append(s.messages, terminationMessage(text, now))
			s.activeRequest = nil
			updates = append(updates, Update{
				Fields:   FieldMessages | FieldActiveRequest,
				Messages: slices.Clone(s.messages),
			})
			ended = true
		}
		s.finish(run, updates, ended)
		return
	}

	if res.Timeline != nil {
		s.timeline = res.Timeline
		s.setExpecting(run, false)
		s.activeRequest = nil
		updates = append(updates, Update{
			Fields:       FieldMessages | FieldParticipants | FieldTimeline | FieldActiveRequest,
			Messages:     slices.Clone(s.messages),
			Participants: slices.Clone(s.participants),
			Timeline:     s.timeline,
		})
		s.finish(run, updates, false)
		return
	}

	if s.ExpectingUserInput() && res.Message != nil && res.Message.Type == MessageText && res.Message.Sender != "" {
		s.setExpecting(run, false)
	}

	if len(res.Participants) > 0 {
		s.addUserParticipants(res.Participants)
		s.timeline = nil
		s.activeRequest = nil
		updates = append(updates, Update{
			Fields:       FieldParticipants | FieldTimeline | FieldActiveRequest,
			Participants: slices.Clone(s.participants),
		})
	}

	if res.Message != nil && res.Message.IsInputRequest() && res.RequestID != "" {
		s.setRequestID(run, res.RequestID)
		s.setExpecting(run, true)
	}

	if res.Message != nil {
		s.messages = append(s.messages, *res.Message)
		u := Update{Fields: FieldMessages, Messages: slices.Clone(s.messages)}
		if !s.ExpectingUserInput() {
			s.activeRequest = nil
			u.Fields |= FieldActiveRequest
		}
		updates = append(updates, u)
	}

	if text, found := parser.DetectTermination(raw); found {
		s.messages = append(s.messages, terminationMessage(text, now))
		s.setExpecting(run, false)
		s.activeRequest = nil
		res.WorkflowEnd = true
		updates = append(updates, Update{
			Fields:   FieldMessages | FieldActiveRequest,
			Messages: slices.Clone(s.messages),
		})
		ended = true
	}
	s.finish(run, updates, ended)
}

// finish releases s.mu, publishes updates and ends run if asked.
func (s *Standard) finish(run uint64, updates []Update, ended bool) {
	onUpdate := s.onUpdate
	s.mu.Unlock()
	if onUpdate != nil {
		for _, u := range updates {
			onUpdate(u)
		}
	}
	if ended {
		s.endRun(run)
	}
}

func (s *Standard) addUserParticipants(list []Participant) {
	for _, p := range list {
		if !p.IsUser || p.Name == "" || slices.Contains(s.participants, p.Name) {
			continue
		}
		s.participants = append(s.participants, p.Name)
	}
}
