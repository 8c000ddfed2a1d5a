package runner

import (
	"context"
	"slices"
	"testing"
)

func TestStandard_ChunkWithMessageAndBanner(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "text", "content": {"content": "done here", "sender": "assistant", "recipient": "user"}}` +
		"\n<Waldiez> - Workflow finished")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != MessageText || msgs[0].Content != "done here" || msgs[0].Sender != "assistant" || msgs[0].Recipient != "user" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].ID != WorkflowEndID || msgs[1].Type != MessageSystem || msgs[1].Content != "finished" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if s.IsRunning() {
		t.Error("run should stop on the banner")
	}
	if rec.endCount() != 1 {
		t.Errorf("session end fired %d times, want 1", rec.endCount())
	}

	last, _ := rec.lastUpdate()
	if !last.Has(FieldMessages) || !last.Has(FieldActiveRequest) || last.ActiveRequest != nil {
		t.Errorf("last update should carry history and clear the active request: %+v", last)
	}
}

func TestStandard_PlainBanner(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`<Waldiez> - Workflow stopped by user\n`)

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Content != "stopped by user" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %q", msgs[0].Timestamp)
	}
	if rec.endCount() != 1 || s.IsRunning() {
		t.Error("banner should end the session")
	}
}

func TestStandard_TimelineOverwrites(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "participants", "participants": [{"name": "A", "is_user": true}]}`)
	s.ProcessMessage(`{"type": "timeline", "content": {"timeline": [{"id": 1}], "cost_timeline": [], "summary": {"total": 1}, "agents": []}}`)
	s.ProcessMessage(`{"type": "timeline", "content": {"timeline": [{"id": 2}], "cost_timeline": [], "summary": {"total": 2}, "agents": []}}`)

	tl := s.Timeline()
	if tl == nil {
		t.Fatal("timeline should be stored")
	}
	if string(tl.Summary) != `{"total": 2}` || len(tl.Timeline) != 1 || string(tl.Timeline[0]) != `{"id": 2}` {
		t.Errorf("timeline = %+v, want the second snapshot only", tl)
	}
	if got := s.UserParticipants(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("participants = %v", got)
	}

	last, _ := rec.lastUpdate()
	want := FieldMessages | FieldParticipants | FieldTimeline | FieldActiveRequest
	if last.Fields != want || last.Timeline != tl {
		t.Errorf("timeline update = %+v", last)
	}
}

func TestStandard_TimelineInPrint(t *testing.T) {
	s, k, _ := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "print", "data": "{\"type\": \"timeline\", \"content\": {\"timeline\": [], \"cost_timeline\": [], \"agents\": [{\"name\": \"a\"}]}}"}`)
	if tl := s.Timeline(); tl == nil || len(tl.Agents) != 1 {
		t.Errorf("timeline = %+v", tl)
	}
}

func TestStandard_ParticipantAccumulation(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "timeline", "content": {"timeline": [], "cost_timeline": [], "agents": []}}`)
	s.ProcessMessage(`{"type": "participants", "participants": [{"name": "A", "is_user": true}]}`)
	if s.Timeline() != nil {
		t.Error("participants update should clear the timeline")
	}
	s.ProcessMessage(`{"participants": [{"name": "B", "isUser": true}, {"name": "A", "is_user": true}, {"name": "bot", "is_user": false}, {"name": "", "is_user": true}]}`)

	if got := s.UserParticipants(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("participants = %v, want [A B]", got)
	}
	last, _ := rec.lastUpdate()
	if last.Fields != FieldParticipants|FieldTimeline|FieldActiveRequest || last.Timeline != nil || last.ActiveRequest != nil {
		t.Errorf("participants update = %+v", last)
	}
	if len(s.Messages()) != 0 {
		t.Error("participants updates are not messages")
	}
}

func TestStandard_ParticipantsInPrint(t *testing.T) {
	s, k, _ := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "print", "data": "{\"participants\": [{\"name\": \"user\", \"is_user\": true}]}"}`)
	if got := s.UserParticipants(); !slices.Equal(got, []string{"user"}) {
		t.Errorf("participants = %v", got)
	}
}

func TestStandard_InputRoundTrip(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "input_request", "request_id": "r-1", "prompt": "> ", "password": "false"}`)
	sess := s.Session()
	if sess.RequestID != "r-1" || !sess.ExpectingUserInput {
		t.Fatalf("session = %+v", sess)
	}
	last, _ := rec.lastUpdate()
	if !last.Has(FieldMessages) || last.Has(FieldActiveRequest) {
		t.Errorf("update while awaiting input should keep the active request: %+v", last)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Type != MessageInputRequest || msgs[0].RequestID != "r-1" || msgs[0].Password {
		t.Errorf("messages = %+v", msgs)
	}

	// Messages without a sender do not answer the request.
	s.ProcessMessage(`{"type": "system", "content": "thinking"}`)
	if !s.ExpectingUserInput() {
		t.Error("content without sender should not clear awaiting input")
	}

	s.ProcessMessage(`{"type": "text", "content": "my answer", "sender": "user"}`)
	if s.ExpectingUserInput() {
		t.Error("text with sender should clear awaiting input")
	}
	last, _ = rec.lastUpdate()
	if !last.Has(FieldActiveRequest) || last.ActiveRequest != nil {
		t.Errorf("update after reply should clear the active request: %+v", last)
	}
	if got := len(s.Messages()); got != 3 {
		t.Errorf("got %d messages, want 3", got)
	}
}

func TestStandard_RequestIDFallback(t *testing.T) {
	s, k, _ := newStandard(t)
	startRun(t, s, k)

	// No request_id field; the id is recovered from the raw text.
	s.ProcessMessage(`{"type": "input_request", "prompt": "request_id='abc'"}`)
	if got := s.RequestID(); got != "abc" {
		t.Errorf("RequestID = %q, want abc", got)
	}
	if !s.ExpectingUserInput() {
		t.Error("input request should set awaiting input")
	}
}

func TestStandard_IgnoresNoise(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	for _, raw := range []string{
		"just some print output",
		`{"type": "print", "data": "plain print"}`,
		`{"type": "text", "content": `,
		`{"no_type": true}`,
		"\x1b[32mcolored log line\x1b[0m",
	} {
		s.ProcessMessage(raw)
	}
	if _, n := rec.lastUpdate(); n != 0 {
		t.Errorf("noise produced %d updates", n)
	}
	if len(s.Messages()) != 0 {
		t.Errorf("noise produced messages: %+v", s.Messages())
	}
	if !s.IsRunning() {
		t.Error("noise should not stop the run")
	}
}

func TestStandard_IgnoresWhenNotRunning(t *testing.T) {
	s := NewStandard(testLogger())
	s.ProcessMessage(`{"type": "text", "content": "late", "sender": "A"}`)
	s.ProcessMessage("<Waldiez> - Workflow finished")
	if len(s.Messages()) != 0 {
		t.Error("chunks should be ignored while idle")
	}
}

func TestStandard_HistorySnapshotsAreImmutable(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	s.ProcessMessage(`{"type": "text", "content": "one", "sender": "A"}`)
	first, _ := rec.lastUpdate()
	s.ProcessMessage(`{"type": "text", "content": "two", "sender": "A"}`)

	if len(first.Messages) != 1 || first.Messages[0].Content != "one" {
		t.Errorf("earlier snapshot changed: %+v", first.Messages)
	}
	got := s.Messages()
	got[0].Content = "mutated"
	if s.Messages()[0].Content != "one" {
		t.Error("Messages should return a copy")
	}
}

func TestStandard_RunClearsPreviousState(t *testing.T) {
	s, k, _ := newStandard(t)
	startRun(t, s, k)
	s.ProcessMessage(`{"type": "participants", "participants": [{"name": "A", "is_user": true}]}`)
	s.ProcessMessage(`{"type": "text", "content": "hi", "sender": "A"}`)
	s.ProcessMessage("<Waldiez> - Workflow finished")
	k.Finish("ok")
	waitFor(t, "completion", func() bool { return k.Disposed() == 1 })

	if len(s.Messages()) != 2 {
		t.Fatal("history should survive completion")
	}
	startRun(t, s, k)
	if len(s.Messages()) != 0 || len(s.UserParticipants()) != 0 || s.Timeline() != nil {
		t.Error("a new run should start from empty state")
	}
}

func TestStandard_DropsOutputOfReplacedRun(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)
	first := s.CurrentRun()

	// Lines of the first run read before the reset arrive after the next
	// run has started.
	s.Reset()
	startRun(t, s, k)
	if s.IsCurrentRun(first) {
		t.Fatal("a new run should get a new run number")
	}
	s.HandleOutput(first, `{"type": "text", "content": "stale", "sender": "A"}`)
	s.HandleOutput(first, `{"type": "participants", "participants": [{"name": "A", "is_user": true}]}`)
	s.HandleOutput(first, "<Waldiez> - Workflow finished")
	s.HandleStdin(first, InputRequest{RequestID: "old"})

	if len(s.Messages()) != 0 || len(s.UserParticipants()) != 0 || s.ActiveRequest() != nil {
		t.Errorf("replaced run leaked into the new one: messages=%+v participants=%v request=%+v",
			s.Messages(), s.UserParticipants(), s.ActiveRequest())
	}
	if !s.IsRunning() || rec.endCount() != 0 {
		t.Errorf("replaced run ended the new one: running=%v ends=%d", s.IsRunning(), rec.endCount())
	}

	s.ProcessMessage(`{"type": "text", "content": "fresh", "sender": "A"}`)
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestStandard_EndToEnd(t *testing.T) {
	s, k, rec := newStandard(t)
	startRun(t, s, k)

	k.Stdout(`{"type": "participants", "participants": [{"name": "user", "is_user": true}, {"name": "assistant", "is_user": false}]}` + "\n" +
		`{"type": "text", "content": {"content": "Hi", "sender": "assistant", "recipient": "user"}}` + "\n")
	k.Stdout(`{"type": "input_request", "request_id": "req-1", `)
	k.Stdout(`"prompt": "> "}` + "\n")
	k.InputRequest("", false)
	waitFor(t, "active request", func() bool { return s.ActiveRequest() != nil })

	req := s.ActiveRequest()
	if req.RequestID != "req-1" || req.Metadata["request_id"] != "req-1" {
		t.Fatalf("active request = %+v", req)
	}
	if err := k.SendInputReply(context.Background(), InputResponse(req.RequestID, "hello"), req.Metadata); err != nil {
		t.Fatal(err)
	}

	k.Stdout(`{"type": "text", "content": {"content": "hello", "sender": "user", "recipient": "assistant"}}` + "\n")
	k.Stdout("<Waldiez> - Workflow finished\n")
	k.Finish("ok")
	waitFor(t, "completion", func() bool { return k.Disposed() == 1 })

	if rec.endCount() != 1 {
		t.Errorf("session end fired %d times, want 1", rec.endCount())
	}
	view := rec.currentView()
	var contents []string
	for _, m := range view.Messages {
		contents = append(contents, m.Content)
	}
	if !slices.Equal(contents, []string{"Hi", "> ", "hello", "finished"}) {
		t.Errorf("view messages = %q", contents)
	}
	if !slices.Equal(view.Participants, []string{"user"}) {
		t.Errorf("view participants = %v", view.Participants)
	}
	if view.ActiveRequest != nil {
		t.Errorf("active request should be cleared, got %+v", view.ActiveRequest)
	}

	replies := k.InputReplies()
	if len(replies) != 1 || replies[0].Value != `{"type":"input_response","request_id":"req-1","data":"hello"}` {
		t.Errorf("input replies = %+v", replies)
	}
}
