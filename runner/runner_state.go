package runner

import (
	"log/slog"
	"strings"

	"github.com/waldiez/jupyter-runner/kernel"
)

// Session is the state of one run. All fields are protected by the Base's
// mutex; callers only ever see copies returned by Base.Session.
type Session struct {
	ID                 string        // run id, empty while idle
	Running            bool          // execution submitted and not finished
	RequestID          string        // id of the input request being answered
	InputRequest       *InputRequest // pending stdin request
	ExpectingUserInput bool          // an input request is outstanding
	UploadsRoot        string        // uploads dir passed to the flow

	future  kernel.Future
	log     *slog.Logger
	partial strings.Builder // stdout text after the last newline
}

// snapshot returns a copy safe to hand out.
func (s *Session) snapshot() Session {
	out := Session{
		ID:                 s.ID,
		Running:            s.Running,
		RequestID:          s.RequestID,
		ExpectingUserInput: s.ExpectingUserInput,
		UploadsRoot:        s.UploadsRoot,
	}
	if s.InputRequest != nil {
		req := *s.InputRequest
		out.InputRequest = &req
	}
	return out
}

// takeLines appends text to the partial line buffer and returns every
// complete line, newline included.
func (s *Session) takeLines(text string) []string {
	s.partial.WriteString(text)
	buffered := s.partial.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return nil
	}
	s.partial.Reset()
	s.partial.WriteString(buffered[idx+1:])
	return strings.SplitAfter(buffered[:idx+1], "\n")[:strings.Count(buffered[:idx+1], "\n")]
}

// flushPartial returns and clears any buffered text without a newline.
func (s *Session) flushPartial() string {
	rest := s.partial.String()
	s.partial.Reset()
	return rest
}
