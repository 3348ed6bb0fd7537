package session

import "strings"

// State is the lifecycle position of a Session.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateEnded     State = "ended"
)

// EventKind classifies an inbound push channel event.
type EventKind string

const (
	EventOutput       EventKind = "output"
	EventProcessEnded EventKind = "processEnded"
	EventInputAck     EventKind = "inputAck"
)

// TerminationMarker is appended to the output when a process ends.
const TerminationMarker = "\nProcess finished"

const requestFailedPrefix = "request failed: "

// Event is one inbound push channel event tagged with its execution id.
type Event struct {
	Kind        EventKind
	ExecutionID string
	Payload     string
}

// Session is one run lifecycle bound to one editor instance. A Session is
// only touched by its Manager, under the Manager's lock.
type Session struct {
	owner       string
	executionID string
	output      strings.Builder
	state       State
	failure     string
	runs        uint64
}

func newSession(owner string) *Session {
	return &Session{owner: owner, state: StateIdle}
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	Owner       string `json:"owner"`
	ExecutionID string `json:"executionId,omitempty"`
	State       State  `json:"state"`
	Output      string `json:"output"`
	Failure     string `json:"failure,omitempty"`
	Runs        uint64 `json:"runs"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Owner:       s.owner,
		ExecutionID: s.executionID,
		State:       s.state,
		Output:      s.output.String(),
		Failure:     s.failure,
		Runs:        s.runs,
	}
}

// begin starts a new run, forgetting everything about the previous one.
func (s *Session) begin() {
	s.output.Reset()
	s.executionID = ""
	s.failure = ""
	s.state = StateStarting
	s.runs++
}

func (s *Session) stream(executionID string) {
	s.executionID = executionID
	s.state = StateStreaming
}

func (s *Session) finish(text string) {
	s.output.Reset()
	s.output.WriteString(text)
	s.state = StateEnded
}

func (s *Session) fail(reason string) {
	s.failure = reason
	s.finish(requestFailedPrefix + reason)
}

// accepts reports whether an event for executionID may mutate the session.
func (s *Session) accepts(executionID string) bool {
	return s.state == StateStreaming && s.executionID == executionID
}

// apply folds a matching event into the session and returns the text it
// appended.
func (s *Session) apply(ev Event) (string, bool) {
	if !s.accepts(ev.ExecutionID) {
		return "", false
	}
	switch ev.Kind {
	case EventOutput:
		s.output.WriteString(ev.Payload)
		return ev.Payload, true
	case EventProcessEnded:
		s.output.WriteString(TerminationMarker)
		s.state = StateEnded
		return TerminationMarker, true
	}
	return "", false
}

func (s *Session) echo(text string) string {
	line := text + "\n"
	s.output.WriteString(line)
	return line
}
