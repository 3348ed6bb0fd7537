package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/caffeineduck/runlink/executor"
	"github.com/caffeineduck/runlink/pushchan"
)

var (
	ErrUnknownInstance = errors.New("unknown instance")
	ErrInstanceExists  = errors.New("instance already exists")
	ErrNotStreaming    = errors.New("session is not streaming")
	ErrSuperseded      = errors.New("run superseded")
	ErrClosed          = errors.New("manager closed")
)

// Starter issues the request/response call that starts an execution.
type Starter interface {
	Start(ctx context.Context, code string) (executor.Outcome, error)
}

// Channel is the part of the shared push channel the Manager uses.
type Channel interface {
	Subscribe(event string, h pushchan.Handler) func()
	OnConnect(fn func()) func()
	Associate(ctx context.Context, executionID string) error
	SendInput(ctx context.Context, executionID, text string) error
}

// Manager owns the sessions of every editor instance and routes push
// channel events to the session whose live execution id matches.
type Manager struct {
	exec Starter
	ch   Channel
	cfg  managerConfig

	mu       sync.Mutex
	sessions map[string]*Session
	retired  map[string]struct{}
	live     map[string]*Session
	starting int
	pending  []Event
	unsubs   []func()
	closed   bool
}

// NewManager subscribes to ch and registers the configured instances.
func NewManager(exec Starter, ch Channel, opts ...Option) (*Manager, error) {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		exec:     exec,
		ch:       ch,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		retired:  make(map[string]struct{}),
		live:     make(map[string]*Session),
	}

	for _, id := range cfg.instances {
		if err := m.Register(id); err != nil {
			return nil, err
		}
	}

	m.unsubs = append(m.unsubs,
		ch.Subscribe(pushchan.EventResponse, m.onResponse),
		ch.Subscribe(pushchan.EventProcessEnd, m.onProcessEnd),
		ch.OnConnect(m.reassociate),
	)
	if cfg.inputAckEvent != "" {
		m.unsubs = append(m.unsubs, ch.Subscribe(cfg.inputAckEvent, m.onInputAck))
	}
	return m, nil
}

// Register adds an Idle session for owner. Ids are never reused, even
// after Remove.
func (m *Manager) Register(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownInstance)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[owner]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, owner)
	}
	if _, ok := m.retired[owner]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, owner)
	}
	m.sessions[owner] = newSession(owner)
	return nil
}

// Remove discards owner's session. Late events for its runs are dropped.
func (m *Manager) Remove(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[owner]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, owner)
	}
	m.retireLocked(s)
	delete(m.sessions, owner)
	m.retired[owner] = struct{}{}
	m.trimPendingLocked()
	return nil
}

// Run starts a new execution of code for owner. Any previous run of owner
// is invalidated first. Request failures are recorded in the session's
// output rather than returned, and a failed processconnect is only logged.
// ErrSuperseded is returned when another Run or Remove for the same owner
// overtook this one.
func (m *Manager) Run(ctx context.Context, owner, code string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.sessions[owner]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, owner)
	}
	m.retireLocked(s)
	s.begin()
	run := s.runs
	m.starting++
	m.notifyLocked(Update{Owner: owner, State: StateStarting, Reset: true})
	m.mu.Unlock()

	outcome, err := m.exec.Start(ctx, code)

	m.mu.Lock()
	if m.sessions[owner] != s || s.runs != run {
		m.mu.Unlock()
		m.cfg.logger.Debug().Str("owner", owner).Uint64("run", run).Msg("dropping superseded run outcome")
		return ErrSuperseded
	}
	m.starting--

	if err == nil && outcome == nil {
		err = errors.New("no outcome")
	}

	var associate string
	if err != nil {
		m.cfg.logger.Warn().Err(err).Str("owner", owner).Msg("run request failed")
		s.fail(err.Error())
		m.notifyLocked(Update{Owner: owner, State: s.state, Chunk: s.output.String(), Reset: true})
	} else {
		switch o := outcome.(type) {
		case executor.Immediate:
			s.finish(o.Text())
			m.notifyLocked(Update{Owner: owner, State: s.state, Chunk: s.output.String(), Reset: true})
		case executor.Streaming:
			s.stream(o.ExecutionID)
			m.live[o.ExecutionID] = s
			m.notifyLocked(Update{Owner: owner, State: s.state})
			m.replayLocked(s)
			if s.state == StateStreaming {
				associate = o.ExecutionID
			}
		}
	}
	m.trimPendingLocked()
	m.mu.Unlock()

	if associate == "" {
		return nil
	}
	// The session stays live either way; the reconnect hook binds it again.
	if err := m.ch.Associate(ctx, associate); err != nil {
		m.cfg.logger.Warn().Err(err).Str("owner", owner).Str("execution_id", associate).Msg("associate failed, waiting for reconnect")
	}
	return nil
}

// SubmitInput forwards one line of input to owner's running process and
// echoes it into the output.
func (m *Manager) SubmitInput(ctx context.Context, owner, text string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.sessions[owner]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, owner)
	}
	if s.state != StateStreaming {
		state := s.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotStreaming, owner, state)
	}
	id, run := s.executionID, s.runs
	m.mu.Unlock()

	if err := m.ch.SendInput(ctx, id, text); err != nil {
		return fmt.Errorf("send input: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[owner] == s && s.runs == run && s.accepts(id) {
		chunk := s.echo(text)
		m.notifyLocked(Update{Owner: owner, State: s.state, Chunk: chunk, Echo: true})
	}
	return nil
}

// HandleEvent routes ev to the session whose live execution id matches.
// Events for unknown ids are parked while a run is starting and dropped
// otherwise.
func (m *Manager) HandleEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if s, ok := m.live[ev.ExecutionID]; ok {
		m.applyLocked(s, ev)
		return
	}
	if m.starting > 0 && m.cfg.pendingLimit > 0 {
		if len(m.pending) >= m.cfg.pendingLimit {
			m.cfg.logger.Debug().Str("execution_id", m.pending[0].ExecutionID).Msg("evicting oldest parked event")
			copy(m.pending, m.pending[1:])
			m.pending = m.pending[:len(m.pending)-1]
		}
		m.pending = append(m.pending, ev)
		return
	}
	m.cfg.logger.Debug().Str("execution_id", ev.ExecutionID).Str("kind", string(ev.Kind)).Msg("dropping stale event")
}

// Snapshot returns a copy of owner's session.
func (m *Manager) Snapshot(owner string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[owner]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstance, owner)
	}
	return s.snapshot(), nil
}

// Instances returns the registered instance ids in sorted order.
func (m *Manager) Instances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close releases the Manager's channel subscriptions. The channel itself
// is shared and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.pending = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return nil
}

func (m *Manager) applyLocked(s *Session, ev Event) {
	if ev.Kind == EventInputAck {
		m.cfg.logger.Debug().Str("owner", s.owner).Str("execution_id", ev.ExecutionID).Msg("input acknowledged")
		return
	}
	chunk, ok := s.apply(ev)
	if !ok {
		return
	}
	if s.state != StateStreaming {
		delete(m.live, ev.ExecutionID)
	}
	m.notifyLocked(Update{Owner: s.owner, State: s.state, Chunk: chunk})
}

// replayLocked applies events parked for s's execution id, in arrival order.
func (m *Manager) replayLocked(s *Session) {
	id := s.executionID
	kept := m.pending[:0]
	for _, ev := range m.pending {
		if ev.ExecutionID != id {
			kept = append(kept, ev)
			continue
		}
		if m.live[id] == s {
			m.applyLocked(s, ev)
		}
	}
	clear(m.pending[len(kept):])
	m.pending = kept
}

// retireLocked invalidates s's current run.
func (m *Manager) retireLocked(s *Session) {
	if s.state == StateStarting {
		m.starting--
	}
	if s.executionID != "" && m.live[s.executionID] == s {
		delete(m.live, s.executionID)
	}
}

// trimPendingLocked drops parked events once no run can claim them.
func (m *Manager) trimPendingLocked() {
	if m.starting == 0 && len(m.pending) > 0 {
		m.cfg.logger.Debug().Int("events", len(m.pending)).Msg("dropping unclaimed parked events")
		m.pending = nil
	}
}

func (m *Manager) notifyLocked(u Update) {
	for _, fn := range m.cfg.observers {
		fn(u)
	}
}

func (m *Manager) onResponse(args []json.RawMessage) {
	text, ok1 := stringArg(args, 0)
	id, ok2 := stringArg(args, 1)
	if !ok1 || !ok2 {
		m.cfg.logger.Debug().Int("args", len(args)).Msg("malformed response event")
		return
	}
	m.HandleEvent(Event{Kind: EventOutput, ExecutionID: id, Payload: text})
}

func (m *Manager) onProcessEnd(args []json.RawMessage) {
	id, ok := stringArg(args, 0)
	if !ok {
		m.cfg.logger.Debug().Int("args", len(args)).Msg("malformed processend event")
		return
	}
	m.HandleEvent(Event{Kind: EventProcessEnded, ExecutionID: id})
}

func (m *Manager) onInputAck(args []json.RawMessage) {
	id, ok := stringArg(args, 0)
	if !ok {
		return
	}
	m.HandleEvent(Event{Kind: EventInputAck, ExecutionID: id})
}

// reassociate re-binds every streaming execution after a reconnect.
func (m *Manager) reassociate() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	slices.Sort(ids)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.associateTimeout)
	defer cancel()
	for _, id := range ids {
		if err := m.ch.Associate(ctx, id); err != nil {
			m.cfg.logger.Warn().Err(err).Str("execution_id", id).Msg("re-associate failed")
			continue
		}
		m.cfg.logger.Info().Str("execution_id", id).Msg("re-associated execution after reconnect")
	}
}

func stringArg(args []json.RawMessage, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", false
	}
	return s, true
}
