package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/caffeineduck/runlink/executor"
	"github.com/caffeineduck/runlink/pushchan"
)

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, code string) (executor.Outcome, error)

func (f StarterFunc) Start(ctx context.Context, code string) (executor.Outcome, error) {
	return f(ctx, code)
}

// MemoryChannel is an in-process Channel for tests and benchmarks. Deliver
// plays the backend's side; emitted events are recorded.
type MemoryChannel struct {
	mu         sync.Mutex
	handlers   map[string][]memoryHandler
	hooks      []memoryHook
	nextID     int
	associated []string
	inputs     []Input
	sendErr    error
}

// Input is one recorded SendInput call.
type Input struct {
	ExecutionID string
	Text        string
}

type memoryHandler struct {
	id int
	fn pushchan.Handler
}

type memoryHook struct {
	id int
	fn func()
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{handlers: make(map[string][]memoryHandler)}
}

func (c *MemoryChannel) Subscribe(event string, h pushchan.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], memoryHandler{id: id, fn: h})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		hs := c.handlers[event]
		for i, e := range hs {
			if e.id == id {
				c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (c *MemoryChannel) OnConnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.hooks = append(c.hooks, memoryHook{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

func (c *MemoryChannel) Associate(ctx context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.associated = append(c.associated, executionID)
	return nil
}

func (c *MemoryChannel) SendInput(ctx context.Context, executionID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.inputs = append(c.inputs, Input{ExecutionID: executionID, Text: text})
	return nil
}

// FailSends makes Associate and SendInput return err. A nil err restores them.
func (c *MemoryChannel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Deliver invokes the handlers subscribed to event as if the backend had
// pushed it. Args are JSON-encoded first.
func (c *MemoryChannel) Deliver(event string, args ...any) {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			panic(err)
		}
		raw[i] = data
	}

	c.mu.Lock()
	hs := append([]memoryHandler(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range hs {
		h.fn(raw)
	}
}

// Reconnect runs the OnConnect hooks.
func (c *MemoryChannel) Reconnect() {
	c.mu.Lock()
	hooks := append([]memoryHook(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h.fn()
	}
}

// Associated returns the execution ids passed to Associate, in order.
func (c *MemoryChannel) Associated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.associated...)
}

// Inputs returns the recorded SendInput calls, in order.
func (c *MemoryChannel) Inputs() []Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Input(nil), c.inputs...)
}

// Subscribers returns how many handlers are subscribed to event.
func (c *MemoryChannel) Subscribers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}
