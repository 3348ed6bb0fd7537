package session

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultPendingLimit bounds events parked for not-yet-known execution ids.
const DefaultPendingLimit = 1024

// Update describes one change applied to a session.
type Update struct {
	Owner string
	State State
	// Chunk is the text appended by this change, if any.
	Chunk string
	// Reset is set when the output buffer was replaced rather than appended.
	Reset bool
	// Echo marks a chunk that is local echo of submitted input.
	Echo bool
}

// Observer is called for every applied change, in order, while the
// Manager's lock is held. It must not call back into the Manager.
type Observer func(Update)

type Option func(*managerConfig)

type managerConfig struct {
	instances        []string
	observers        []Observer
	pendingLimit     int
	inputAckEvent    string
	associateTimeout time.Duration
	logger           zerolog.Logger
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		pendingLimit:     DefaultPendingLimit,
		associateTimeout: 10 * time.Second,
		logger:           zerolog.Nop(),
	}
}

// WithInstances registers editor instances at construction.
func WithInstances(ids ...string) Option {
	return func(c *managerConfig) {
		c.instances = append(c.instances, ids...)
	}
}

func WithObserver(fn Observer) Option {
	return func(c *managerConfig) {
		c.observers = append(c.observers, fn)
	}
}

// WithPendingLimit sets how many early events are parked while a run is
// starting. Zero disables parking.
func WithPendingLimit(n int) Option {
	return func(c *managerConfig) {
		c.pendingLimit = n
	}
}

// WithInputAckEvent subscribes to a backend event, carrying the execution
// id, that acknowledges submitted input. Disabled by default.
func WithInputAckEvent(name string) Option {
	return func(c *managerConfig) {
		c.inputAckEvent = name
	}
}

// WithAssociateTimeout bounds re-association after a reconnect.
func WithAssociateTimeout(d time.Duration) Option {
	return func(c *managerConfig) {
		c.associateTimeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *managerConfig) {
		c.logger = l
	}
}
