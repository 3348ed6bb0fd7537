package pushchan

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultPath is the Socket.IO endpoint path used when none is configured.
const DefaultPath = "/socket.io/"

// Option configures a Channel.
type Option func(*channelConfig)

type channelConfig struct {
	path             string
	namespace        string
	header           http.Header
	dialer           *websocket.Dialer
	newBackOff       func() backoff.BackOff
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	sendBuffer       int
	logger           zerolog.Logger
}

func defaultChannelConfig() channelConfig {
	return channelConfig{
		path:      DefaultPath,
		namespace: "/",
		header:    make(http.Header),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		// Socket.IO client defaults: 1s initial delay, 5s cap, retry forever.
		newBackOff:       exponentialBackOff(time.Second, 5*time.Second, 0),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		sendBuffer:       256,
		logger:           zerolog.Nop(),
	}
}

func exponentialBackOff(initial, max, maxElapsed time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = maxElapsed
		b.Reset()
		return b
	}
}

// WithPath sets the Socket.IO endpoint path (e.g., "/ws/socket.io").
func WithPath(path string) Option {
	return func(c *channelConfig) {
		c.path = path
	}
}

// WithNamespace sets the Socket.IO namespace. Default is "/".
func WithNamespace(ns string) Option {
	return func(c *channelConfig) {
		c.namespace = ns
	}
}

// WithHeader adds a header sent with the websocket handshake.
func WithHeader(key, value string) Option {
	return func(c *channelConfig) {
		c.header.Add(key, value)
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *channelConfig) {
		c.dialer = d
	}
}

// WithBackOff sets the reconnect policy. The factory is called once; the
// policy is reset after every successful connection.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *channelConfig) {
		c.newBackOff = newBackOff
	}
}

// WithReconnectDelay configures exponential reconnect delays.
// A zero maxElapsed retries forever.
func WithReconnectDelay(initial, max, maxElapsed time.Duration) Option {
	return func(c *channelConfig) {
		c.newBackOff = exponentialBackOff(initial, max, maxElapsed)
	}
}

// WithHandshakeTimeout bounds the Engine.IO and Socket.IO handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *channelConfig) {
		c.handshakeTimeout = d
	}
}

// WithSendBuffer sets how many outbound events are held while disconnected.
func WithSendBuffer(n int) Option {
	return func(c *channelConfig) {
		c.sendBuffer = n
	}
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *channelConfig) {
		c.logger = l
	}
}
