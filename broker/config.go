// Package broker implements the Broker Coordinator: the component that
// accepts raw connections, drives CONNECT dispatch against the session
// index, and wires publish/subscribe traffic between bound endpoints, the
// topic router, and the retained-message store.
package broker

import (
	"time"

	"github.com/mqttframe/broker/hook"
	"github.com/mqttframe/broker/network"
	"github.com/mqttframe/broker/pkg/logger"
	"github.com/mqttframe/broker/session"
	"github.com/mqttframe/broker/topic"
)

// Config configures one Coordinator. Follows the DefaultConfig() pattern
// used throughout the stack (endpoint.DefaultConfig, transport.DefaultConfig).
type Config struct {
	Listener *network.ListenerConfig

	// Auth is consulted during CONNECT dispatch and on every PUBLISH and
	// SUBSCRIBE. Defaults to an AnonymousAuth that admits everyone.
	Auth hook.AuthProvider

	// Hooks receives OnWillSent after a will is published; the coordinator
	// dispatches no other lifecycle event to it. Authorization decisions
	// always come from Auth, never from hooks.
	Hooks *hook.Manager

	// SessionStore backs the session manager's persistence. Defaults to
	// an in-memory store.
	SessionStore session.Store

	// MaxConnections bounds concurrently-handled connections; excess
	// accepts block until a slot frees up rather than being rejected.
	MaxConnections int64

	// ConnectTimeout bounds how long a new connection has to deliver a
	// complete CONNECT packet before it is dropped.
	ConnectTimeout time.Duration

	// AssignedIDPrefix prefixes generated client identifiers for clients
	// that connect with an empty client id under clean_start.
	AssignedIDPrefix string

	// OfflineQueueLimit bounds each session's OfflineQueue (0 = unbounded).
	OfflineQueueLimit int

	// SessionExpiryCheckInterval sets how often the session manager scans
	// for expired sessions and delayed will messages.
	SessionExpiryCheckInterval time.Duration

	// MaxTopicAlias is advertised to v5 clients as Topic Alias Maximum and
	// enforced by each endpoint's own alias table.
	MaxTopicAlias uint16

	// MaxPacketSize bounds outbound and inbound packet size.
	MaxPacketSize uint32

	// RetainedCleanupInterval controls how often expired retained messages
	// are swept from the retained store.
	RetainedCleanupInterval time.Duration

	// ShutdownGraceTimeout bounds how long Close waits for each connected
	// client to receive its pre-close DISCONNECT (v5) before the
	// connection is forced shut, per network.GracefulShutdown.
	ShutdownGraceTimeout time.Duration

	// Logger receives per-connection diagnostic output. Defaults to a
	// no-op logger.
	Logger logger.Logger

	// Metrics, when non-nil, is fed connection/publish/subscription
	// counters as the coordinator runs. Nil disables instrumentation.
	Metrics *Metrics
}

// DefaultConfig returns a Config listening on address with an
// allow-anyone auth provider and an in-memory session store, suitable for
// development and tests.
func DefaultConfig(address string) *Config {
	return &Config{
		Listener:                   network.DefaultListenerConfig(address),
		Auth:                       hook.NewAnonymousAuth(),
		Hooks:                      hook.NewManager(),
		SessionStore:               session.NewMemoryStore(),
		MaxConnections:             10000,
		ConnectTimeout:             10 * time.Second,
		AssignedIDPrefix:           "auto-",
		OfflineQueueLimit:          1000,
		SessionExpiryCheckInterval: 30 * time.Second,
		MaxTopicAlias:              65535,
		MaxPacketSize:              268435455,
		RetainedCleanupInterval:    5 * time.Minute,
		ShutdownGraceTimeout:       5 * time.Second,
		Logger:                     logger.Noop(),
	}
}

// retainedConfig adapts Config into the topic package's own config shape.
func (c *Config) retainedConfig() *topic.RetainedConfig {
	return &topic.RetainedConfig{CleanupInterval: c.RetainedCleanupInterval}
}
