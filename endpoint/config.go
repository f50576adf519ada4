package endpoint

import (
	"time"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/pkg/logger"
)

// Role distinguishes which side of the connection this endpoint drives;
// only the keep-alive behavior (client sends PINGREQ, server watches for
// silence) depends on it.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Config configures one Engine, following the DefaultConfig() pattern used
// throughout the teacher stack (qos.DefaultConfig, network.DefaultKeepAliveConfig).
type Config struct {
	Role          Role
	Version       packet.Version
	KeepAlive     time.Duration
	AutoRespond   bool
	MaxTopicAlias uint16
	MaxPacketSize uint32
	Logger        logger.Logger

	// RetryInterval, MaxRetries, RetryBackoff, MaxRetryInterval, and
	// CleanupInterval drive the in-flight retry/expiry sweep, mirroring
	// qos.Handler's Config of the same names. RetryInterval <= 0 disables
	// retries entirely (every outbound QoS1/QoS2 send then waits
	// indefinitely for its ack, as before this field existed).
	RetryInterval    time.Duration
	MaxRetries       int
	RetryBackoff     float64
	MaxRetryInterval time.Duration
	CleanupInterval  time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Role:          RoleClient,
		Version:       packet.Version5,
		KeepAlive:     60 * time.Second,
		AutoRespond:   true,
		MaxTopicAlias: 0,
		MaxPacketSize: 268435455,
		Logger:        logger.Noop(),

		RetryInterval:    5 * time.Second,
		MaxRetries:       5,
		RetryBackoff:     2.0,
		MaxRetryInterval: 60 * time.Second,
		CleanupInterval:  30 * time.Second,
	}
}
