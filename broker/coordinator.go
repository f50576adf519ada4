package broker

import (
	"context"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/endpoint"
	"github.com/mqttframe/broker/hook"
	"github.com/mqttframe/broker/network"
	"github.com/mqttframe/broker/pkg/logger"
	"github.com/mqttframe/broker/session"
	"github.com/mqttframe/broker/topic"
	"github.com/mqttframe/broker/transport"
)

// errConnectionDone is returned by serve once a connection's lifecycle ends,
// regardless of cause, so the listener's handler loop always sees a non-nil
// error and removes the connection from its pool.
var errConnectionDone = errors.New("broker: connection closed")

// Coordinator is the Broker Coordinator: it owns the listener, the session
// index, the topic router, and the retained-message store, and drives every
// connection from CONNECT through to disconnect.
type Coordinator struct {
	cfg *Config

	listener *network.Listener
	pool     *network.Pool
	dm       *network.DisconnectManager
	shutdown *network.GracefulShutdown
	sessions *session.Manager
	router   *topic.Router
	retained *topic.RetainedManager
	matcher  *topic.TopicMatcher
	auth     hook.AuthProvider
	hooks    *hook.Manager
	metrics  *Metrics
	log      logger.Logger

	sem *semaphore.Weighted

	connSeq atomic.Uint64
}

// NewCoordinator wires a Coordinator from cfg. It does not start listening;
// call Start for that.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig(":1883")
	}
	if cfg.Auth == nil {
		cfg.Auth = hook.NewAnonymousAuth()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hook.NewManager()
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = session.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}

	pool, err := network.NewPool(network.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	listener, err := network.NewListener(cfg.Listener, pool)
	if err != nil {
		return nil, err
	}

	dm := network.NewDisconnectManager(cfg.ShutdownGraceTimeout)

	c := &Coordinator{
		cfg:      cfg,
		listener: listener,
		pool:     pool,
		dm:       dm,
		shutdown: network.NewGracefulShutdown(pool, dm, cfg.ShutdownGraceTimeout),
		router:   topic.NewRouter(),
		retained: topic.NewRetainedManager(cfg.retainedConfig()),
		matcher:  topic.NewTopicMatcher(),
		auth:     cfg.Auth,
		hooks:    cfg.Hooks,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		sem:      semaphore.NewWeighted(cfg.MaxConnections),
	}

	c.sessions = session.NewManager(session.ManagerConfig{
		Store:               cfg.SessionStore,
		ExpiryCheckInterval: cfg.SessionExpiryCheckInterval,
		WillPublisher:       c,
		AssignedIDPrefix:    cfg.AssignedIDPrefix,
		OfflineQueueLimit:   cfg.OfflineQueueLimit,
	})

	listener.OnConnection(c.acceptConn)
	dm.OnDisconnect(c.sendShutdownDisconnect)

	return c, nil
}

// Start launches the listener's accept loop.
func (c *Coordinator) Start() error {
	if err := c.listener.Start(); err != nil {
		return err
	}
	c.log.Info("broker listening", "addr", c.cfg.Listener.Address)
	return nil
}

// Close stops accepting new connections, gives every connected client its
// pre-close DISCONNECT (v5 only; 3.1.1 has no server-initiated DISCONNECT)
// up to cfg.ShutdownGraceTimeout, then tears down the session manager and
// retained store.
func (c *Coordinator) Close() error {
	err := c.listener.Close()
	if shutdownErr := c.shutdown.Shutdown(context.Background()); err == nil {
		err = shutdownErr
	}
	if rmErr := c.retained.Close(); err == nil {
		err = rmErr
	}
	if smErr := c.sessions.Close(); err == nil {
		err = smErr
	}
	return err
}

// sendShutdownDisconnect is the network.DisconnectHandler GracefulShutdown
// invokes for every pooled connection before closing it. It looks up the
// endpoint.Engine serve bound into conn's metadata and, for v5 connections
// still in the Connected phase, sends the protocol-level DISCONNECT with
// reason ServerShuttingDown before GracefulDisconnect closes the socket.
func (c *Coordinator) sendShutdownDisconnect(conn *network.Connection, _ *network.DisconnectPacket) error {
	v, ok := conn.GetMetadata(connMetaEngine)
	if !ok {
		return nil
	}
	eng, ok := v.(*endpoint.Engine)
	if !ok || eng.Phase() != endpoint.Connected {
		return nil
	}

	ver, _ := conn.GetMetadata(connMetaVersion)
	if version, ok := ver.(packet.Version); ok && version == packet.Version5 {
		_ = eng.Send(&encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonServerShuttingDown,
		})
	}
	return nil
}

const (
	connMetaEngine  = "engine"
	connMetaVersion = "version"
)

// acceptConn is the listener's ConnectionHandler: it bounds concurrency via
// the coordinator's semaphore and hands off to serve, always returning a
// non-nil error so the listener removes conn from its pool once done (per
// Listener.handleConnection's pool.Remove-on-error-only cleanup).
func (c *Coordinator) acceptConn(conn *network.Connection) error {
	ctx := context.Background()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.ConnectionsTotal.Inc()
		c.metrics.ConnectionsActive.Inc()
		defer c.metrics.ConnectionsActive.Dec()
	}

	c.serve(conn)
	return errConnectionDone
}

// serve drives one connection's entire lifecycle: raw CONNECT dispatch,
// engine construction, session binding, and the packet dispatch loop, in
// the shape of axmq-ax's per-connection goroutine.
func (c *Coordinator) serve(conn *network.Connection) {
	defer conn.Close()

	nc := conn.NetConn()
	if c.cfg.ConnectTimeout > 0 {
		_ = nc.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	}

	fh, err := encoding.ParseFixedHeader(nc)
	if err != nil {
		return
	}
	if fh.Type != encoding.CONNECT {
		return
	}

	body := make([]byte, fh.RemainingLength)
	if _, err := io.ReadFull(nc, body); err != nil {
		return
	}

	req, err := parseConnect(fh, body)
	if err != nil {
		return
	}

	_ = nc.SetReadDeadline(time.Time{})

	engCfg := &endpoint.Config{
		Role:          endpoint.RoleServer,
		Version:       req.version,
		KeepAlive:     time.Duration(req.keepAlive) * time.Second,
		AutoRespond:   true,
		MaxTopicAlias: c.cfg.MaxTopicAlias,
		MaxPacketSize: c.cfg.MaxPacketSize,
		Logger:        c.log,
	}

	stream := transport.NewStream(nc, transport.DefaultConfig())
	eng := endpoint.New(stream, engCfg)
	conn.SetMetadata(connMetaEngine, eng)
	conn.SetMetadata(connMetaVersion, req.version)

	var boundSession atomic.Pointer[session.Session]
	eng.OnAck(func(ev endpoint.AckEvent) {
		if s := boundSession.Load(); s != nil {
			s.RemovePendingPublish(ev.PacketID)
		}
	})

	eng.Start()
	defer eng.Close()

	ctx := context.Background()

	sess, username, ok := c.dispatchConnect(ctx, eng, req)
	if !ok {
		return
	}
	boundSession.Store(sess)

	c.replayPending(eng, sess)
	c.replayOffline(eng, sess)

	sendWill := true
	for in := range eng.Recv() {
		if in.Err != nil {
			break
		}

		switch pkt := in.Packet.(type) {
		case *encoding.PublishPacket:
			c.handlePublish(ctx, sess, username, req.version, pkt.TopicName, pkt.Payload, pkt.FixedHeader.QoS, pkt.FixedHeader.Retain, pkt.Properties)
		case *encoding.PublishPacket311:
			c.handlePublish(ctx, sess, username, req.version, pkt.TopicName, pkt.Payload, pkt.FixedHeader.QoS, pkt.FixedHeader.Retain, encoding.Properties{})

		case *encoding.SubscribePacket:
			c.handleSubscribe(ctx, eng, sess, username, req.version, pkt.PacketID, subscriptionsFrom5(pkt.Subscriptions), pkt.Properties)
		case *encoding.SubscribePacket311:
			c.handleSubscribe(ctx, eng, sess, username, req.version, pkt.PacketID, subscriptionsFrom311(pkt.Subscriptions), encoding.Properties{})

		case *encoding.UnsubscribePacket:
			c.handleUnsubscribe(eng, sess, req.version, pkt.PacketID, pkt.TopicFilters)
		case *encoding.UnsubscribePacket311:
			c.handleUnsubscribe(eng, sess, req.version, pkt.PacketID, pkt.TopicFilters)

		case *encoding.DisconnectPacket:
			sendWill = pkt.ReasonCode == encoding.ReasonDisconnectWithWillMessage
			goto disconnected
		case *encoding.DisconnectPacket311:
			sendWill = false
			goto disconnected

		case *encoding.AuthPacket:
			// Enhanced authentication re-challenge is not implemented; the
			// packet is acknowledged at the transport level and ignored.
		}
	}

disconnected:
	_ = c.sessions.DisconnectSession(ctx, sess.GetClientID(), sendWill)
	c.router.UnsubscribeAll(sess.GetClientID())
}

// dispatchConnect runs authentication, client-id resolution, and session
// creation/takeover, sending the CONNACK and returning the bound session.
// ok is false if the connection was refused (a refusal CONNACK, if any
// applies for the refusal reason, has already been sent).
func (c *Coordinator) dispatchConnect(ctx context.Context, eng *endpoint.Engine, req *connectRequest) (*session.Session, string, bool) {
	username, authOK := c.authenticateConnect(ctx, req)
	if !authOK {
		_ = eng.Send(buildConnack(req, false, encoding.ReasonNotAuthorized, encoding.Properties{}))
		return nil, "", false
	}

	assignedID := req.clientID == ""

	clientID := req.clientID
	if clientID == "" {
		if req.version == packet.Version311 && !req.cleanStart {
			_ = eng.Send(buildConnack(req, false, encoding.ReasonClientIdentifierNotValid, encoding.Properties{}))
			return nil, "", false
		}
		generated, err := c.sessions.GenerateClientID(ctx)
		if err != nil {
			_ = eng.Send(buildConnack(req, false, encoding.ReasonServerUnavailable, encoding.Properties{}))
			return nil, "", false
		}
		clientID = generated
		req.clientID = generated
	}

	c.takeoverExisting(ctx, clientID, req.version)

	sess, sessionPresent, err := c.sessions.CreateSession(ctx, clientID, req.cleanStart, req.expiryInterval, req.protocolVersion)
	if err != nil {
		_ = eng.Send(buildConnack(req, false, encoding.ReasonServerUnavailable, encoding.Properties{}))
		return nil, "", false
	}
	sess.Bind(eng)

	if req.hasWill() {
		sess.SetWillMessage(&session.WillMessage{
			Topic:      req.willTopic,
			Payload:    req.willPayload,
			QoS:        byte(req.willQoS),
			Retain:     req.willRetain,
			Properties: propertiesToMap(req.willProperties),
		}, req.willDelay)
	}

	props := encoding.Properties{}
	if req.version == packet.Version5 && assignedID {
		_ = props.AddProperty(encoding.PropAssignedClientIdentifier, req.clientID)
	}
	if err := eng.Send(buildConnack(req, sessionPresent, encoding.ReasonSuccess, props)); err != nil {
		return nil, "", false
	}

	return sess, username, true
}

// authenticateConnect runs the username/password or anonymous authentication
// path, depending on whether the CONNECT carried a username flag.
func (c *Coordinator) authenticateConnect(ctx context.Context, req *connectRequest) (string, bool) {
	if req.usernameSet {
		return c.auth.Authenticate(ctx, req.username, string(req.password))
	}
	return c.auth.AuthenticateAnonymous(ctx)
}

// takeoverExisting closes any endpoint already bound to clientID before a
// new CreateSession call takes over its session state; CreateSession itself
// only rewrites session data, it never reaches into a live connection.
func (c *Coordinator) takeoverExisting(ctx context.Context, clientID string, version packet.Version) {
	existing, err := c.sessions.GetSession(ctx, clientID)
	if err != nil || existing == nil || !existing.IsOnline() {
		return
	}

	old := existing.Endpoint()
	if old == nil {
		return
	}

	if version == packet.Version5 {
		_ = old.Send(&encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonSessionTakenOver,
		})
	}
	_ = old.Close()
}

// replayPending resends every unacknowledged QoS1/QoS2 publish the session
// was carrying across a reconnect, oldest packet id first, with DUP set.
func (c *Coordinator) replayPending(eng *endpoint.Engine, sess *session.Session) {
	pending := sess.GetAllPendingPublish()
	if len(pending) == 0 {
		return
	}

	ids := make([]uint16, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		msg := pending[id]
		_ = eng.Send(publishPacketFor(sess.ProtocolVersion, msg.PacketID, msg.Topic, msg.Payload, msg.QoS, msg.Retain, true, msg.Properties))
	}
}

// replayOffline drains the session's offline queue, handing each message
// back to the normal QoS tracking path as if freshly published.
func (c *Coordinator) replayOffline(eng *endpoint.Engine, sess *session.Session) {
	for _, msg := range sess.OfflineQueue.Drain() {
		if msg.QoS > 0 {
			msg.PacketID = sess.NextPacketID()
			sess.AddPendingPublish(msg)
		}
		_ = eng.Send(publishPacketFor(sess.ProtocolVersion, msg.PacketID, msg.Topic, msg.Payload, msg.QoS, msg.Retain, msg.DUP, msg.Properties))
	}
}

// propertiesToMap adapts a v5 Properties value into the loosely-typed map
// session.WillMessage carries, since the session package has no dependency
// on the encoding package's property model.
func propertiesToMap(props encoding.Properties) map[string]interface{} {
	if len(props.Properties) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(props.Properties))
	for _, p := range props.Properties {
		m[propertyName(p.ID)] = p.Value
	}
	return m
}

func propertyName(id encoding.PropertyID) string {
	switch id {
	case encoding.PropMessageExpiryInterval:
		return "MessageExpiryInterval"
	case encoding.PropContentType:
		return "ContentType"
	case encoding.PropResponseTopic:
		return "ResponseTopic"
	case encoding.PropCorrelationData:
		return "CorrelationData"
	case encoding.PropPayloadFormatIndicator:
		return "PayloadFormatIndicator"
	default:
		return "prop"
	}
}

func subscriptionsFrom5(subs []encoding.Subscription) []topic.Subscription {
	out := make([]topic.Subscription, len(subs))
	for i, s := range subs {
		out[i] = topic.Subscription{
			TopicFilter:            s.TopicFilter,
			QoS:                    byte(s.QoS),
			NoLocal:                s.NoLocal,
			RetainAsPublished:      s.RetainAsPublished,
			RetainHandling:         s.RetainHandling,
			SubscriptionIdentifier: s.SubscriptionIdentifier,
		}
	}
	return out
}

func subscriptionsFrom311(subs []encoding.Subscription311) []topic.Subscription {
	out := make([]topic.Subscription, len(subs))
	for i, s := range subs {
		out[i] = topic.Subscription{TopicFilter: s.TopicFilter, QoS: byte(s.QoS)}
	}
	return out
}
