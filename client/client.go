// Package client implements the Client Facade: a request/response layer
// over an Endpoint Engine that turns the engine's packet-at-a-time Recv
// channel into per-call futures, correlated by packet id the way
// gonzalop-mq's Token type correlates Publish/Subscribe/Unsubscribe calls.
package client

import (
	"context"
	"sync"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/endpoint"
)

// Client wraps an *endpoint.Engine with per-request correlation. The
// pending maps are guarded by mu: Async* callers register (and, on a
// failed send, remove) their future, and the dispatch loop removes and
// completes it when the response arrives.
type Client struct {
	eng *endpoint.Engine

	mu         sync.Mutex
	connect    *ConnectFuture
	subs       map[uint16]*SubscribeFuture
	unsubs     map[uint16]*UnsubscribeFuture
	pubs       map[uint16]*PublishFuture
	recvQueue  []*RecvFuture
	inbox      []encoding.Packet

	closed chan struct{}
}

// New wraps eng in a Client without starting anything. The engine must
// not yet be started; AsyncStart launches both the engine's own
// goroutines and the facade's dispatch loop together.
func New(eng *endpoint.Engine) *Client {
	c := &Client{
		eng:    eng,
		subs:   make(map[uint16]*SubscribeFuture),
		unsubs: make(map[uint16]*UnsubscribeFuture),
		pubs:   make(map[uint16]*PublishFuture),
		closed: make(chan struct{}),
	}
	return c
}

// run launches the engine and the dispatch loop that turns engine.Recv()
// into completed futures. Called once, internally, by AsyncStart.
func (c *Client) run() {
	c.eng.OnAck(c.onAck)
	c.eng.Start()
	go c.dispatchLoop()
}

func (c *Client) dispatchLoop() {
	defer close(c.closed)

	for in := range c.eng.Recv() {
		if in.Err != nil {
			c.failAll(in.Err)
			return
		}
		c.dispatch(in.Packet)
	}
}

func (c *Client) dispatch(pkt encoding.Packet) {
	switch p := pkt.(type) {
	case *encoding.ConnackPacket:
		c.completeConnect(p.SessionPresent, uint8(p.ReasonCode), p.Properties, nil)
	case *encoding.ConnackPacket311:
		var err error
		if p.ReturnCode != encoding.ConnectAccepted311 {
			err = &encoding.PacketError{Err: ErrConnectRefused, ReasonCode: encoding.ReasonCode(p.ReturnCode)}
		}
		c.completeConnect(p.SessionPresent, p.ReturnCode, encoding.Properties{}, err)

	case *encoding.SubackPacket:
		c.completeSubscribe(p.PacketID, reasonBytes(p.ReasonCodes), p.Properties)
	case *encoding.SubackPacket311:
		c.completeSubscribe(p.PacketID, p.ReturnCodes, encoding.Properties{})

	case *encoding.UnsubackPacket:
		c.completeUnsubscribe(p.PacketID, reasonBytes(p.ReasonCodes))
	case *encoding.UnsubackPacket311:
		c.completeUnsubscribe(p.PacketID, nil)

	// PUBACK/PUBREC/PUBREL/PUBCOMP never reach Recv: the engine's
	// auto-response policy consumes them and reports completion via the
	// OnAck callback wired up in run (see publish.go's onAck).

	default:
		// PUBLISH, DISCONNECT, AUTH and anything else application-visible.
		c.deliverRecv(pkt)
	}
}

func reasonBytes(rcs []encoding.ReasonCode) []byte {
	out := make([]byte, len(rcs))
	for i, rc := range rcs {
		out[i] = byte(rc)
	}
	return out
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connect != nil {
		c.connect.complete(err)
		c.connect = nil
	}
	for id, f := range c.subs {
		f.complete(err)
		delete(c.subs, id)
	}
	for id, f := range c.unsubs {
		f.complete(err)
		delete(c.unsubs, id)
	}
	for id, f := range c.pubs {
		f.complete(err)
		delete(c.pubs, id)
	}
	for _, f := range c.recvQueue {
		f.complete(nil, err)
	}
	c.recvQueue = nil
}

// AsyncStart sends CONNECT and returns a future resolving once CONNACK (or
// a connection failure) arrives.
func (c *Client) AsyncStart(ctx context.Context, version packet.Version, args ConnectArgs) (*ConnectFuture, error) {
	f := &ConnectFuture{future: newFuture()}

	c.mu.Lock()
	c.connect = f
	c.mu.Unlock()

	c.run()

	var pkt encoding.Packet
	if version == packet.Version311 {
		pkt = &encoding.ConnectPacket311{
			FixedHeader:     encoding.FixedHeader{Type: encoding.CONNECT},
			ProtocolName:    "MQTT",
			ProtocolVersion: encoding.ProtocolVersion311,
			CleanSession:    args.CleanStart,
			WillFlag:        args.WillTopic != "",
			WillQoS:         encoding.QoS(args.WillQoS),
			WillRetain:      args.WillRetain,
			PasswordFlag:    len(args.Password) > 0,
			UsernameFlag:    args.Username != "",
			KeepAlive:       args.KeepAlive,
			ClientID:        args.ClientID,
			WillTopic:       args.WillTopic,
			WillPayload:     args.WillPayload,
			Username:        args.Username,
			Password:        args.Password,
		}
	} else {
		pkt = &encoding.ConnectPacket{
			FixedHeader:     encoding.FixedHeader{Type: encoding.CONNECT},
			ProtocolName:    "MQTT",
			ProtocolVersion: encoding.ProtocolVersion50,
			CleanStart:      args.CleanStart,
			WillFlag:        args.WillTopic != "",
			WillQoS:         encoding.QoS(args.WillQoS),
			WillRetain:      args.WillRetain,
			PasswordFlag:    len(args.Password) > 0,
			UsernameFlag:    args.Username != "",
			KeepAlive:       args.KeepAlive,
			Properties:      args.Properties,
			ClientID:        args.ClientID,
			WillProperties:  args.WillProperties,
			WillTopic:       args.WillTopic,
			WillPayload:     args.WillPayload,
			Username:        args.Username,
			Password:        args.Password,
		}
	}

	if err := c.eng.Send(pkt); err != nil {
		c.mu.Lock()
		c.connect = nil
		c.mu.Unlock()
		f.complete(err)
		return f, err
	}

	if err := ctx.Err(); err != nil {
		return f, err
	}
	return f, nil
}

func (c *Client) completeConnect(sessionPresent bool, reasonCode uint8, props encoding.Properties, err error) {
	c.mu.Lock()
	f := c.connect
	c.connect = nil
	c.mu.Unlock()

	if f == nil {
		return
	}

	f.SessionPresent = sessionPresent
	f.ReasonCode = reasonCode
	f.Properties = props
	if err == nil && isErrorReasonCode(reasonCode) {
		err = &encoding.PacketError{Err: ErrConnectRefused, ReasonCode: encoding.ReasonCode(reasonCode)}
	}
	f.complete(err)
}

// AsyncDisconnect sends DISCONNECT and closes the engine once the bytes
// are on the wire; there is no DISCONNACK to wait for.
func (c *Client) AsyncDisconnect(ctx context.Context, version packet.Version, reasonCode uint8) error {
	var pkt encoding.Packet
	if version == packet.Version311 {
		pkt = &encoding.DisconnectPacket311{FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT}}
	} else {
		pkt = &encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonCode(reasonCode),
		}
	}

	if err := c.eng.Send(pkt); err != nil {
		return err
	}
	return c.eng.Close()
}

// AsyncAuth sends an AUTH packet (v5 re-authentication / enhanced auth
// continuation). There is no facade-level future: the eventual AUTH or
// CONNACK response surfaces through AsyncRecv like any other inbound
// packet, matching the reauthenticate exchange's multi-step nature.
func (c *Client) AsyncAuth(reasonCode uint8, props encoding.Properties) error {
	return c.eng.Send(&encoding.AuthPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.AUTH},
		ReasonCode:  encoding.ReasonCode(reasonCode),
		Properties:  props,
	})
}

// Close tears down the underlying engine; the dispatch loop exits once
// the engine's Recv channel closes behind it.
func (c *Client) Close() error {
	return c.eng.Close()
}

// Done returns a channel that closes once the dispatch loop has exited,
// i.e. once every pending future has been resolved or failed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}
