package client

import (
	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
)

// AsyncSubscribe sends SUBSCRIBE and returns a future resolving on the
// matching SUBACK. pid must come from AcquireUniquePacketID.
func (c *Client) AsyncSubscribe(version packet.Version, pid uint16, entries []SubscribeEntry) (*SubscribeFuture, error) {
	f := &SubscribeFuture{future: newFuture()}

	c.mu.Lock()
	c.subs[pid] = f
	c.mu.Unlock()

	var pkt encoding.Packet
	if version == packet.Version311 {
		subs := make([]encoding.Subscription311, len(entries))
		for i, e := range entries {
			subs[i] = encoding.Subscription311{TopicFilter: e.TopicFilter, QoS: encoding.QoS(e.QoS)}
		}
		pkt = &encoding.SubscribePacket311{
			FixedHeader:   encoding.FixedHeader{Type: encoding.SUBSCRIBE, Flags: 0x02},
			PacketID:      pid,
			Subscriptions: subs,
		}
	} else {
		subs := make([]encoding.Subscription, len(entries))
		for i, e := range entries {
			subs[i] = encoding.Subscription{
				TopicFilter:            e.TopicFilter,
				QoS:                    encoding.QoS(e.QoS),
				NoLocal:                e.NoLocal,
				RetainAsPublished:      e.RetainAsPublished,
				RetainHandling:         e.RetainHandling,
				SubscriptionIdentifier: e.SubscriptionIdentifier,
			}
		}
		pkt = &encoding.SubscribePacket{
			FixedHeader:   encoding.FixedHeader{Type: encoding.SUBSCRIBE, Flags: 0x02},
			PacketID:      pid,
			Subscriptions: subs,
		}
	}

	if err := c.eng.Send(pkt); err != nil {
		c.mu.Lock()
		delete(c.subs, pid)
		c.mu.Unlock()
		f.complete(err)
		return f, err
	}
	return f, nil
}

func (c *Client) completeSubscribe(pid uint16, reasonCodes []byte, props encoding.Properties) {
	c.mu.Lock()
	f, ok := c.subs[pid]
	if ok {
		delete(c.subs, pid)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	f.ReasonCodes = reasonCodes
	f.Properties = props

	allError := len(reasonCodes) > 0
	for _, rc := range reasonCodes {
		if !isErrorReasonCode(rc) {
			allError = false
			break
		}
	}
	if allError {
		f.complete(ErrAllReasonCodesError)
		return
	}
	f.complete(nil)
}

// AsyncUnsubscribe sends UNSUBSCRIBE and returns a future resolving on
// the matching UNSUBACK.
func (c *Client) AsyncUnsubscribe(version packet.Version, pid uint16, filters []string) (*UnsubscribeFuture, error) {
	f := &UnsubscribeFuture{future: newFuture()}

	c.mu.Lock()
	c.unsubs[pid] = f
	c.mu.Unlock()

	var pkt encoding.Packet
	if version == packet.Version311 {
		pkt = &encoding.UnsubscribePacket311{
			FixedHeader:  encoding.FixedHeader{Type: encoding.UNSUBSCRIBE, Flags: 0x02},
			PacketID:     pid,
			TopicFilters: filters,
		}
	} else {
		pkt = &encoding.UnsubscribePacket{
			FixedHeader:  encoding.FixedHeader{Type: encoding.UNSUBSCRIBE, Flags: 0x02},
			PacketID:     pid,
			TopicFilters: filters,
		}
	}

	if err := c.eng.Send(pkt); err != nil {
		c.mu.Lock()
		delete(c.unsubs, pid)
		c.mu.Unlock()
		f.complete(err)
		return f, err
	}
	return f, nil
}

func (c *Client) completeUnsubscribe(pid uint16, reasonCodes []byte) {
	c.mu.Lock()
	f, ok := c.unsubs[pid]
	if ok {
		delete(c.unsubs, pid)
	}
	sf, mismatched := c.subs[pid]
	if !ok && mismatched {
		delete(c.subs, pid)
	}
	c.mu.Unlock()
	if !ok {
		if mismatched {
			sf.complete(ErrProtocolError)
		}
		return
	}

	f.ReasonCodes = reasonCodes

	allError := len(reasonCodes) > 0
	for _, rc := range reasonCodes {
		if !isErrorReasonCode(rc) {
			allError = false
			break
		}
	}
	if allError {
		f.complete(ErrAllReasonCodesError)
		return
	}
	f.complete(nil)
}
