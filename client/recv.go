package client

import "github.com/mqttframe/broker/encoding"

// AsyncRecv returns a future resolving with the next application-visible
// inbound packet (PUBLISH, DISCONNECT, AUTH). Multiple concurrent
// AsyncRecv calls resolve in arrival order: each call either claims a
// packet already sitting in the inbox or enqueues a waiter that
// deliverRecv satisfies, oldest first, as packets arrive.
func (c *Client) AsyncRecv() *RecvFuture {
	f := &RecvFuture{future: newFuture()}

	c.mu.Lock()
	if len(c.inbox) > 0 {
		pkt := c.inbox[0]
		c.inbox = c.inbox[1:]
		c.mu.Unlock()
		f.complete(pkt, nil)
		return f
	}
	c.recvQueue = append(c.recvQueue, f)
	c.mu.Unlock()

	return f
}

func (c *Client) deliverRecv(pkt encoding.Packet) {
	c.mu.Lock()
	if len(c.recvQueue) == 0 {
		c.inbox = append(c.inbox, pkt)
		c.mu.Unlock()
		return
	}
	f := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	c.mu.Unlock()

	f.complete(pkt, nil)
}
