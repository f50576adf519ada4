package endpoint

import "time"

// retryInflight resends any outbound QoS1/QoS2 entry (PUBLISH still
// awaiting PUBACK/PUBREC, or PUBREL still awaiting PUBCOMP) that has waited
// past its backoff window without an ack, and abandons any entry that has
// exhausted cfg.MaxRetries. Mirrors qos.Handler.retryMessages, generalized
// from that type's three separate per-kind maps to the single ordered
// inflightStore. Driven by driverLoop's retry ticker; cfg.MaxRetries <= 0
// disables the sweep entirely.
func (e *Engine) retryInflight(now time.Time) {
	if e.cfg.MaxRetries <= 0 {
		return
	}

	for _, entry := range e.inflight.Ordered() {
		due, giveUp := entry.dueForRetry(now, e.cfg.RetryInterval, e.cfg.RetryBackoff, e.cfg.MaxRetryInterval, e.cfg.MaxRetries)
		switch {
		case giveUp:
			e.abandon(entry.PacketID)
		case due:
			e.resend(entry)
		}
	}
}

// expireInflight drops any entry past its message-expiry deadline without
// further retries, mirroring qos.Handler.cleanup's periodic expiry sweep.
// Only entries with HasExpiry set are candidates; recordOutbound stores
// every entry without an expiry, so the entries Send records are left for
// retryInflight to manage.
func (e *Engine) expireInflight(now time.Time) {
	for _, entry := range e.inflight.ExpireStale(now) {
		e.abandon(entry.PacketID)
	}
}

func (e *Engine) abandon(packetID uint16) {
	e.inflight.Remove(packetID)
	e.idAlloc.Release(packetID)
	e.fireAck(AckEvent{Kind: AckGivenUp, PacketID: packetID})
}

// resend re-enqueues entry's previously-encoded bytes. A PUBLISH entry goes
// out with the DUP bit set (bit 0x08 of the fixed header's first byte, per
// BuildPublishFlags/ParseFixedHeader), the wire-level marker that it may
// already have reached the peer once; a PUBREL entry is re-sent unchanged,
// its fixed-header flags staying 0x02. Bypasses Send/recordOutbound: the
// entry is already tracked and re-encoding would just reconstruct the same
// bytes this copy already holds.
func (e *Engine) resend(entry *storeEntry) {
	entry.markAttempt(time.Now())

	dup := append([]byte(nil), entry.Encoded...)
	if len(dup) > 0 && entry.Kind != KindPubrel {
		dup[0] |= 0x08
	}

	done := e.bulk.Enqueue(dup)
	e.requestFlush()
	go func() { <-done }()
}
