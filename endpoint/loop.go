package endpoint

import (
	"bufio"
	"time"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
)

// streamReader adapts transport.Stream's Read to io.Reader so the codec's
// reader-based Parse* functions can frame packets directly off the wire.
type streamReader struct{ e *Engine }

func (r streamReader) Read(p []byte) (int, error) { return r.e.stream.Read(p) }

type decoded struct {
	pkt encoding.Packet
	fh  *encoding.FixedHeader
	err error
}

// readLoop frames one packet at a time off the stream and hands each to the
// driver loop. It is the only goroutine that calls Stream.Read.
func (e *Engine) readLoop() {
	defer e.wg.Done()

	r := bufio.NewReader(streamReader{e})

	for {
		var fh *encoding.FixedHeader
		var err error
		if e.cfg.Version == packet.Version311 {
			fh, err = encoding.ParseFixedHeader311(r)
		} else {
			fh, err = encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		}
		if err != nil {
			e.pushDecoded(decoded{err: err})
			return
		}

		pkt, err := e.codec.DecodeAny(r, fh)
		if err != nil {
			e.pushDecoded(decoded{fh: fh, err: err})
			return
		}

		e.pushDecoded(decoded{pkt: pkt, fh: fh})
	}
}

func (e *Engine) pushDecoded(d decoded) {
	select {
	case e.decoded <- d:
	case <-e.closeCh:
	}
}

// driverLoop is the engine's driver goroutine: it handles decoded inbound
// packets, the keep-alive, retry and cleanup tickers and flush requests,
// one event at a time. Send also updates the in-flight store and alias
// tables from the caller's goroutine, under their own mutexes.
func (e *Engine) driverLoop() {
	defer e.wg.Done()

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	if e.clientKeepAlive != nil {
		ticker = time.NewTicker(e.cfg.KeepAlive / 2)
		tickCh = ticker.C
		defer ticker.Stop()
	} else if e.serverKeepAlive != nil {
		ticker = time.NewTicker(e.cfg.KeepAlive / 2)
		tickCh = ticker.C
		defer ticker.Stop()
	}

	var retryTicker *time.Ticker
	var retryTickCh <-chan time.Time
	if e.cfg.RetryInterval > 0 && e.cfg.MaxRetries > 0 {
		retryTicker = time.NewTicker(e.cfg.RetryInterval)
		retryTickCh = retryTicker.C
		defer retryTicker.Stop()
	}

	var cleanupTicker *time.Ticker
	var cleanupTickCh <-chan time.Time
	if e.cfg.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(e.cfg.CleanupInterval)
		cleanupTickCh = cleanupTicker.C
		defer cleanupTicker.Stop()
	}

	for {
		select {
		case <-e.closeCh:
			return

		case d := <-e.decoded:
			if d.err != nil {
				e.deliver(Inbound{Err: d.err})
				go e.Close()
				return
			}
			e.handleInbound(d.pkt, d.fh)

		case <-tickCh:
			e.handleKeepAliveTick()

		case <-retryTickCh:
			e.retryInflight(time.Now())

		case <-cleanupTickCh:
			e.expireInflight(time.Now())

		case <-e.flushCh:
			// Drain any further already-queued sends before flushing, so a
			// burst of Send calls within one turn coalesces into one write.
			for {
				select {
				case <-e.flushCh:
					continue
				default:
				}
				break
			}
			if err := e.bulk.Flush(); err != nil {
				e.deliver(Inbound{Err: err})
			}
		}
	}
}

func (e *Engine) deliver(in Inbound) {
	select {
	case e.recvCh <- in:
	case <-e.closeCh:
	}
}

func (e *Engine) handleKeepAliveTick() {
	now := time.Now()

	if e.clientKeepAlive != nil {
		switch e.clientKeepAlive.Tick(now) {
		case keepAliveSendPing:
			_ = e.Send(&encoding.PingreqPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGREQ}})
		case keepAliveTimedOut:
			e.disconnectOnTimeout()
		}
	}

	if e.serverKeepAlive != nil && e.serverKeepAlive.Expired(now) {
		e.disconnectOnTimeout()
	}
}

func (e *Engine) disconnectOnTimeout() {
	if e.cfg.Version != packet.Version311 {
		_ = e.Send(&encoding.DisconnectPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.DISCONNECT},
			ReasonCode:  encoding.ReasonKeepAliveTimeout,
		})
	}
	e.deliver(Inbound{Err: ErrKeepAliveTimeout})
	go e.Close()
}
