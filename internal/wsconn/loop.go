package wsconn

import (
	"encoding/binary"
	"time"

	"github.com/kestrelws/gowsc/internal/bufpool"
	"github.com/kestrelws/gowsc/internal/closecode"
	"github.com/kestrelws/gowsc/internal/receiver"
	"github.com/kestrelws/gowsc/internal/sendq"
	"github.com/kestrelws/gowsc/internal/wsframe"
)

const readChunkSize = 4096

var readBufPool = bufpool.New(readChunkSize)

type readResult struct {
	data []byte
	err  error
}

// run is the Machine's sole goroutine body: it dials, performs the
// handshake, then owns the connection for the rest of its life. Every
// field touched from here on is loop-exclusive; callers reach in only
// through the atomics, the send queue, and the wakeup signal.
func (m *Machine) run() {
	defer m.loopWG.Done()

	ctx, cancel := m.dialContext()
	defer cancel()

	if err := m.connect(ctx); err != nil {
		m.fireCloseOnce(closecode.Abnormal, "")
		return
	}
	defer m.conn.Close()

	m.setState(Open)
	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}

	readCh := m.startReader()

	var pingC <-chan time.Time
	if m.cfg.PingInterval > 0 {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	if m.stopRequested.Load() {
		m.initiateClose(closecode.Normal, "")
	}

	for {
		var closeC <-chan time.Time
		if m.closeTimer != nil {
			closeC = m.closeTimer.C
		}

		select {
		case <-m.wake.C():
			if !m.flushSendQueue() {
				return
			}
			if m.stopRequested.Load() && !m.closeSent.Load() {
				m.initiateClose(closecode.Normal, "")
			}

		case res, ok := <-readCh:
			if !ok {
				return
			}
			if res.err != nil {
				m.handleTransportError(res.err)
				return
			}
			done := m.handleInbound(res.data)
			readBufPool.Put(res.data[:cap(res.data)])
			if done || m.closeCBFired.Load() {
				return
			}

		case <-pingC:
			m.sendPing()

		case <-closeC:
			m.log.Warnf("close handshake timed out waiting for peer reply")
			m.fireCloseOnce(m.pendingCode, m.pendingReason)
			return
		}
	}
}

// startReader spawns the one goroutine that may block in Read, and
// funnels its results back to the loop over a channel so the loop can
// select on it alongside everything else.
func (m *Machine) startReader() <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		defer close(ch)
		for {
			buf := readBufPool.Get()
			n, err := m.conn.Read(buf)
			if n > 0 {
				ch <- readResult{data: buf[:n]}
			} else {
				readBufPool.Put(buf)
			}
			if err != nil {
				ch <- readResult{err: err}
				return
			}
		}
	}()
	return ch
}

// handleInbound feeds newly read bytes to the receiver and dispatches
// the resulting events. It reports whether the loop must terminate
// now, either because the close handshake just completed or because a
// protocol violation forced the connection closed.
func (m *Machine) handleInbound(data []byte) bool {
	m.inboundBuf = append(m.inboundBuf, data...)
	events, consumed, ferr := m.recv.Feed(m.inboundBuf)
	m.inboundBuf = append(m.inboundBuf[:0], m.inboundBuf[consumed:]...)

	for _, ev := range events {
		if m.dispatchEvent(ev) {
			return true
		}
	}

	if ferr != nil {
		m.protocolFailed.Store(true)
		m.log.Warnf("protocol violation, closing with %d: %s", ferr.Code, ferr.Reason)
		m.fireError(ErrorCodeAlias(ferr.Code), ferr.Reason)
		if !m.closeSent.Load() {
			m.initiateClose(ferr.Code, ferr.Reason)
		}
		m.stopCloseTimer()
		m.fireCloseOnce(ferr.Code, ferr.Reason)
		return true
	}
	return false
}

// dispatchEvent handles one receiver.Event and reports whether the
// close handshake is now complete.
func (m *Machine) dispatchEvent(ev receiver.Event) bool {
	switch ev.Kind {
	case receiver.EventText:
		if m.cb.OnMessage != nil {
			m.cb.OnMessage(ev.Text)
		}
	case receiver.EventBinary:
		if m.cb.OnBinary != nil {
			m.cb.OnBinary(ev.Binary)
		}
	case receiver.EventPing:
		m.sendPong(ev.Payload)
	case receiver.EventPong:
		m.pingInFlight = false
	case receiver.EventClose:
		if !m.closeSent.Load() {
			m.initiateClose(ev.CloseCode, ev.CloseReason)
		}
		m.stopCloseTimer()
		m.fireCloseOnce(ev.CloseCode, ev.CloseReason)
		return true
	}
	return false
}

// stopCloseTimer cancels the close-reply deadline once the handshake
// has completed some other way.
func (m *Machine) stopCloseTimer() {
	if m.closeTimer != nil {
		m.closeTimer.Stop()
	}
}

// flushSendQueue drains every item the caller has enqueued. It
// reports false if a write failed, in which case the loop must exit;
// the transport error has already been handled.
func (m *Machine) flushSendQueue() bool {
	for {
		p, ok := m.queue.Pop()
		if !ok {
			return true
		}
		switch p.Kind {
		case sendq.PendingText:
			if err := m.sendMessage(wsframe.OpText, []byte(p.Text)); err != nil {
				m.handleTransportError(err)
				return false
			}
		case sendq.PendingBinary:
			if err := m.sendMessage(wsframe.OpBinary, p.Binary); err != nil {
				m.handleTransportError(err)
				return false
			}
		case sendq.PendingClose:
			m.initiateClose(closecode.Code(p.CloseCode), p.CloseReason)
			return true
		}
	}
}

// sendMessage compresses msg if permessage-deflate was negotiated,
// falling back to an uncompressed frame if compression fails, per
// pmdeflate's documented fallback policy, and writes it as a single
// unfragmented frame.
func (m *Machine) sendMessage(opcode byte, msg []byte) error {
	if m.deflater == nil {
		return m.writeFrame(opcode, msg, false)
	}
	compressed, err := m.deflater.Compress(msg)
	if err != nil {
		m.log.Warnf("pmdeflate: compression failed, sending uncompressed: %v", err)
		return m.writeFrame(opcode, msg, false)
	}
	return m.writeFrame(opcode, compressed, true)
}

func (m *Machine) sendPing() {
	m.pingInFlight = true
	if err := m.writeFrame(wsframe.OpPing, nil, false); err != nil {
		m.handleTransportError(err)
	}
}

func (m *Machine) sendPong(payload []byte) {
	if err := m.writeFrame(wsframe.OpPong, payload, false); err != nil {
		m.handleTransportError(err)
	}
}

// writeFrame serializes and writes one frame. Encode always masks
// with a fresh key, as RFC 6455 requires of every client-to-server
// frame.
func (m *Machine) writeFrame(opcode byte, payload []byte, rsv1 bool) error {
	m.writeBuf = wsframe.Encode(m.writeBuf, &wsframe.Frame{Fin: true, RSV1: rsv1, Opcode: opcode, Payload: payload})
	_, err := m.conn.Write(m.writeBuf)
	return err
}

// initiateClose sends the local close frame exactly once and arms the
// close timer that bounds how long Closing waits for the peer's
// reply. Later calls are no-ops, since RFC 6455 forbids sending a
// second close frame.
func (m *Machine) initiateClose(code closecode.Code, reason string) {
	if !m.closeSent.CompareAndSwap(false, true) {
		return
	}
	m.setState(Closing)
	m.pendingCode, m.pendingReason = code, reason

	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)

	if err := m.writeFrame(wsframe.OpClose, payload, false); err != nil {
		m.fireCloseOnce(closecode.Abnormal, "")
		return
	}
	m.closeTimer = time.NewTimer(DefaultCloseTimeout)
}

// handleTransportError reports how the connection ended once Read or
// Write has failed. A local close already sent is treated as a
// graceful shutdown, using the code and reason that close frame
// carried; anything else is an abnormal closure.
func (m *Machine) handleTransportError(err error) {
	if m.closeSent.Load() {
		m.fireCloseOnce(m.pendingCode, m.pendingReason)
		return
	}
	m.fireError(ErrSend, err.Error())
	m.fireCloseOnce(closecode.Abnormal, "")
}
