package wsconn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kestrelws/gowsc/internal/handshake"
	"github.com/kestrelws/gowsc/internal/pmdeflate"
	"github.com/kestrelws/gowsc/internal/receiver"
	"github.com/kestrelws/gowsc/internal/wsdial"
)

// deadlineSetter lets connect bound the dial+handshake phase by the
// same ConnectTimeout that bounded the dial, without widening the
// netConn interface the loop depends on afterward.
type deadlineSetter interface {
	SetDeadline(t time.Time) error
}

// connect drives Disconnected -> Connecting -> Handshaking -> (Open on
// success, back to Closed on failure), per spec.md §4.G.
func (m *Machine) connect(ctx context.Context) error {
	m.setState(Connecting)
	conn, err := wsdial.Dial(ctx, m.cfg.Dialer, m.cfg.addr(), m.cfg.secure(), m.cfg.TLSOptions, m.cfg.ServerName)
	if err != nil {
		m.log.Errorf("dial %s failed: %v", m.cfg.addr(), err)
		var tlsErr *wsdial.TLSError
		if errors.As(err, &tlsErr) {
			m.fireError(ErrTLS, err.Error())
		} else {
			m.fireError(ErrDial, err.Error())
		}
		return err
	}

	if dl, ok := ctx.Deadline(); ok {
		if ds, ok2 := conn.(deadlineSetter); ok2 {
			_ = ds.SetDeadline(dl)
		}
	}

	m.setState(Handshaking)
	leftover, ext, herr := m.performHandshake(conn)
	if herr != nil {
		conn.Close()
		m.log.Errorf("handshake failed: %v", herr)
		m.fireError(ErrHandshake, herr.Error())
		return herr
	}

	if ds, ok := conn.(deadlineSetter); ok {
		_ = ds.SetDeadline(time.Time{})
	}

	m.conn = conn
	m.deflateCfg = handshakeExtensions(ext)
	if m.deflateCfg.Enabled {
		d, derr := pmdeflate.NewDeflater(m.deflateCfg)
		if derr != nil {
			conn.Close()
			m.fireError(ErrHandshake, derr.Error())
			return derr
		}
		m.deflater = d
	}
	m.recv = receiver.New(m.deflateCfg)
	m.inboundBuf = append(m.inboundBuf[:0], leftover...)
	m.upgraded.Store(true)
	return nil
}

// performHandshake builds and sends the Upgrade request, then parses
// and validates the response. Any bytes the server pipelined
// immediately after the response headers are returned so the caller
// can feed them to the receiver instead of losing them.
func (m *Machine) performHandshake(conn net.Conn) ([]byte, *handshake.Extensions, error) {
	req := &handshake.Request{
		URL:                  m.cfg.URL,
		Headers:              m.cfg.Headers,
		Subprotocols:         m.cfg.Subprotocols,
		CompressionRequested: m.cfg.CompressionRequested,
	}
	httpReq, key, err := handshake.Build(req)
	if err != nil {
		return nil, nil, err
	}
	if err := httpReq.Write(conn); err != nil {
		return nil, nil, fmt.Errorf("wsconn: write handshake request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("wsconn: read handshake response: %w", err)
	}
	defer resp.Body.Close()

	ext, err := handshake.Validate(resp, key, req.Subprotocols)
	if err != nil {
		return nil, nil, err
	}

	leftover := make([]byte, br.Buffered())
	_, _ = br.Read(leftover)
	return leftover, ext, nil
}
