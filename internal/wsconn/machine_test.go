package wsconn

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/kestrelws/gowsc/internal/closecode"
	"github.com/kestrelws/gowsc/internal/wsframe"
)

const testGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func acceptFor(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(testGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// fakeServer plays the server side of an in-memory net.Pipe: it
// completes the handshake and lets the test read/write raw frames
// without pulling in a real listener.
type fakeServer struct {
	conn net.Conn
	br   *bufio.Reader
}

func (s *fakeServer) completeHandshake(t *testing.T) {
	t.Helper()
	req, err := http.ReadRequest(s.br)
	if err != nil {
		t.Fatalf("fakeServer: read request: %v", err)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptFor(key) + "\r\n\r\n"
	if _, err := s.conn.Write([]byte(resp)); err != nil {
		t.Fatalf("fakeServer: write response: %v", err)
	}
}

// readFrame decodes exactly one frame, accumulating bytes from the
// pipe as needed. It is masked-aware only insofar as it leaves
// unmasking to wsframe.Decode, which the client's frames require.
func (s *fakeServer) readFrame(t *testing.T) *wsframe.Frame {
	t.Helper()
	var buf []byte
	for {
		f, _, err := wsframe.Decode(buf)
		if err != nil {
			t.Fatalf("fakeServer: decode frame: %v", err)
		}
		if f != nil {
			return f
		}
		chunk := make([]byte, 4096)
		n, rerr := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			t.Fatalf("fakeServer: read: %v", rerr)
		}
	}
}

// writeFrame writes an unmasked server-to-client frame, per RFC 6455.
func (s *fakeServer) writeFrame(t *testing.T, opcode byte, payload []byte) {
	t.Helper()
	var b0 byte = 0x80 | (opcode & 0x0F)
	out := []byte{b0}
	n := len(payload)
	switch {
	case n <= 125:
		out = append(out, byte(n))
	case n <= 0xFFFF:
		out = append(out, 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		out = append(out, ext[:]...)
	default:
		out = append(out, 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		out = append(out, ext[:]...)
	}
	out = append(out, payload...)
	if _, err := s.conn.Write(out); err != nil {
		t.Fatalf("fakeServer: write frame: %v", err)
	}
}

type recorder struct {
	opened chan struct{}
	closed chan closeResult
	texts  chan string
	errs   chan string
}

type closeResult struct {
	code   closecode.Code
	reason string
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan struct{}, 1),
		closed: make(chan closeResult, 1),
		texts:  make(chan string, 8),
		errs:   make(chan string, 8),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnOpen: func() {
			select {
			case r.opened <- struct{}{}:
			default:
			}
		},
		OnClose: func(code closecode.Code, reason string) {
			select {
			case r.closed <- closeResult{code, reason}:
			default:
			}
		},
		OnError: func(code int, message string) {
			select {
			case r.errs <- message:
			default:
			}
		},
		OnMessage: func(text string) {
			r.texts <- text
		},
	}
}

func newTestPair(t *testing.T, cfg Config) (*Machine, *fakeServer, *recorder) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	rec := newRecorder()
	if cfg.URL == nil {
		u, _ := url.Parse("ws://example.test/ws")
		cfg.URL = u
	}
	cfg.Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	m := New(cfg, rec.callbacks())
	return m, &fakeServer{conn: serverConn, br: bufio.NewReader(serverConn)}, rec
}

func waitOpen(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}
}

func TestMachineOpensOnSuccessfulHandshake(t *testing.T) {
	m, srv, rec := newTestPair(t, Config{})
	m.Start()
	srv.completeHandshake(t)
	waitOpen(t, rec)
	if m.State() != Open {
		t.Fatalf("expected Open, got %v", m.State())
	}
	m.Stop()
	f := srv.readFrame(t)
	srv.writeFrame(t, wsframe.OpClose, f.Payload)
	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestMachineDeliversTextMessage(t *testing.T) {
	m, srv, rec := newTestPair(t, Config{})
	m.Start()
	srv.completeHandshake(t)
	waitOpen(t, rec)

	srv.writeFrame(t, wsframe.OpText, []byte("hello"))

	select {
	case text := <-rec.texts:
		if text != "hello" {
			t.Fatalf("got %q, want %q", text, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for text message")
	}
	m.Stop()
	f := srv.readFrame(t)
	srv.writeFrame(t, wsframe.OpClose, f.Payload)
	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestMachineGracefulCloseRoundTrip(t *testing.T) {
	m, srv, rec := newTestPair(t, Config{})
	m.Start()
	srv.completeHandshake(t)
	waitOpen(t, rec)

	m.Stop()

	f := srv.readFrame(t)
	if f.Opcode != wsframe.OpClose {
		t.Fatalf("expected close frame, got opcode %d", f.Opcode)
	}
	srv.writeFrame(t, wsframe.OpClose, f.Payload)

	select {
	case res := <-rec.closed:
		if res.code != closecode.Normal {
			t.Fatalf("expected Normal close, got %v", res.code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestMachineClosesAbnormallyOnTransportError(t *testing.T) {
	m, srv, rec := newTestPair(t, Config{})
	m.Start()
	srv.completeHandshake(t)
	waitOpen(t, rec)

	srv.conn.Close()

	select {
	case res := <-rec.closed:
		if res.code != closecode.Abnormal {
			t.Fatalf("expected Abnormal close, got %v", res.code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestEnqueueRejectsOnceQueueIsFull(t *testing.T) {
	u, _ := url.Parse("ws://example.test/ws")
	m := New(Config{URL: u, SendQueueCapacity: 2}, Callbacks{})
	if !m.EnqueueBinary([]byte("a")) || !m.EnqueueBinary([]byte("b")) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if m.EnqueueBinary([]byte("c")) {
		t.Fatal("expected third enqueue to be rejected")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	u, _ := url.Parse("ws://example.test/ws")
	m := New(Config{URL: u}, Callbacks{})
	m.Stop()
	m.Stop()
	if !m.stopRequested.Load() {
		t.Fatal("expected stopRequested to be set")
	}
}

func TestCloseCallbackFiresAtMostOnce(t *testing.T) {
	n := 0
	m := New(Config{}, Callbacks{OnClose: func(code closecode.Code, reason string) { n++ }})
	m.fireCloseOnce(closecode.Normal, "")
	m.fireCloseOnce(closecode.GoingAway, "again")
	if n != 1 {
		t.Fatalf("expected OnClose exactly once, got %d", n)
	}
}
