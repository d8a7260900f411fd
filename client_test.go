package gowsc

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/kestrelws/gowsc/internal/wsframe"
)

const testGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func acceptFor(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(testGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

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

func newTestConn(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	opts := NewOptions()
	if err := opts.SetURL("ws://example.test/echo"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	opts.SetConnectionTimeout(2 * time.Second)
	opts.SetDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	})

	conn, err := NewConn(opts)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	return conn, &fakeServer{conn: serverConn, br: bufio.NewReader(serverConn)}
}

func TestConnOpenSendReceiveAndClose(t *testing.T) {
	conn, srv := newTestConn(t)

	opened := make(chan struct{}, 1)
	texts := make(chan string, 1)
	closed := make(chan struct{}, 1)
	var closeCode CloseCode
	var closeReason string

	conn.SetOpenCallback(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	conn.SetMessageCallback(func(text string) {
		texts <- text
	})
	conn.SetCloseCallback(func(code CloseCode, reason string) {
		closeCode, closeReason = code, reason
		select {
		case closed <- struct{}{}:
		default:
		}
	})

	conn.Connect()
	conn.Connect() // idempotent

	srv.completeHandshake(t)

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for open callback")
	}

	if !conn.SendText("hello") {
		t.Fatal("expected SendText to succeed once open")
	}
	f := srv.readFrame(t)
	if f.Opcode != wsframe.OpText || string(f.Payload) != "hello" {
		t.Fatalf("server received unexpected frame: opcode=%d payload=%q", f.Opcode, f.Payload)
	}

	srv.writeFrame(t, wsframe.OpText, []byte("world"))
	select {
	case text := <-texts:
		if text != "world" {
			t.Fatalf("got %q, want %q", text, "world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message callback")
	}

	conn.Disconnect()
	conn.Disconnect() // idempotent

	closeFrame := srv.readFrame(t)
	if closeFrame.Opcode != wsframe.OpClose {
		t.Fatalf("expected close frame, got opcode %d", closeFrame.Opcode)
	}
	srv.writeFrame(t, wsframe.OpClose, closeFrame.Payload)

	select {
	case <-closed:
		if closeCode != CloseNormal {
			t.Fatalf("expected normal closure, got %v %q", closeCode, closeReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close callback")
	}

	conn.Wait()
}

func TestSendBeforeConnectIsRejected(t *testing.T) {
	conn, _ := newTestConn(t)
	if conn.SendText("too early") {
		t.Fatal("expected SendText to fail before Connect")
	}
}

func TestDisconnectBeforeConnectIsNoop(t *testing.T) {
	conn, _ := newTestConn(t)
	conn.Disconnect() // must not panic
}
