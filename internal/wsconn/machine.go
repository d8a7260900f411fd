// Package wsconn implements the connection state machine and the
// single event loop that owns the socket: it serializes writes,
// manages the close handshake, and mediates between caller goroutines
// (which may invoke Start/Stop/Enqueue* from anywhere) and the I/O
// layer underneath. This is component G of the specification; every
// mutable field below is touched only by the loop goroutine, per
// spec.md §3's ownership rule — caller goroutines reach it solely
// through the atomics, the send queue, and the wakeup signal.
package wsconn

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelws/gowsc/internal/closecode"
	"github.com/kestrelws/gowsc/internal/handshake"
	"github.com/kestrelws/gowsc/internal/pmdeflate"
	"github.com/kestrelws/gowsc/internal/receiver"
	"github.com/kestrelws/gowsc/internal/sendq"
	"github.com/kestrelws/gowsc/internal/wsdial"
)

// DefaultSendQueueCapacity is the bound spec.md §3 names for the
// pending-send queue.
const DefaultSendQueueCapacity = 1024

// DefaultCloseTimeout is how long Closing waits for the peer's close
// reply before the connection is forced to Closed.
const DefaultCloseTimeout = 2 * time.Second

// Callbacks are invoked exclusively from the loop goroutine; no two
// callbacks for the same Machine ever run concurrently, and a
// callback must never block (spec.md §5).
type Callbacks struct {
	OnOpen    func()
	OnClose   func(code closecode.Code, reason string)
	OnError   func(code int, message string)
	OnMessage func(text string)
	OnBinary  func(data []byte)
}

// Config is every attribute spec.md §3 lists on the Connection entity
// that is fixed for the lifetime of a Machine.
type Config struct {
	URL                  *url.URL
	ServerName           string // TLS SNI / certificate verification name; defaults to URL.Hostname()
	Headers              http.Header
	Subprotocols         []string
	CompressionRequested bool
	PingInterval         time.Duration
	ConnectTimeout       time.Duration
	SendQueueCapacity    int
	Dialer               wsdial.Dialer
	TLSOptions           wsdial.TLSOptions
	Logger               Logger
}

func (c Config) addr() string {
	host := c.URL.Host
	if host == c.URL.Hostname() {
		if c.URL.Scheme == "wss" {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	return host
}

func (c Config) secure() bool { return c.URL.Scheme == "wss" }

// Machine is the connection core: one loop goroutine per instance,
// owning every runtime field spec.md §3 marks as loop-exclusive.
type Machine struct {
	cfg Config
	cb  Callbacks
	log Logger

	conn   netConn
	queue  *sendq.SendQueue
	wake   sendq.Wakeup
	loopWG sync.WaitGroup

	state atomic.Int32

	running        atomic.Bool
	stopRequested  atomic.Bool
	closeCBFired   atomic.Bool
	protocolFailed atomic.Bool
	upgraded       atomic.Bool
	closeSent      atomic.Bool

	// loop-owned only; never touched by a caller goroutine.
	recv           *receiver.Receiver
	deflater       *pmdeflate.Deflater
	deflateCfg     pmdeflate.Config
	inboundBuf     []byte
	writeBuf       []byte
	pendingCode    closecode.Code
	pendingReason  string
	pingInFlight   bool
	closeTimer     *time.Timer
}

// netConn is the minimal surface Machine needs from a connected byte
// stream; satisfied by net.Conn and by test doubles.
type netConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// New constructs a Machine in Disconnected state. Call Start to begin
// dialing.
func New(cfg Config, cb Callbacks) *Machine {
	if cfg.SendQueueCapacity <= 0 {
		cfg.SendQueueCapacity = DefaultSendQueueCapacity
	}
	if cfg.ServerName == "" && cfg.URL != nil {
		cfg.ServerName = cfg.URL.Hostname()
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	m := &Machine{
		cfg:   cfg,
		cb:    cb,
		log:   cfg.Logger,
		queue: sendq.NewSendQueue(cfg.SendQueueCapacity),
		wake:  sendq.NewWakeup(),
	}
	m.state.Store(int32(Disconnected))
	return m
}

// State returns the current connection state. Safe from any goroutine.
func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) setState(s State) {
	m.state.Store(int32(s))
}

// Start begins dialing if this is the first call; idempotent.
func (m *Machine) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.loopWG.Add(1)
	go m.run()
}

// Stop requests a graceful disconnect; idempotent, returns immediately.
func (m *Machine) Stop() {
	if !m.stopRequested.CompareAndSwap(false, true) {
		return
	}
	m.wake.Signal()
}

// Wait blocks until the loop goroutine has exited. Used by callers
// that invoke Stop from outside a callback and want to join.
func (m *Machine) Wait() {
	m.loopWG.Wait()
}

// EnqueueText enqueues a text message. It returns false synchronously,
// without invoking any callback, if the queue is full or the local
// close has already been sent.
func (m *Machine) EnqueueText(s string) bool {
	if m.closeSent.Load() {
		return false
	}
	ok := m.queue.Push(sendq.Pending{Kind: sendq.PendingText, Text: s})
	if ok {
		m.wake.Signal()
	}
	return ok
}

// EnqueueBinary enqueues a binary message, same contract as EnqueueText.
func (m *Machine) EnqueueBinary(b []byte) bool {
	if m.closeSent.Load() {
		return false
	}
	ok := m.queue.Push(sendq.Pending{Kind: sendq.PendingBinary, Binary: b})
	if ok {
		m.wake.Signal()
	}
	return ok
}

// EnqueueClose requests a graceful close with the given code and
// reason. It is equivalent to Stop for the default code; idempotent
// with Stop in that only the first of either wins the race to send
// the local close frame.
func (m *Machine) EnqueueClose(code closecode.Code, reason string) bool {
	if !m.stopRequested.CompareAndSwap(false, true) {
		return false
	}
	ok := m.queue.Push(sendq.Pending{Kind: sendq.PendingClose, CloseCode: uint16(code), CloseReason: reason})
	if ok {
		m.wake.Signal()
	}
	return ok
}

func (m *Machine) dialContext() (context.Context, context.CancelFunc) {
	if m.cfg.ConnectTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
}

func (m *Machine) fireError(code ErrorCodeAlias, message string) {
	if m.cb.OnError != nil {
		m.cb.OnError(int(code), message)
	}
}

// ErrorCodeAlias avoids importing the root package from wsconn (which
// would be a cycle, since the root package imports wsconn); the root
// package's ErrorCode values are numerically identical and re-exported
// through this alias's underlying type.
type ErrorCodeAlias int

const (
	ErrHandshake ErrorCodeAlias = 4001
	ErrDial      ErrorCodeAlias = 4002
	ErrTLS       ErrorCodeAlias = 4003
	ErrSend      ErrorCodeAlias = 4004
)

func (m *Machine) fireCloseOnce(code closecode.Code, reason string) {
	if !m.closeCBFired.CompareAndSwap(false, true) {
		return
	}
	m.setState(Closed)
	if m.cb.OnClose != nil {
		m.cb.OnClose(code, reason)
	}
}

func handshakeExtensions(opts *handshake.Extensions) pmdeflate.Config {
	if opts == nil || !opts.Enabled {
		return pmdeflate.Config{}
	}
	return pmdeflate.Config{
		Enabled:                 true,
		ClientNoContextTakeover: opts.ClientNoContextTakeover,
		ServerNoContextTakeover: opts.ServerNoContextTakeover,
		ClientMaxWindowBits:     opts.ClientMaxWindowBits,
		ServerMaxWindowBits:     opts.ServerMaxWindowBits,
	}
}
