package gowsc

import (
	"sync"
	"sync/atomic"

	"github.com/kestrelws/gowsc/internal/closecode"
	"github.com/kestrelws/gowsc/internal/wsconn"
)

// Conn is one WebSocket client connection. Construct with NewConn,
// register whichever callbacks matter, then call Connect. Every
// method is safe to call from any goroutine, and every method except
// Wait is safe to call from within a callback, per spec.md §5.
type Conn struct {
	opts *Options

	mu        sync.RWMutex
	onOpen    func()
	onClose   func(code CloseCode, reason string)
	onError   func(code int, message string)
	onMessage func(text string)
	onBinary  func(data []byte)

	startOnce sync.Once
	machine   atomic.Pointer[wsconn.Machine]
}

// NewConn constructs a Conn from opts. opts.SetURL must already have
// succeeded.
func NewConn(opts *Options) (*Conn, error) {
	if opts == nil || opts.url == nil {
		return nil, newError(ErrDial, "options missing a URL; call SetURL first")
	}
	return &Conn{opts: opts}, nil
}

// SetOpenCallback registers fn to run once the handshake completes.
func (c *Conn) SetOpenCallback(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

// SetCloseCallback registers fn to run exactly once per connection
// lifetime, carrying the RFC 6455 close code and reason.
func (c *Conn) SetCloseCallback(fn func(code CloseCode, reason string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// SetErrorCallback registers fn to run before the close callback for
// dial, TLS, handshake, transport and protocol failures.
func (c *Conn) SetErrorCallback(fn func(code int, message string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SetMessageCallback registers fn to run for each complete inbound
// text message.
func (c *Conn) SetMessageCallback(fn func(text string)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// SetBinaryCallback registers fn to run for each complete inbound
// binary message.
func (c *Conn) SetBinaryCallback(fn func(data []byte)) {
	c.mu.Lock()
	c.onBinary = fn
	c.mu.Unlock()
}

// Connect starts dialing in the background and returns immediately.
// Idempotent: only the first call has any effect.
func (c *Conn) Connect() {
	c.startOnce.Do(func() {
		m := wsconn.New(c.machineConfig(), c.trampolines())
		c.machine.Store(m)
		m.Start()
	})
}

// Dial is Connect under the name callers migrating from a
// blocking-connect API expect; it never blocks here either.
func (c *Conn) Dial() { c.Connect() }

func (c *Conn) machineConfig() wsconn.Config {
	o := c.opts
	logger := o.logger
	if logger == nil {
		logger = DefaultLogger()
	}
	return wsconn.Config{
		URL:                  o.url,
		Headers:              o.headers,
		Subprotocols:         o.subprotocols,
		CompressionRequested: o.compression,
		PingInterval:         o.pingInterval,
		ConnectTimeout:       o.connectTimeout,
		SendQueueCapacity:    o.queueCapacity,
		Dialer:               o.dialer,
		TLSOptions:           o.tlsOptions,
		Logger:               logger,
	}
}

// trampolines builds the wsconn.Callbacks that read the current
// setter-registered function at call time, under c.mu, so that
// Set*Callback remains safe to call before or after Connect.
func (c *Conn) trampolines() wsconn.Callbacks {
	return wsconn.Callbacks{
		OnOpen: func() {
			c.mu.RLock()
			fn := c.onOpen
			c.mu.RUnlock()
			if fn != nil {
				fn()
			}
		},
		OnClose: func(code closecode.Code, reason string) {
			c.mu.RLock()
			fn := c.onClose
			c.mu.RUnlock()
			if fn != nil {
				fn(code, reason)
			}
		},
		OnError: func(code int, message string) {
			c.mu.RLock()
			fn := c.onError
			c.mu.RUnlock()
			if fn != nil {
				fn(code, message)
			}
		},
		OnMessage: func(text string) {
			c.mu.RLock()
			fn := c.onMessage
			c.mu.RUnlock()
			if fn != nil {
				fn(text)
			}
		},
		OnBinary: func(data []byte) {
			c.mu.RLock()
			fn := c.onBinary
			c.mu.RUnlock()
			if fn != nil {
				fn(data)
			}
		},
	}
}

// SendText enqueues a text message. It returns false, without
// blocking, when the send queue is full or the connection has
// already started closing, and does so before Connect has been
// called at all.
func (c *Conn) SendText(s string) bool {
	m := c.machine.Load()
	if m == nil {
		return false
	}
	return m.EnqueueText(s)
}

// SendBinary enqueues a binary message, same contract as SendText.
func (c *Conn) SendBinary(b []byte) bool {
	m := c.machine.Load()
	if m == nil {
		return false
	}
	return m.EnqueueBinary(b)
}

// Disconnect requests a graceful close. Idempotent, and safe before
// Connect (a no-op) or after the connection is already closed.
func (c *Conn) Disconnect() {
	m := c.machine.Load()
	if m == nil {
		return
	}
	m.Stop()
}

// Wait blocks until the connection's loop goroutine has exited, which
// happens shortly after the close callback fires. Called from inside
// a callback it never returns, since the loop goroutine is the one
// running that callback.
func (c *Conn) Wait() {
	m := c.machine.Load()
	if m == nil {
		return
	}
	m.Wait()
}
