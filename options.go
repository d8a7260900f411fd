package gowsc

import (
	"net/http"
	"net/url"
	"time"

	"github.com/kestrelws/gowsc/internal/wsdial"
)

// Options collects every connection-level setting spec.md §6 names.
// The zero value is not ready to use — construct with NewOptions,
// which applies the documented defaults, then call SetURL.
type Options struct {
	url            *url.URL
	headers        http.Header
	subprotocols   []string
	compression    bool
	pingInterval   time.Duration
	connectTimeout time.Duration
	tlsOptions     wsdial.TLSOptions
	queueCapacity  int
	dialer         wsdial.Dialer
	logger         Logger
}

// NewOptions returns Options with compression enabled and no ping
// interval, connect timeout, or queue capacity override — matching
// spec.md §6's stated default of enable_compression(true).
func NewOptions() *Options {
	return &Options{
		headers:     make(http.Header),
		compression: true,
	}
}

// SetURL parses raw and stores it. The scheme must be ws or wss;
// default ports 80/443 apply when no port is given.
func (o *Options) SetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return newError(ErrDial, "invalid URL").WithContext("url", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return newError(ErrDial, "unsupported scheme, want ws or wss").WithContext("scheme", u.Scheme)
	}
	o.url = u
	return nil
}

// AddHeader appends one custom header to every handshake request.
func (o *Options) AddHeader(name, value string) *Options {
	o.headers.Add(name, value)
	return o
}

// SetHeaders replaces the full custom header set.
func (o *Options) SetHeaders(h http.Header) *Options {
	o.headers = h.Clone()
	return o
}

// SetSubprotocols offers the given Sec-WebSocket-Protocol values, in
// preference order.
func (o *Options) SetSubprotocols(protocols []string) *Options {
	o.subprotocols = protocols
	return o
}

// EnableCompression toggles whether permessage-deflate is offered in
// the handshake. Default true.
func (o *Options) EnableCompression(enabled bool) *Options {
	o.compression = enabled
	return o
}

// SetPingInterval enables a periodic empty ping frame once Open, or
// disables it when d is zero.
func (o *Options) SetPingInterval(d time.Duration) *Options {
	o.pingInterval = d
	return o
}

// SetConnectionTimeout bounds dial plus handshake.
func (o *Options) SetConnectionTimeout(d time.Duration) *Options {
	o.connectTimeout = d
	return o
}

// SetTLSOptions configures the secure transport provider for wss://
// targets: CA trust mode, cipher suites, and an optional client
// certificate pair.
func (o *Options) SetTLSOptions(opts wsdial.TLSOptions) *Options {
	o.tlsOptions = opts
	return o
}

// SetSendQueueCapacity overrides the default bounded send queue
// depth of wsconn.DefaultSendQueueCapacity.
func (o *Options) SetSendQueueCapacity(n int) *Options {
	o.queueCapacity = n
	return o
}

// SetDialer overrides the default net.Dialer.DialContext-backed
// dialer, primarily for tests substituting an in-memory pipe.
func (o *Options) SetDialer(d wsdial.Dialer) *Options {
	o.dialer = d
	return o
}

// SetLogger overrides the default stdlib-log-backed Logger.
func (o *Options) SetLogger(l Logger) *Options {
	o.logger = l
	return o
}
