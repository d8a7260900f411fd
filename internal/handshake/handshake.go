// Package handshake composes and validates the RFC 6455 HTTP/1.1
// Upgrade exchange, including permessage-deflate (RFC 7692) extension
// parameter negotiation.
package handshake

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// webSocketGUID is the magic GUID RFC 6455 §1.3 appends to the client
// key before hashing to compute Sec-WebSocket-Accept.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// extensionOffer is the literal header value offered when compression
// is requested; spec.md §6 fixes this wire format exactly.
const extensionOffer = "permessage-deflate; client_max_window_bits"

// Request holds everything needed to build and later validate one
// handshake attempt.
type Request struct {
	URL                  *url.URL
	Headers              http.Header // caller-supplied custom headers, appended verbatim
	Subprotocols         []string
	CompressionRequested bool
}

// Extensions captures the negotiated permessage-deflate parameters, or
// Enabled=false if the server did not accept the extension.
type Extensions struct {
	Enabled                 bool
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

// Build composes the client's HTTP/1.1 GET Upgrade request and returns
// the Sec-WebSocket-Key it generated, which the caller must retain to
// validate the response.
func Build(req *Request) (*http.Request, string, error) {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", fmt.Errorf("handshake: generate key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	httpReq := &http.Request{
		Method:     http.MethodGet,
		URL:        req.URL,
		Host:       req.URL.Host,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
	}
	httpReq.Header.Set("Host", req.URL.Host)
	httpReq.Header.Set("Upgrade", "websocket")
	httpReq.Header.Set("Connection", "Upgrade")
	httpReq.Header.Set("Sec-WebSocket-Version", "13")
	httpReq.Header.Set("Sec-WebSocket-Key", key)

	if len(req.Subprotocols) > 0 {
		httpReq.Header.Set("Sec-WebSocket-Protocol", strings.Join(req.Subprotocols, ", "))
	}
	if req.CompressionRequested {
		httpReq.Header.Set("Sec-WebSocket-Extensions", extensionOffer)
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	return httpReq, key, nil
}

// computeAccept computes the expected Sec-WebSocket-Accept value for key.
func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Validate checks resp against the handshake rules of spec.md §4.E and
// parses any negotiated permessage-deflate extension. requestedProtos
// is the list the client offered, used to validate the echoed
// Sec-WebSocket-Protocol, if any.
func Validate(resp *http.Response, key string, requestedProtos []string) (*Extensions, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("handshake: unexpected status %d", resp.StatusCode)
	}
	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return nil, fmt.Errorf("handshake: missing or invalid Upgrade header")
	}
	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return nil, fmt.Errorf("handshake: missing or invalid Connection header")
	}
	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept == "" || accept != computeAccept(key) {
		return nil, fmt.Errorf("handshake: invalid Sec-WebSocket-Accept")
	}

	if proto := resp.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		if !containsFold(requestedProtos, proto) {
			return nil, fmt.Errorf("handshake: server chose unoffered subprotocol %q", proto)
		}
	}

	ext := &Extensions{ClientMaxWindowBits: 15, ServerMaxWindowBits: 15}
	extHeader := resp.Header.Get("Sec-WebSocket-Extensions")
	if extHeader == "" {
		return ext, nil
	}
	if err := parseExtensions(extHeader, ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// parseExtensions parses a single permessage-deflate offer of the form
// "permessage-deflate; param1; param2=value2; ...". Unknown extensions
// or parameters are rejected, per spec.md §4.E.
func parseExtensions(header string, ext *Extensions) error {
	parts := strings.Split(header, ";")
	name := strings.TrimSpace(parts[0])
	if name != "permessage-deflate" {
		return fmt.Errorf("handshake: unsupported extension %q", name)
	}
	ext.Enabled = true

	for _, raw := range parts[1:] {
		param := strings.TrimSpace(raw)
		if param == "" {
			continue
		}
		key, value, hasValue := strings.Cut(param, "=")
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch key {
		case "server_no_context_takeover":
			ext.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			ext.ClientNoContextTakeover = true
		case "server_max_window_bits":
			bits, err := parseWindowBits(value, hasValue)
			if err != nil {
				return err
			}
			ext.ServerMaxWindowBits = bits
		case "client_max_window_bits":
			bits, err := parseWindowBits(value, hasValue)
			if err != nil {
				return err
			}
			ext.ClientMaxWindowBits = bits
		default:
			return fmt.Errorf("handshake: unknown extension parameter %q", key)
		}
	}
	return nil
}

func parseWindowBits(value string, hasValue bool) (int, error) {
	if !hasValue || value == "" {
		return 15, nil
	}
	bits, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("handshake: invalid window bits %q", value)
	}
	if bits < 8 || bits > 15 {
		return 0, fmt.Errorf("handshake: window bits %d out of range 8..15", bits)
	}
	return bits, nil
}

// headerContainsToken reports whether headerName contains token as a
// comma-separated, case-insensitive member (per RFC 6455's requirement
// that Connection/Upgrade be matched by token, not exact string).
func headerContainsToken(h http.Header, headerName, token string) bool {
	token = strings.ToLower(token)
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(part)) == token {
				return true
			}
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
