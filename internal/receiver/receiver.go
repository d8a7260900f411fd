// Package receiver drives the frame codec, the permessage-deflate
// engine, and the UTF-8 validator over an inbound byte stream: it
// reassembles fragmented messages, dispatches control frames, and
// classifies every RFC 6455 protocol violation into the close code
// that must end the connection.
package receiver

import (
	"unicode/utf8"

	"github.com/kestrelws/gowsc/internal/closecode"
	"github.com/kestrelws/gowsc/internal/pmdeflate"
	"github.com/kestrelws/gowsc/internal/utf8frag"
	"github.com/kestrelws/gowsc/internal/wsframe"
)

// Kind discriminates the Event variants a Receiver can emit.
type Kind int

const (
	EventText Kind = iota
	EventBinary
	EventPing
	EventPong
	EventClose
)

// Event is one unit of work delivered upward to the connection core.
type Event struct {
	Kind        Kind
	Text        string
	Binary      []byte
	Payload     []byte // ping/pong payload
	CloseCode   closecode.Code
	CloseReason string
}

// Receiver holds the fragment assembly buffer and UTF-8 validator for
// one connection. It is a pure consumer: it never touches the socket
// directly, and it is driven entirely by the connection core's single
// loop goroutine.
type Receiver struct {
	compression pmdeflate.Config
	inflater    *pmdeflate.Inflater
	validator   utf8frag.Validator

	assembling bool
	msgOpcode  byte
	compressed bool
	buf        []byte
}

// New constructs a Receiver. cfg.Enabled selects whether RSV1 on a
// data frame's first fragment is accepted as "this message is
// compressed" or rejected as a protocol error.
func New(cfg pmdeflate.Config) *Receiver {
	r := &Receiver{compression: cfg}
	if cfg.Enabled {
		r.inflater = pmdeflate.NewInflater(cfg)
	}
	return r
}

// Feed decodes and dispatches as many complete frames as buf holds.
// It returns the number of bytes consumed and the events produced, in
// order. A non-nil error means the connection must be failed with
// err.Code; any events already produced up to that point are still
// valid and should be delivered before the failure is handled.
func (r *Receiver) Feed(buf []byte) (events []Event, consumed int, err *closecode.Error) {
	for {
		f, n, ferr := wsframe.Decode(buf[consumed:])
		if ferr != nil {
			return events, consumed, asCloseError(ferr)
		}
		if f == nil {
			return events, consumed, nil
		}
		consumed += n

		if f.Masked {
			return events, consumed, &closecode.Error{Code: closecode.ProtocolError, Reason: "server frame must not be masked"}
		}
		if f.RSV1 && !r.compression.Enabled {
			return events, consumed, &closecode.Error{Code: closecode.ProtocolError, Reason: "RSV1 set without negotiated compression"}
		}

		if wsframe.IsControl(f.Opcode) {
			ev, cerr := r.handleControl(f)
			if cerr != nil {
				return events, consumed, cerr
			}
			events = append(events, ev)
			continue
		}

		ev, cerr := r.handleData(f)
		if cerr != nil {
			return events, consumed, cerr
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
}

func (r *Receiver) handleControl(f *wsframe.Frame) (Event, *closecode.Error) {
	switch f.Opcode {
	case wsframe.OpPing:
		return Event{Kind: EventPing, Payload: f.Payload}, nil
	case wsframe.OpPong:
		return Event{Kind: EventPong, Payload: f.Payload}, nil
	case wsframe.OpClose:
		code, reason, sanitizeErr := closecode.Sanitize(f.Payload)
		if sanitizeErr == nil && !utf8.ValidString(reason) {
			code, reason = closecode.ProtocolError, ""
			sanitizeErr = &closecode.Error{Code: closecode.ProtocolError, Reason: "invalid UTF-8 in close reason"}
		}
		_ = sanitizeErr // the sanitized code/reason is what we deliver either way
		return Event{Kind: EventClose, CloseCode: code, CloseReason: reason}, nil
	default:
		return Event{}, &closecode.Error{Code: closecode.ProtocolError, Reason: "unhandled control opcode"}
	}
}

func (r *Receiver) handleData(f *wsframe.Frame) (*Event, *closecode.Error) {
	switch f.Opcode {
	case wsframe.OpText, wsframe.OpBinary:
		if r.assembling {
			return nil, &closecode.Error{Code: closecode.ProtocolError, Reason: "new data frame mid-fragmentation"}
		}
		if f.Fin {
			if f.Opcode == wsframe.OpText && !f.RSV1 {
				if !r.validator.Feed(f.Payload) {
					return nil, r.failInvalidPayload()
				}
			}
			return r.finishMessage(f.Opcode, f.RSV1, f.Payload)
		}
		r.assembling = true
		r.msgOpcode = f.Opcode
		r.compressed = f.RSV1
		r.buf = append(r.buf[:0], f.Payload...)
		if f.Opcode == wsframe.OpText && !r.compressed {
			if !r.validator.Feed(f.Payload) {
				return nil, r.failInvalidPayload()
			}
		}
		return nil, nil

	case wsframe.OpContinuation:
		if !r.assembling {
			return nil, &closecode.Error{Code: closecode.ProtocolError, Reason: "continuation without initial frame"}
		}
		r.buf = append(r.buf, f.Payload...)
		if r.msgOpcode == wsframe.OpText && !r.compressed {
			if !r.validator.Feed(f.Payload) {
				return nil, r.failInvalidPayload()
			}
		}
		if !f.Fin {
			return nil, nil
		}
		opcode, compressed, payload := r.msgOpcode, r.compressed, r.buf
		r.assembling = false
		r.buf = nil
		return r.finishMessage(opcode, compressed, payload)

	default:
		return nil, &closecode.Error{Code: closecode.ProtocolError, Reason: "unhandled data opcode"}
	}
}

// finishMessage completes a single- or multi-frame message: it
// decompresses if needed, validates UTF-8 (post-decompression for
// compressed text, already-validated incrementally for plain text),
// and resets per-message state.
func (r *Receiver) finishMessage(opcode byte, compressed bool, payload []byte) (*Event, *closecode.Error) {
	defer r.validator.Reset()

	if compressed {
		if r.inflater == nil {
			return nil, &closecode.Error{Code: closecode.ProtocolError, Reason: "compressed message without negotiated extension"}
		}
		out, err := r.inflater.Decompress(payload)
		if err != nil {
			return nil, &closecode.Error{Code: closecode.InvalidPayload, Reason: err.Error()}
		}
		payload = out
		if opcode == wsframe.OpText && !utf8.Valid(payload) {
			return nil, r.failInvalidPayload()
		}
	} else if opcode == wsframe.OpText {
		if !r.validator.Finish() {
			return nil, r.failInvalidPayload()
		}
	}

	if opcode == wsframe.OpText {
		return &Event{Kind: EventText, Text: string(payload)}, nil
	}
	return &Event{Kind: EventBinary, Binary: payload}, nil
}

func (r *Receiver) failInvalidPayload() *closecode.Error {
	r.assembling = false
	r.buf = nil
	return &closecode.Error{Code: closecode.InvalidPayload, Reason: "invalid UTF-8 in text message"}
}

func asCloseError(err error) *closecode.Error {
	if ce, ok := err.(*closecode.Error); ok {
		return ce
	}
	return &closecode.Error{Code: closecode.ProtocolError, Reason: err.Error()}
}
