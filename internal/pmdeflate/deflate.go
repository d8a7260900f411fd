// Package pmdeflate implements the permessage-deflate (RFC 7692)
// streaming compressor/decompressor: raw deflate with SYNC_FLUSH
// trailer elision and per-direction context-takeover policy.
//
// Go's compress/flate does not expose configurable window sizes the
// way zlib's deflateInit2/inflateInit2 do; ClientMaxWindowBits and
// ServerMaxWindowBits are parsed and carried through the handshake
// for wire compatibility but are not enforced at the flate.Writer /
// flate.Reader level. Context takeover is reproduced faithfully: on
// the compress side by reusing the same *flate.Writer (its internal
// dictionary naturally carries across Write/Flush calls) unless
// ClientNoContextTakeover asks for a Reset, and on the decompress
// side via flate.Resetter's dictionary parameter, fed the trailing
// window of previously inflated bytes.
package pmdeflate

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
)

// Config holds the negotiated permessage-deflate parameters. Immutable
// once a Deflater/Inflater pair has been constructed from it.
type Config struct {
	Enabled                 bool
	ClientNoContextTakeover bool
	ServerNoContextTakeover bool
	ClientMaxWindowBits     int // 8..15, this side's compression window
	ServerMaxWindowBits     int // 8..15, the peer's compression window
	Level                   int // compress/flate level, DefaultCompression if zero
}

func (c Config) level() int {
	if c.Level == 0 {
		return flate.DefaultCompression
	}
	return c.Level
}

var trailer = [4]byte{0x00, 0x00, 0xFF, 0xFF}

// ErrFallback is returned by Compress when compression could not be
// completed after all retry attempts. The caller should send the
// message uncompressed (RSV1=0) rather than fail the connection, per
// spec's compression-fallback policy.
var ErrFallback = errors.New("pmdeflate: compression failed, fall back to uncompressed")

// maxCompressAttempts bounds the buffer-growth retry ladder.
const maxCompressAttempts = 4

// Deflater compresses outbound message payloads.
type Deflater struct {
	cfg Config
	buf bytes.Buffer
	w   *flate.Writer
}

// NewDeflater constructs a Deflater for cfg. cfg.Enabled must be true.
func NewDeflater(cfg Config) (*Deflater, error) {
	d := &Deflater{cfg: cfg}
	w, err := flate.NewWriter(&d.buf, cfg.level())
	if err != nil {
		return nil, fmt.Errorf("pmdeflate: init deflate: %w", err)
	}
	d.w = w
	return d, nil
}

// Compress runs a single SYNC_FLUSH step over msg and returns the wire
// payload with the trailing 00 00 FF FF stripped. If
// ClientNoContextTakeover is set, the stream is reinitialized first so
// no dictionary from a prior message is reused.
func (d *Deflater) Compress(msg []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxCompressAttempts; attempt++ {
		d.buf.Reset()
		d.buf.Grow(len(msg) + 64*(attempt+1))

		if d.cfg.ClientNoContextTakeover || attempt > 0 {
			d.w.Reset(&d.buf)
		}

		if _, err := d.w.Write(msg); err != nil {
			lastErr = err
			continue
		}
		if err := d.w.Flush(); err != nil {
			lastErr = err
			continue
		}

		out := d.buf.Bytes()
		if len(out) < 4 || !bytes.HasSuffix(out, trailer[:]) {
			lastErr = fmt.Errorf("pmdeflate: flush did not produce a SYNC_FLUSH trailer")
			continue
		}
		result := make([]byte, len(out)-4)
		copy(result, out[:len(out)-4])
		return result, nil
	}
	_ = lastErr
	return nil, ErrFallback
}

// Close releases the underlying flate.Writer.
func (d *Deflater) Close() error {
	return d.w.Close()
}

// Inflater decompresses inbound message payloads.
type Inflater struct {
	cfg  Config
	r    io.ReadCloser
	dict []byte // trailing window of previously inflated bytes, for context takeover
}

// NewInflater constructs an Inflater for cfg. cfg.Enabled must be true.
func NewInflater(cfg Config) *Inflater {
	return &Inflater{cfg: cfg}
}

const maxDictWindow = 32768

// Decompress appends the elided SYNC_FLUSH trailer to compressed and
// inflates it to completion. Z_BUF_ERROR-equivalent stalls
// (io.ErrUnexpectedEOF with fully-consumed input) are benign; any
// other inflate error is terminal and the caller should fail the
// connection with 1007.
func (in *Inflater) Decompress(compressed []byte) ([]byte, error) {
	full := make([]byte, len(compressed)+len(trailer))
	copy(full, compressed)
	copy(full[len(compressed):], trailer[:])
	src := bytes.NewReader(full)

	dict := in.dict
	if in.cfg.ServerNoContextTakeover {
		dict = nil
	}

	if in.r == nil {
		in.r = flate.NewReaderDict(src, dict)
	} else {
		resetter, ok := in.r.(flate.Resetter)
		if !ok {
			return nil, errors.New("pmdeflate: flate.Reader does not implement Resetter")
		}
		if err := resetter.Reset(src, dict); err != nil {
			return nil, fmt.Errorf("pmdeflate: reset inflate stream: %w", err)
		}
	}

	out, err := io.ReadAll(in.r)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("pmdeflate: inflate: %w", err)
	}

	in.updateDict(out)
	return out, nil
}

func (in *Inflater) updateDict(out []byte) {
	if in.cfg.ServerNoContextTakeover {
		in.dict = nil
		return
	}
	in.dict = append(in.dict, out...)
	if len(in.dict) > maxDictWindow {
		in.dict = in.dict[len(in.dict)-maxDictWindow:]
	}
}

// Close releases the underlying flate.Reader, if any.
func (in *Inflater) Close() error {
	if in.r == nil {
		return nil
	}
	return in.r.Close()
}
