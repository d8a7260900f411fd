// Package wsframe implements incremental RFC 6455 frame parsing and
// serialization, including the client masking engine. It has no
// notion of fragmentation, extensions, or connection state — those
// live one layer up, in internal/receiver and internal/wsconn.
package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/kestrelws/gowsc/internal/closecode"
)

// Opcodes defined by RFC 6455 §11.8.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// IsControl reports whether opcode is a control opcode (high bit set).
func IsControl(opcode byte) bool { return opcode&0x08 != 0 }

var knownOpcodes = map[byte]bool{
	OpContinuation: true,
	OpText:         true,
	OpBinary:       true,
	OpClose:        true,
	OpPing:         true,
	OpPong:         true,
}

// Frame is a transient record produced by Decode and consumed by Encode.
type Frame struct {
	Fin     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  byte
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

const maxHeaderLen = 14 // 2 + 8 (64-bit length) + 4 (mask key)

// Decode parses one frame from the front of buf. It returns
// (nil, 0, nil) when buf does not yet hold a complete frame header or
// payload — the caller must wait for more bytes. Structural RFC 6455
// violations that do not depend on connection context (reserved bits,
// malformed control frames, unknown opcodes) are reported as
// *closecode.Error{Code: ProtocolError}; direction-dependent checks
// (MASK bit, RSV1-without-extension) are left to the receiver, which
// knows the connection's role and negotiated extensions.
func Decode(buf []byte) (frame *Frame, consumed int, err error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	b0, b1 := buf[0], buf[1]

	fin := b0&0x80 != 0
	rsv1 := b0&0x40 != 0
	rsv2 := b0&0x20 != 0
	rsv3 := b0&0x10 != 0
	opcode := b0 & 0x0F

	if rsv2 || rsv3 {
		return nil, 0, &closecode.Error{Code: closecode.ProtocolError, Reason: "reserved bit set"}
	}
	if !knownOpcodes[opcode] {
		return nil, 0, &closecode.Error{Code: closecode.ProtocolError, Reason: fmt.Sprintf("unknown opcode %d", opcode)}
	}
	if IsControl(opcode) && !fin {
		return nil, 0, &closecode.Error{Code: closecode.ProtocolError, Reason: "fragmented control frame"}
	}

	masked := b1&0x80 != 0
	length := int64(b1 & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
	}

	if IsControl(opcode) && length > 125 {
		return nil, 0, &closecode.Error{Code: closecode.ProtocolError, Reason: "control frame payload too large"}
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:total])
	if masked {
		ApplyMask(payload, maskKey)
	}

	return &Frame{
		Fin:     fin,
		RSV1:    rsv1,
		RSV2:    rsv2,
		RSV3:    rsv3,
		Opcode:  opcode,
		Masked:  masked,
		MaskKey: maskKey,
		Payload: payload,
	}, total, nil
}

// Encode serializes f to dst[:0], always setting MASK=1 with a fresh
// cryptographically random key, as required of client-to-server
// frames. RSV1 must already be set on f by the caller when the
// payload is the first frame of a compressed message.
func Encode(dst []byte, f *Frame) []byte {
	key := NewMaskKey()

	var b0 byte
	if f.Fin {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	b0 |= f.Opcode & 0x0F

	n := len(f.Payload)
	dst = append(dst[:0], b0)

	switch {
	case n <= 125:
		dst = append(dst, byte(n)|0x80)
	case n <= 0xFFFF:
		dst = append(dst, 126|0x80)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, 127|0x80)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		dst = append(dst, ext[:]...)
	}

	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	ApplyMask(dst[start:], key)
	return dst
}

// ApplyMask XORs buf in place with key, cycling key every 4 bytes.
func ApplyMask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}

// NewMaskKey draws a fresh 4-byte mask key from a cryptographic RNG,
// as RFC 6455 §5.3 requires for every outbound frame.
func NewMaskKey() [4]byte {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic("gowsc: crypto/rand unavailable: " + err.Error())
	}
	return key
}
