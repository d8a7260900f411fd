package pmdeflate

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func roundTrip(t *testing.T, cfg Config, messages [][]byte) {
	t.Helper()
	d, err := NewDeflater(cfg)
	if err != nil {
		t.Fatalf("NewDeflater: %v", err)
	}
	in := NewInflater(cfg)

	for i, msg := range messages {
		compressed, err := d.Compress(msg)
		if err != nil {
			t.Fatalf("message %d: Compress: %v", i, err)
		}
		got, err := in.Decompress(compressed)
		if err != nil {
			t.Fatalf("message %d: Decompress: %v", i, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("message %d: round trip mismatch: got %d bytes, want %d", i, len(got), len(msg))
		}
	}
}

func TestRoundTripContextTakeover(t *testing.T) {
	cfg := Config{Enabled: true, ClientMaxWindowBits: 15, ServerMaxWindowBits: 15}
	roundTrip(t, cfg, [][]byte{
		[]byte("hello"),
		[]byte("hello again, with more repeated text repeated text"),
		{},
	})
}

func TestRoundTripNoContextTakeover(t *testing.T) {
	cfg := Config{
		Enabled:                 true,
		ClientNoContextTakeover: true,
		ServerNoContextTakeover: true,
		ClientMaxWindowBits:     15,
		ServerMaxWindowBits:     15,
	}
	roundTrip(t, cfg, [][]byte{
		[]byte("first message"),
		[]byte("second message, unrelated"),
		{},
	})
}

func TestRoundTripEmptyPayload(t *testing.T) {
	cfg := Config{Enabled: true}
	roundTrip(t, cfg, [][]byte{{}})
}

func TestRoundTripRandomBinary(t *testing.T) {
	cfg := Config{Enabled: true}
	msg := make([]byte, 10000)
	if _, err := rand.Read(msg); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, cfg, [][]byte{msg})
}
