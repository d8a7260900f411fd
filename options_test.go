package gowsc

import "testing"

func TestNewOptionsDefaultsCompressionOn(t *testing.T) {
	o := NewOptions()
	if !o.compression {
		t.Fatal("expected compression enabled by default")
	}
}

func TestSetURLAcceptsWsAndWss(t *testing.T) {
	for _, raw := range []string{"ws://host/path", "wss://host:8443/path"} {
		o := NewOptions()
		if err := o.SetURL(raw); err != nil {
			t.Fatalf("SetURL(%q): unexpected error %v", raw, err)
		}
		if o.url.String() != raw {
			t.Fatalf("SetURL(%q): got %q", raw, o.url.String())
		}
	}
}

func TestSetURLRejectsOtherSchemes(t *testing.T) {
	o := NewOptions()
	if err := o.SetURL("http://host/path"); err == nil {
		t.Fatal("expected an error for a non-websocket scheme")
	}
}

func TestSetURLRejectsMalformedURL(t *testing.T) {
	o := NewOptions()
	if err := o.SetURL("ws://host/path\n"); err == nil {
		t.Fatal("expected an error for a malformed URL")
	}
}

func TestAddHeaderAccumulates(t *testing.T) {
	o := NewOptions()
	o.AddHeader("X-Custom", "a")
	o.AddHeader("X-Custom", "b")
	if got := o.headers.Values("X-Custom"); len(got) != 2 {
		t.Fatalf("expected 2 header values, got %v", got)
	}
}
