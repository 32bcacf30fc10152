package transport

import (
	"encoding/base64"
	"testing"
)

func TestParseInboundShapes(t *testing.T) {
	m, err := parseInbound([]byte(`{"type":"meta","exercise":"lunge","skeleton":false}`))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if !m.isMeta() || m.isFrame() {
		t.Fatal("meta message misclassified")
	}
	if m.Skeleton == nil || *m.Skeleton {
		t.Fatal("skeleton flag lost")
	}

	m, err = parseInbound([]byte(`{"exercise":"squat","frame":"aGVsbG8="}`))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if m.isMeta() || !m.isFrame() {
		t.Fatal("frame message misclassified")
	}

	if _, err = parseInbound([]byte(`{"hello":"world"}`)); err == nil {
		t.Fatal("a message that is neither meta nor frame must be rejected")
	}
	if _, err = parseInbound([]byte(`{{{`)); err == nil {
		t.Fatal("invalid json must be rejected")
	}
}

func TestDecodeFrameToleratesDataURL(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0x01}
	b64 := base64.StdEncoding.EncodeToString(payload)

	for _, in := range []string{b64, "data:image/jpeg;base64," + b64} {
		out, err := decodeFrame(in)
		if err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if len(out) != len(payload) {
			t.Fatalf("payload length = %d", len(out))
		}
	}

	if _, err := decodeFrame("!!! not base64 !!!"); err == nil {
		t.Fatal("invalid base64 must be rejected")
	}
}
