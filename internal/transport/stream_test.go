package transport

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteLengthPrefixed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("hello")},
		{"json", []byte(`{"kind":1}`)},
		{"binary", []byte{0x00, 0x01, 0xff, 0xfe}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeLengthPrefixed(&buf, tt.data); err != nil {
				t.Fatalf("write: %v", err)
			}
			result := buf.Bytes()
			if len(result) < 4 {
				t.Fatalf("expected at least 4 bytes, got %d", len(result))
			}
			length := binary.BigEndian.Uint32(result[:4])
			if int(length) != len(tt.data) {
				t.Fatalf("length prefix = %d, want %d", length, len(tt.data))
			}
			if !bytes.Equal(result[4:], tt.data) {
				t.Fatalf("body mismatch: got %v want %v", result[4:], tt.data)
			}
		})
	}
}

func TestWriteLengthPrefixedTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := writeLengthPrefixed(&buf, make([]byte, maxMessageSize+1)); err == nil {
		t.Fatalf("expected error for oversized frame")
	}
}

func TestReadLengthPrefixedRoundTrip(t *testing.T) {
	data := []byte(`{"kind":3,"sign_request":{"sign_id":7,"message":"aa"}}`)
	var buf bytes.Buffer
	if err := writeLengthPrefixed(&buf, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readLengthPrefixed(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestReadLengthPrefixedRejectsOversizedPrefix(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(maxMessageSize+1))
	if _, err := readLengthPrefixed(&buf); err == nil {
		t.Fatalf("expected error for oversized length prefix")
	}
}

func TestReadLengthPrefixedTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.Write([]byte("short"))
	if _, err := readLengthPrefixed(&buf); err == nil {
		t.Fatalf("expected error for truncated body")
	}
}
