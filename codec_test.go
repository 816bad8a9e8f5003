package relmq

import (
	"errors"
	"testing"
)

type textCodec struct{}

func (textCodec) ContentType() string { return "text/plain" }

func (textCodec) Encode(value any) ([]byte, error) {
	return []byte(value.(string)), nil
}

func (textCodec) Decode(data []byte, value any) error {
	*value.(*string) = string(data)

	return nil
}

func TestCodecRegistryLookup(t *testing.T) {
	registry := NewCodecRegistry(JSONCodec{}, textCodec{})

	tests := []struct {
		name        string
		contentType string
		want        string
		wantErr     error
	}{
		{name: "exact json", contentType: ContentTypeJSON, want: ContentTypeJSON},
		{name: "exact text", contentType: "text/plain", want: "text/plain"},
		{name: "empty falls back to first", contentType: "", want: ContentTypeJSON},
		{name: "unknown", contentType: "application/xml", wantErr: ErrNoCodec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := registry.Lookup(tt.contentType)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}

				return
			}
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if codec.ContentType() != tt.want {
				t.Fatalf("got codec for %q, want %q", codec.ContentType(), tt.want)
			}
		})
	}
}

func TestCodecRegistryDefaultsToJSON(t *testing.T) {
	registry := NewCodecRegistry()
	codec, err := registry.Lookup("")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if codec.ContentType() != ContentTypeJSON {
		t.Fatalf("expected JSON default, got %q", codec.ContentType())
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	codec := JSONCodec{}
	data, err := codec.Encode(payload{Name: "orders", Count: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got payload
	if err := codec.Decode(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "orders" || got.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
