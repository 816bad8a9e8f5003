package relmq

import (
	"encoding/json"
	"fmt"
)

// ContentTypeJSON is the content type handled by the built-in JSON codec.
const ContentTypeJSON = "application/json"

// Codec encodes and decodes typed payloads for one content type.
type Codec interface {
	// ContentType returns the content type this codec handles.
	ContentType() string
	// Encode serializes a value.
	Encode(value any) ([]byte, error)
	// Decode deserializes data into the given value.
	Decode(data []byte, value any) error
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return ContentTypeJSON }

// Encode implements Codec.
func (JSONCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte, value any) error {
	return json.Unmarshal(data, value)
}

// CodecRegistry selects a codec by content type from an ordered list. The
// first codec is the fallback for empty or unknown content types.
type CodecRegistry struct {
	codecs []Codec
}

// NewCodecRegistry builds a registry. With no codecs given it registers the
// JSON codec alone.
func NewCodecRegistry(codecs ...Codec) *CodecRegistry {
	if len(codecs) == 0 {
		codecs = []Codec{JSONCodec{}}
	}

	return &CodecRegistry{codecs: codecs}
}

// Lookup returns the codec for a content type, probing registration order.
// An empty content type resolves to the first registered codec.
func (r *CodecRegistry) Lookup(contentType string) (Codec, error) {
	if contentType == "" {
		return r.codecs[0], nil
	}
	for _, c := range r.codecs {
		if c.ContentType() == contentType {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoCodec, contentType)
}
