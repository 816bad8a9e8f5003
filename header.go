package relmq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageHeader carries transport metadata with every inbound and outbound
// message. It is constructed once by the publisher and reconstructed by the
// consumer from wire properties; treat it as immutable after construction.
type MessageHeader struct {
	// ID uniquely identifies the message and is the outbox/inbox
	// correlation key.
	ID string `json:"id"`
	// Timestamp is the publish time recorded by the producer.
	Timestamp time.Time `json:"timestamp"`
	// ContentType selects the codec used to encode the payload.
	ContentType string `json:"content_type"`
	// Type names the logical message type (e.g. "order.created").
	Type string `json:"type,omitempty"`
	// AppID identifies the producing application.
	AppID string `json:"app_id,omitempty"`
	// Exchange and RoutingKey record where the message was published.
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key,omitempty"`
	// Properties holds opaque application metadata.
	Properties map[string]string `json:"properties,omitempty"`
}

// NewMessageHeader builds a header with a fresh UUID and the current time.
func NewMessageHeader(contentType, msgType string) *MessageHeader {
	return &MessageHeader{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ContentType: contentType,
		Type:        msgType,
	}
}

// EncodeHeader serializes a header for durable storage alongside the payload.
func EncodeHeader(h *MessageHeader) ([]byte, error) {
	if h == nil {
		return nil, ErrHeaderRequired
	}
	if h.ID == "" {
		return nil, ErrMessageIDRequired
	}

	return json.Marshal(h)
}

// DecodeHeader restores a header previously produced by EncodeHeader.
func DecodeHeader(data []byte) (*MessageHeader, error) {
	if len(data) == 0 {
		return nil, ErrHeaderRequired
	}
	var h MessageHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	if h.ID == "" {
		return nil, ErrMessageIDRequired
	}

	return &h, nil
}
