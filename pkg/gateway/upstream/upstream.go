// Package upstream defines the contract to the streaming voice AI service
// and its Gemini implementation. The relay only sees these interfaces; the
// genai SDK stays confined to this package.
package upstream

import (
	"context"
	"encoding/json"
)

// SessionConfig shapes one live voice session.
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
}

// Stream is one open upstream voice session. SendAudio forwards an encoded
// realtime audio payload; Recv blocks for the next upstream message and
// returns it as verbatim JSON, io.EOF once the upstream side has finished.
// Close is safe to call more than once and concurrently with Recv.
type Stream interface {
	SendAudio(data []byte, mimeType string) error
	Recv() (json.RawMessage, error)
	Close() error
}

// Connector opens live sessions against the upstream service.
type Connector interface {
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// GenerateRequest is a one-shot generation call forwarded for the REST
// surface. Contents and Config arrive as raw JSON from the client and are
// mapped onto the SDK types without interpretation beyond shape.
type GenerateRequest struct {
	Model    string
	Contents json.RawMessage
	Config   json.RawMessage
}

// Generator executes one-shot content generation.
type Generator interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (json.RawMessage, error)
}
