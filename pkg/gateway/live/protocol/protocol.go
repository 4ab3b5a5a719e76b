// Package protocol defines the JSON message envelopes exchanged between a
// call client and the relay over the live WebSocket. Every frame carries a
// "type" discriminator; DecodeClientMessage turns raw frames into typed
// values and rejects anything it does not recognize.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client -> relay message types.
const (
	TypeSendAudio = "send_audio"
)

// Relay -> client message types.
const (
	TypeSessionOpened = "session_opened"
	TypeServerMessage = "server_message"
	TypeSessionClosed = "session_closed"
	TypeError         = "error"
)

// MimePCM16K is the encoding tag for captured microphone audio.
const MimePCM16K = "audio/pcm;rate=16000"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaBlob is one transmittable unit of already-encoded audio.
type MediaBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// AudioPayload wraps a MediaBlob the way the upstream realtime input API
// expects it.
type AudioPayload struct {
	Media MediaBlob `json:"media"`
}

// ClientSendAudio is an outbound microphone frame from the client.
type ClientSendAudio struct {
	Type    string       `json:"type"`
	Payload AudioPayload `json:"payload"`
}

// ServerSessionOpened notifies the client that the upstream session is live.
type ServerSessionOpened struct {
	Type string `json:"type"`
}

// ServerMessage relays one upstream message verbatim.
type ServerMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerSessionClosed notifies the client that the upstream session ended.
type ServerSessionClosed struct {
	Type string `json:"type"`
}

// ServerError carries a terminal, human-readable session error.
type ServerError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// DecodeClientMessage decodes one client frame into its typed form.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSendAudio:
		var msg ClientSendAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid send_audio frame", "")
		}
		if strings.TrimSpace(msg.Payload.Media.Data) == "" {
			return nil, badRequest("send_audio.payload.media.data is required", "payload.media.data")
		}
		if strings.TrimSpace(msg.Payload.Media.MIMEType) == "" {
			return nil, badRequest("send_audio.payload.media.mimeType is required", "payload.media.mimeType")
		}
		return msg, nil
	default:
		return nil, badRequest(fmt.Sprintf("unknown message type %q", typ), "type")
	}
}

// EncodeSendAudio builds the wire form of one outbound audio frame.
func EncodeSendAudio(dataB64, mimeType string) ([]byte, error) {
	return json.Marshal(ClientSendAudio{
		Type: TypeSendAudio,
		Payload: AudioPayload{
			Media: MediaBlob{Data: dataB64, MIMEType: mimeType},
		},
	})
}

// EncodeSessionOpened builds the session_opened notification.
func EncodeSessionOpened() ([]byte, error) {
	return json.Marshal(ServerSessionOpened{Type: TypeSessionOpened})
}

// EncodeServerMessage wraps one verbatim upstream message.
func EncodeServerMessage(data json.RawMessage) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: TypeServerMessage, Data: data})
}

// EncodeSessionClosed builds the session_closed notification.
func EncodeSessionClosed() ([]byte, error) {
	return json.Marshal(ServerSessionClosed{Type: TypeSessionClosed})
}

// EncodeError builds a terminal error notification.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(ServerError{Type: TypeError, Error: message})
}

// DecodeServerMessage decodes one relay frame on the client side.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case TypeSessionOpened:
		return ServerSessionOpened{Type: TypeSessionOpened}, nil
	case TypeServerMessage:
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid server_message frame", "")
		}
		return msg, nil
	case TypeSessionClosed:
		return ServerSessionClosed{Type: TypeSessionClosed}, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest(fmt.Sprintf("unknown message type %q", envelope.Type), "type")
	}
}

// ModelTurnAudio extracts the inline audio chunk nested in an upstream
// server content message, if present. The shape mirrors the upstream API:
// serverContent.modelTurn.parts[0].inlineData.data (base64 PCM).
func ModelTurnAudio(data json.RawMessage) (b64 string, mimeType string, ok bool) {
	var msg struct {
		ServerContent *struct {
			ModelTurn *struct {
				Parts []struct {
					InlineData *struct {
						Data     string `json:"data"`
						MIMEType string `json:"mimeType"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"modelTurn"`
		} `json:"serverContent"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", false
	}
	if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
		return "", "", false
	}
	parts := msg.ServerContent.ModelTurn.Parts
	if len(parts) == 0 || parts[0].InlineData == nil || parts[0].InlineData.Data == "" {
		return "", "", false
	}
	return parts[0].InlineData.Data, parts[0].InlineData.MIMEType, true
}

// TurnComplete reports whether an upstream message marks the end of a model
// turn.
func TurnComplete(data json.RawMessage) bool {
	var msg struct {
		ServerContent *struct {
			TurnComplete bool `json:"turnComplete"`
		} `json:"serverContent"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return msg.ServerContent != nil && msg.ServerContent.TurnComplete
}
