package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Gemini implements Connector and Generator on the Gemini API.
type Gemini struct {
	client *genai.Client
}

// NewGemini builds a Gemini upstream with the given API key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("upstream: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: new client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Connect implements Connector. Returning without error means the upstream
// session handshake completed and the session is live.
func (g *Gemini) Connect(ctx context.Context, cfg SessionConfig) (Stream, error) {
	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if voice := strings.TrimSpace(cfg.Voice); voice != "" {
		connectConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if sys := strings.TrimSpace(cfg.SystemInstruction); sys != "" {
		connectConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(sys)},
		}
	}

	session, err := g.client.Live.Connect(ctx, cfg.Model, connectConfig)
	if err != nil {
		return nil, fmt.Errorf("upstream: live connect: %w", err)
	}
	return &geminiStream{session: session}, nil
}

type geminiStream struct {
	session *genai.Session

	closeOnce sync.Once
	closeErr  error
}

func (s *geminiStream) SendAudio(data []byte, mimeType string) error {
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
	if err != nil {
		return fmt.Errorf("upstream: send realtime input: %w", err)
	}
	return nil
}

func (s *geminiStream) Recv() (json.RawMessage, error) {
	msg, err := s.session.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("upstream: receive: %w", err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal server message: %w", err)
	}
	return raw, nil
}

func (s *geminiStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}

// GenerateContent implements Generator, forwarding the raw request onto the
// typed SDK call and returning the upstream response as raw JSON.
func (g *Gemini) GenerateContent(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	contents, err := decodeContents(req.Contents)
	if err != nil {
		return nil, err
	}

	var config *genai.GenerateContentConfig
	if len(req.Config) > 0 && string(req.Config) != "null" {
		config = &genai.GenerateContentConfig{}
		if err := json.Unmarshal(req.Config, config); err != nil {
			return nil, fmt.Errorf("upstream: decode config: %w", err)
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("upstream: generate content: %w", err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal response: %w", err)
	}
	return raw, nil
}

// decodeContents accepts the shapes clients actually send: a bare prompt
// string, a single content object, or a list of contents.
func decodeContents(raw json.RawMessage) ([]*genai.Content, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, errors.New("upstream: contents are required")
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("upstream: decode contents: %w", err)
		}
		return []*genai.Content{
			{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(text)}},
		}, nil
	case '[':
		var contents []*genai.Content
		if err := json.Unmarshal(raw, &contents); err != nil {
			return nil, fmt.Errorf("upstream: decode contents: %w", err)
		}
		return contents, nil
	case '{':
		var content genai.Content
		if err := json.Unmarshal(raw, &content); err != nil {
			return nil, fmt.Errorf("upstream: decode contents: %w", err)
		}
		return []*genai.Content{&content}, nil
	default:
		return nil, errors.New("upstream: contents must be a string, object, or array")
	}
}
