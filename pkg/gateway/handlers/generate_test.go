package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/omnibot-ai/voicegate/pkg/gateway/apierror"
	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

type fakeGenerator struct {
	lastReq upstream.GenerateRequest
	resp    json.RawMessage
	err     error
}

func (g *fakeGenerator) GenerateContent(_ context.Context, req upstream.GenerateRequest) (json.RawMessage, error) {
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func newGenerateHandler(gen *fakeGenerator, svc *usage.Service) GenerateHandler {
	if svc == nil {
		svc = usage.NewService(usage.NewMemoryStore(), slog.Default())
	}
	return GenerateHandler{
		Config:    config.Config{Model: "default-model"},
		Generator: gen,
		Logger:    slog.Default(),
		Usage:     svc,
	}
}

func postGenerate(t *testing.T, h GenerateHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/gemini", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerateForwardsVerbatim(t *testing.T) {
	gen := &fakeGenerator{resp: json.RawMessage(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)}
	h := newGenerateHandler(gen, nil)

	rec := postGenerate(t, h, `{"operation":"generateContent","model":"gemini-2.5-flash","contents":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != string(gen.resp) {
		t.Errorf("body = %s, want verbatim upstream response", rec.Body.String())
	}
	if gen.lastReq.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q", gen.lastReq.Model)
	}
	if string(gen.lastReq.Contents) != `"hello"` {
		t.Errorf("contents = %s", gen.lastReq.Contents)
	}
}

func TestGenerateDefaultsModel(t *testing.T) {
	gen := &fakeGenerator{resp: json.RawMessage(`{}`)}
	h := newGenerateHandler(gen, nil)

	postGenerate(t, h, `{"operation":"generateContent","contents":"hello"}`)
	if gen.lastReq.Model != "default-model" {
		t.Errorf("model = %q, want config default", gen.lastReq.Model)
	}
}

func TestGenerateRejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantParam string
	}{
		{"missing operation", `{"contents":"hello"}`, "operation"},
		{"unsupported operation", `{"operation":"generateVideos","contents":"x"}`, "operation"},
		{"missing contents", `{"operation":"generateContent"}`, "contents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{resp: json.RawMessage(`{}`)}
			rec := postGenerate(t, newGenerateHandler(gen, nil), tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var env apierror.Envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Error == nil || env.Error.Param != tt.wantParam {
				t.Errorf("error = %+v, want param %q", env.Error, tt.wantParam)
			}
			if gen.lastReq.Model != "" {
				t.Error("generator called despite rejection")
			}
		})
	}
}

func TestGenerateUpstreamFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("deadline")}
	rec := postGenerate(t, newGenerateHandler(gen, nil), `{"operation":"generateContent","contents":"x"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestGenerateUsageClassification(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want usage.Kind
	}{
		{"text response", `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`, usage.KindConversation},
		{"image response", `{"candidates":[{"content":{"parts":[{"inlineData":{"data":"aGk=","mimeType":"image/png"}}]}}]}`, usage.KindCreative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := usage.NewService(usage.NewMemoryStore(), slog.Default())
			gen := &fakeGenerator{resp: json.RawMessage(tt.resp)}
			postGenerate(t, newGenerateHandler(gen, svc), `{"operation":"generateContent","contents":"x"}`)

			counts, err := svc.Snapshot(context.Background())
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if counts[tt.want] != 1 {
				t.Errorf("%s = %d, want 1 (all: %v)", tt.want, counts[tt.want], counts)
			}
		})
	}
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	h := newGenerateHandler(&fakeGenerator{resp: json.RawMessage(`{}`)}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/gemini", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
