package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/lifecycle"
)

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReady(t *testing.T) {
	okCfg := config.Config{GeminiAPIKey: "k", Model: "m", LiveQueueSize: 64}

	tests := []struct {
		name       string
		cfg        config.Config
		draining   bool
		wantStatus int
		wantOK     bool
	}{
		{"ready", okCfg, false, http.StatusOK, true},
		{"missing key", config.Config{Model: "m", LiveQueueSize: 64}, false, http.StatusServiceUnavailable, false},
		{"draining", okCfg, true, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &lifecycle.State{}
			if tt.draining {
				lc.StartDraining()
			}
			rec := httptest.NewRecorder()
			ReadyHandler{Config: tt.cfg, Lifecycle: lc}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp struct {
				OK bool `json:"ok"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.OK != tt.wantOK {
				t.Errorf("ok = %v, want %v", resp.OK, tt.wantOK)
			}
		})
	}
}
