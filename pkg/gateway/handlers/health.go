package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.State
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Model    string   `json:"model"`
		Draining bool     `json:"draining,omitempty"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.GeminiAPIKey) == "" {
		issues = append(issues, "gemini api key not configured")
	}
	if strings.TrimSpace(h.Config.Model) == "" {
		issues = append(issues, "model not configured")
	}
	if h.Config.LiveQueueSize <= 0 {
		issues = append(issues, "live queue size must be > 0")
	}

	draining := h.Lifecycle.Draining()
	resp := readyResp{
		OK:       len(issues) == 0 && !draining,
		Model:    h.Config.Model,
		Draining: draining,
		Issues:   issues,
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
