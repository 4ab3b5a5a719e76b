package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omnibot-ai/voicegate/pkg/gateway/apierror"
	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/metrics"
	"github.com/omnibot-ai/voicegate/pkg/gateway/mw"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

const opGenerateContent = "generateContent"

type generateRequest struct {
	Operation string          `json:"operation"`
	Model     string          `json:"model"`
	Contents  json.RawMessage `json:"contents"`
	Config    json.RawMessage `json:"config"`
}

// GenerateHandler handles POST /api/gemini one-shot requests.
type GenerateHandler struct {
	Config    config.Config
	Generator upstream.Generator
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Usage     *usage.Service
}

func (h GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		apierror.Write(w, apierror.New(apierror.ErrInvalidRequest, "method not allowed"), reqID)
		return
	}

	var req generateRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		apierror.Write(w, apierror.New(apierror.ErrInvalidRequest, "invalid json body"), reqID)
		return
	}

	op := strings.TrimSpace(req.Operation)
	if op == "" {
		apierror.Write(w, apierror.InvalidParam("operation", "operation is required"), reqID)
		return
	}
	if op != opGenerateContent {
		apierror.Write(w, apierror.InvalidParam("operation", fmt.Sprintf("unsupported operation %q", op)), reqID)
		return
	}
	if len(req.Contents) == 0 {
		apierror.Write(w, apierror.InvalidParam("contents", "contents is required"), reqID)
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = h.Config.Model
	}

	start := time.Now()
	resp, err := h.Generator.GenerateContent(r.Context(), upstream.GenerateRequest{
		Model:    model,
		Contents: req.Contents,
		Config:   req.Config,
	})
	if h.Metrics != nil {
		h.Metrics.GenerateDuration.Record(r.Context(), time.Since(start).Seconds())
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("generate failed", "request_id", reqID, "model", model, "error", err)
		}
		apierror.Write(w, apierror.New(apierror.ErrUpstream, "upstream generate failed"), reqID)
		return
	}

	h.Usage.Increment(r.Context(), usageKindFor(resp))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// usageKindFor classifies a generate response: responses carrying inline
// media count as creative output, plain text as conversation.
func usageKindFor(resp json.RawMessage) usage.Kind {
	if bytes.Contains(resp, []byte(`"inlineData"`)) {
		return usage.KindCreative
	}
	return usage.KindConversation
}
