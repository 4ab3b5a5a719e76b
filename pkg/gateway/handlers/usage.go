package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/omnibot-ai/voicegate/pkg/gateway/apierror"
	"github.com/omnibot-ai/voicegate/pkg/gateway/mw"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

// UsageHandler serves GET /api/usage counter snapshots.
type UsageHandler struct {
	Usage *usage.Service
}

func (h UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		apierror.Write(w, apierror.New(apierror.ErrInvalidRequest, "method not allowed"), reqID)
		return
	}

	counts, err := h.Usage.Snapshot(r.Context())
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	type usageResp struct {
		Counters map[usage.Kind]int64 `json:"counters"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(usageResp{Counters: counts})
}
