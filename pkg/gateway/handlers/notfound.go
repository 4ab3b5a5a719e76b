package handlers

import (
	"net/http"

	"github.com/omnibot-ai/voicegate/pkg/gateway/apierror"
	"github.com/omnibot-ai/voicegate/pkg/gateway/mw"
)

// NotFoundHandler returns the canonical JSON error body for unknown routes.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, apierror.New(apierror.ErrNotFound, "unknown route"), reqID)
}
