package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/omnibot-ai/voicegate/pkg/gateway/apierror"
	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/lifecycle"
	"github.com/omnibot-ai/voicegate/pkg/gateway/live/session"
	"github.com/omnibot-ai/voicegate/pkg/gateway/live/sessions"
	"github.com/omnibot-ai/voicegate/pkg/gateway/metrics"
	"github.com/omnibot-ai/voicegate/pkg/gateway/mw"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

// LiveHandler handles /ws/live relay sessions.
type LiveHandler struct {
	Config       config.Config
	Connector    upstream.Connector
	Logger       *slog.Logger
	Lifecycle    *lifecycle.State
	LiveSessions *sessions.Tracker
	Metrics      *metrics.Metrics
	Usage        *usage.Service
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		apierror.Write(w, apierror.New(apierror.ErrInvalidRequest, "method not allowed"), reqID)
		return
	}
	if h.Lifecycle.Draining() {
		apierror.Write(w, apierror.New(apierror.ErrAPI, "gateway is draining"), reqID)
		return
	}
	if !h.originAllowed(r) {
		apierror.Write(w, apierror.InvalidParam("Origin", "origin is not allowed"), reqID)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.LiveHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "sess_" + randHex(8)
	relay, err := session.New(session.Dependencies{
		Conn:      conn,
		Connector: h.Connector,
		Upstream: upstream.SessionConfig{
			Model:             h.Config.Model,
			Voice:             h.Config.Voice,
			SystemInstruction: h.Config.SystemInstruction,
		},
		Logger:    h.Logger,
		Metrics:   h.Metrics,
		SessionID: sessionID,
		Config: session.Config{
			QueueSize:       h.Config.LiveQueueSize,
			IdleTimeout:     h.Config.LiveIdleTimeout,
			PingInterval:    h.Config.LiveWSPingInterval,
			WriteTimeout:    h.Config.LiveWSWriteTimeout,
			MaxMessageBytes: h.Config.LiveMaxMessageBytes,
		},
		OnOpen: func() {
			h.Usage.Increment(r.Context(), usage.KindVoice)
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("relay setup failed", "request_id", reqID, "error", err)
		}
		return
	}

	unregister := h.LiveSessions.Register(sessions.Handle{
		Cancel: relay.Close,
		Warn:   relay.Warn,
	})
	defer unregister()

	h.Metrics.SessionStarted(r.Context())
	defer h.Metrics.SessionEnded(r.Context())

	if err := relay.Run(); err != nil && h.Logger != nil {
		h.Logger.Info("relay session ended", "session_id", sessionID, "error", err)
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
