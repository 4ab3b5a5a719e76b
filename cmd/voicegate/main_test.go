package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	gatewayserver "github.com/omnibot-ai/voicegate/pkg/gateway/server"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		buildDeps: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(context.Context) error, error) {
			t.Fatalf("buildDeps should not be called when config load fails")
			return gatewayserver.Deps{}, nil, nil
		},
		newGateway: func(cfg config.Config, logger *slog.Logger, deps gatewayserver.Deps) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gatewayserver.New(config.Config{
		Addr:               ":0",
		GeminiAPIKey:       "test-key",
		Model:              config.DefaultModel,
		Voice:              config.DefaultVoice,
		CORSAllowedOrigins: map[string]struct{}{},

		LiveQueueSize:        64,
		LiveWSPingInterval:   20 * time.Second,
		LiveWSWriteTimeout:   5 * time.Second,
		LiveMaxMessageBytes:  1 << 20,
		LiveHandshakeTimeout: 5 * time.Second,
		ReadHeaderTimeout:    time.Second,
		ShutdownGracePeriod:  5 * time.Second,
	}, logger, gatewayserver.Deps{
		Usage: usage.NewService(usage.NewMemoryStore(), logger),
	})

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
