// Command voicecall places a live voice call against a running voicegate
// gateway: microphone audio goes up over the live WebSocket, model audio
// comes back and plays through the default speaker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/omnibot-ai/voicegate/pkg/audio"
	"github.com/omnibot-ai/voicegate/pkg/audio/devices"
	"github.com/omnibot-ai/voicegate/pkg/client"
)

const dialTimeout = 10 * time.Second

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var (
		server = flag.String("server", "ws://127.0.0.1:8080", "Gateway base URL (ws(s)://host:port or http(s)://host:port)")
		debug  = flag.Bool("debug", false, "Enable debug logging (capture stats, frame drops)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	wsURL, err := liveEndpoint(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicecall: %v\n", err)
		return 1
	}

	if err := runCall(wsURL, logger, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "voicecall: %v\n", err)
		return 1
	}
	return 0
}

func runCall(wsURL string, logger *slog.Logger, debug bool) error {
	speaker, err := devices.NewSpeaker(audio.PlaybackSampleRate)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	scheduler := audio.NewScheduler(speaker)
	defer scheduler.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	call, err := client.Dial(dialCtx, wsURL, client.Options{
		Scheduler: scheduler,
		Logger:    logger,
		OnStateChange: func(active bool, reason string) {
			if active {
				logger.Info("call active, speak when ready")
				return
			}
			logger.Info("call ended", "reason", reason)
		},
	})
	if err != nil {
		return err
	}
	defer call.Close()

	capture := audio.NewCapture(call, audio.CaptureBlockSize)
	mic, err := devices.NewMicrophone(audio.CaptureSampleRate, capture.Push)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	logger.Info("connected", "url", wsURL)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- call.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var statsCh <-chan time.Time
	if debug {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		statsCh = ticker.C
	}

	for {
		select {
		case sig := <-sigCh:
			logger.Info("hanging up", "signal", sig.String())
			mic.Close()
			capture.Flush()
			call.Close()
			<-runErrCh
			return capture.Err()
		case <-statsCh:
			sent, dropped := capture.Stats()
			logger.Debug("capture stats", "frames_sent", sent, "frames_dropped", dropped)
		case err := <-runErrCh:
			mic.Close()
			if err != nil {
				return fmt.Errorf("call: %w", err)
			}
			return capture.Err()
		}
	}
}

// liveEndpoint turns a gateway base URL into the live WebSocket endpoint,
// mapping http(s) schemes to their ws(s) equivalents.
func liveEndpoint(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("missing -server URL")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse -server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in -server URL", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in -server URL %q", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/live"
	return u.String(), nil
}
