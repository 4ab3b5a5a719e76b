// Package client implements the call controller: it dials the relay's live
// WebSocket, streams captured microphone frames up, and routes returned
// model audio into the playback scheduler.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/omnibot-ai/voicegate/pkg/audio"
	"github.com/omnibot-ai/voicegate/pkg/gateway/live/protocol"
)

type wsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Options struct {
	// Scheduler receives decoded model audio for gapless playback.
	Scheduler *audio.Scheduler
	Logger    *slog.Logger

	// OnStateChange fires when the call becomes active or inactive. The
	// reason is a human-readable note, empty on activation.
	OnStateChange func(active bool, reason string)
}

// Call is one live call against the relay. It implements [audio.FrameSink]
// so a capture pipeline can feed it directly.
type Call struct {
	conn      wsConn
	scheduler *audio.Scheduler
	logger    *slog.Logger
	onState   func(active bool, reason string)

	writeMu sync.Mutex

	mu     sync.Mutex
	active bool
	closed bool
}

// Dial connects to the relay's live endpoint. The call is inactive until
// the relay reports session_opened.
func Dial(ctx context.Context, url string, opts Options) (*Call, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return newCall(conn, opts), nil
}

func newCall(conn wsConn, opts Options) *Call {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Call{
		conn:      conn,
		scheduler: opts.Scheduler,
		logger:    logger,
		onState:   opts.OnStateChange,
	}
}

// Open reports whether the session is active. Capture drops frames while
// this is false.
func (c *Call) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SendFrame transmits one encoded microphone frame.
func (c *Call) SendFrame(frame audio.Frame) error {
	payload, err := protocol.EncodeSendAudio(base64.StdEncoding.EncodeToString(frame.Data), frame.MIMEType)
	if err != nil {
		return fmt.Errorf("client: encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("client: send frame: %w", err)
	}
	return nil
}

// Run processes relay frames until the connection ends. It returns nil on
// a normal session end.
func (c *Call) Run() error {
	defer c.setActive(false, "connection closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("ignoring unrecognized relay frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.ServerSessionOpened:
			c.setActive(true, "")
		case protocol.ServerMessage:
			c.handleServerMessage(m)
		case protocol.ServerSessionClosed:
			// Scheduled chunks are left to finish playing.
			c.setActive(false, "session closed")
		case protocol.ServerError:
			c.setActive(false, m.Error)
		}
	}
}

// Close tears down the connection. Safe to call concurrently with Run.
func (c *Call) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Call) handleServerMessage(msg protocol.ServerMessage) {
	b64, mimeType, ok := protocol.ModelTurnAudio(msg.Data)
	if !ok {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		c.logger.Warn("dropping model audio with invalid base64", "error", err)
		return
	}
	if c.scheduler == nil {
		return
	}
	frame := audio.Frame{
		Data:       raw,
		SampleRate: audio.PlaybackSampleRate,
		Channels:   1,
		MIMEType:   mimeType,
	}
	if _, err := c.scheduler.Enqueue(frame); err != nil {
		c.logger.Warn("dropping unplayable model audio", "error", err)
	}
}

func (c *Call) setActive(active bool, reason string) {
	c.mu.Lock()
	changed := c.active != active
	c.active = active
	c.mu.Unlock()

	if !changed {
		return
	}
	if active {
		c.logger.Info("call active")
	} else {
		c.logger.Info("call inactive", "reason", reason)
	}
	if c.onState != nil {
		c.onState(active, reason)
	}
}
