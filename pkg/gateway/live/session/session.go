// Package session implements the relay session: one per inbound WebSocket
// connection, bridging the client to a live upstream stream. Client audio
// frames are forwarded upstream as they arrive; upstream messages are relayed
// back verbatim, in order.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/omnibot-ai/voicegate/pkg/gateway/live/protocol"
	"github.com/omnibot-ai/voicegate/pkg/gateway/metrics"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
)

// State is the lifecycle of a relay session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const outboundPriorityQueueSize = 8

var errBackpressure = errors.New("live outbound backpressure")

// ClientConn is the subset of *websocket.Conn the session uses. Tests
// substitute an in-memory fake.
type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Config struct {
	// QueueSize bounds the normal outbound lane. When full, the oldest
	// queued server_message is discarded to admit the newest.
	QueueSize int

	// IdleTimeout closes the session when neither side produces a message
	// for this long. Zero disables the timeout.
	IdleTimeout time.Duration

	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

type Dependencies struct {
	Conn      ClientConn
	Connector upstream.Connector
	Upstream  upstream.SessionConfig
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	SessionID string
	Config    Config

	// OnOpen is invoked once when the upstream stream opens. The relay uses
	// it to count started voice sessions.
	OnOpen func()
}

// Relay is one live relay session.
type Relay struct {
	conn      ClientConn
	connector upstream.Connector
	upCfg     upstream.SessionConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sessionID string
	cfg       Config
	onOpen    func()

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	mu     sync.Mutex
	state  State
	stream upstream.Stream

	closeOnce sync.Once
}

type outboundFrame struct {
	payload []byte
}

type inboundFrame struct {
	data []byte
	err  error
}

type upstreamEvent struct {
	data json.RawMessage
	err  error
}

type connectResult struct {
	stream upstream.Stream
	err    error
}

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("upstream connector is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.QueueSize <= 0 {
		deps.Config.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		conn:             deps.Conn,
		connector:        deps.Connector,
		upCfg:            deps.Upstream,
		logger:           deps.Logger.With("session_id", deps.SessionID),
		metrics:          deps.Metrics,
		sessionID:        deps.SessionID,
		cfg:              deps.Config,
		onOpen:           deps.OnOpen,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.QueueSize),
	}, nil
}

// State reports the current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run drives the session until either side disconnects or the session is
// canceled. It always leaves the session closed.
func (r *Relay) Run() error {
	defer r.Close()

	if r.cfg.MaxMessageBytes > 0 {
		r.conn.SetReadLimit(r.cfg.MaxMessageBytes)
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       r.conn,
			ctx:      r.ctx,
			cfg:      r.cfg,
			priority: r.outboundPriority,
			normal:   r.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	readCh := make(chan inboundFrame, 64)
	go r.readLoop(readCh)

	// Connect asynchronously so client frames arriving mid-handshake are
	// observed (and dropped) rather than buffered behind the dial.
	connectCh := make(chan connectResult, 1)
	go func() {
		stream, err := r.connector.Connect(r.ctx, r.upCfg)
		connectCh <- connectResult{stream: stream, err: err}
	}()
	// Reap a handshake that resolves after Run has already exited, so a
	// late-delivered stream is still closed.
	defer func() {
		if ch := connectCh; ch != nil {
			go func() {
				if res := <-ch; res.stream != nil {
					_ = res.stream.Close()
				}
			}()
		}
	}()

	var upstreamCh chan upstreamEvent

	idle := newIdleTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	flushAndClose := func() {
		r.Close()
		wait := 100 * time.Millisecond
		if r.cfg.WriteTimeout > 0 && r.cfg.WriteTimeout < wait {
			wait = r.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}

	for {
		select {
		case <-r.ctx.Done():
			flushAndClose()
			return nil

		case res := <-connectCh:
			connectCh = nil
			if res.err != nil {
				r.logger.Error("upstream connect failed", "error", res.err)
				r.metrics.RecordError(r.ctx, "connect")
				_ = r.sendError("failed to open upstream session")
				flushAndClose()
				return res.err
			}
			if !r.setOpen(res.stream) {
				// The session reached a terminal state mid-handshake.
				if res.stream != nil {
					_ = res.stream.Close()
				}
				flushAndClose()
				return nil
			}
			if err := r.sendSessionOpened(); err != nil {
				flushAndClose()
				return err
			}
			if r.onOpen != nil {
				r.onOpen()
			}
			upstreamCh = make(chan upstreamEvent, 64)
			go r.recvLoop(res.stream, upstreamCh)
			r.logger.Info("session opened", "model", r.upCfg.Model)

		case frame, ok := <-readCh:
			if !ok {
				readCh = nil
				continue
			}
			if frame.err != nil {
				r.logger.Info("client disconnected", "error", frame.err)
				flushAndClose()
				return nil
			}
			idle.Reset()
			r.handleClientFrame(frame.data)

		case ev, ok := <-upstreamCh:
			if !ok {
				upstreamCh = nil
				continue
			}
			if ev.err != nil {
				if errors.Is(ev.err, io.EOF) {
					r.logger.Info("upstream closed")
					_ = r.sendSessionClosed()
				} else {
					r.logger.Error("upstream receive failed", "error", ev.err)
					r.metrics.RecordError(r.ctx, "upstream_recv")
					_ = r.sendError("upstream session failed")
				}
				flushAndClose()
				return nil
			}
			idle.Reset()
			if err := r.sendServerMessage(ev.data); err != nil {
				flushAndClose()
				return err
			}
			r.metrics.ServerMessageForwarded(r.ctx)

		case <-idle.C():
			r.logger.Info("session idle timeout")
			_ = r.sendError("session idle timeout")
			flushAndClose()
			return nil

		case err := <-writerErrCh:
			if err != nil {
				r.logger.Info("writer stopped", "error", err)
				r.metrics.RecordError(r.ctx, "write")
			}
			return err
		}
	}
}

// Close cancels the session and closes the upstream stream. Safe to call
// any number of times, from any goroutine.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.state = StateClosed
		stream := r.stream
		r.mu.Unlock()

		r.cancel()
		if stream != nil {
			if err := stream.Close(); err != nil {
				r.logger.Debug("upstream close", "error", err)
			}
		}
	})
}

// Warn pushes an error frame to the client without closing the session.
// Used by the drain path to announce impending shutdown.
func (r *Relay) Warn(message string) error {
	return r.sendError(message)
}

// setOpen adopts the connected stream so Close owns it from here on. It
// reports false when the session left Connecting while the handshake was in
// flight; the caller must close the stream itself then.
func (r *Relay) setOpen(stream upstream.Stream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateConnecting {
		return false
	}
	r.state = StateOpen
	r.stream = stream
	return true
}

func (r *Relay) currentStream() (upstream.Stream, State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream, r.state
}

func (r *Relay) handleClientFrame(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		// Malformed frames are dropped; the session keeps running.
		r.logger.Warn("dropping malformed client frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.ClientSendAudio:
		stream, state := r.currentStream()
		if state != StateOpen || stream == nil {
			r.logger.Debug("dropping audio frame before session open", "state", state.String())
			r.metrics.RecordDrop(r.ctx, "not_open")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(m.Payload.Media.Data)
		if err != nil {
			r.logger.Warn("dropping audio frame with invalid base64", "error", err)
			return
		}
		if err := stream.SendAudio(raw, m.Payload.Media.MIMEType); err != nil {
			r.logger.Error("upstream send failed", "error", err)
			r.metrics.RecordError(r.ctx, "upstream_send")
			return
		}
		r.metrics.AudioFrameForwarded(r.ctx)
	default:
		r.logger.Warn("dropping unexpected client frame", "type", fmt.Sprintf("%T", msg))
	}
}

func (r *Relay) sendSessionOpened() error {
	payload, err := protocol.EncodeSessionOpened()
	if err != nil {
		return err
	}
	return r.enqueuePriority(outboundFrame{payload: payload})
}

func (r *Relay) sendSessionClosed() error {
	payload, err := protocol.EncodeSessionClosed()
	if err != nil {
		return err
	}
	return r.enqueuePriority(outboundFrame{payload: payload})
}

func (r *Relay) sendError(message string) error {
	payload, err := protocol.EncodeError(message)
	if err != nil {
		return err
	}
	return r.enqueuePriority(outboundFrame{payload: payload})
}

func (r *Relay) sendServerMessage(data json.RawMessage) error {
	payload, err := protocol.EncodeServerMessage(data)
	if err != nil {
		return err
	}
	return r.enqueueNormal(outboundFrame{payload: payload})
}

// enqueueNormal admits a frame to the normal lane, discarding the oldest
// queued frame when the lane is full. server_message frames are droppable;
// a slow client loses the oldest audio first.
func (r *Relay) enqueueNormal(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case r.outboundNormal <- frame:
			return nil
		default:
		}
		select {
		case <-r.outboundNormal:
			r.metrics.RecordDrop(r.ctx, "queue_full")
		default:
		}
	}
	select {
	case r.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority admits a control frame, displacing older priority frames
// if needed. Control frames are never dropped in favor of audio.
func (r *Relay) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case r.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-r.outboundPriority:
		default:
		}
	}
	select {
	case r.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (r *Relay) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-r.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) recvLoop(stream upstream.Stream, out chan<- upstreamEvent) {
	defer close(out)
	for {
		data, err := stream.Recv()
		if err != nil {
			select {
			case out <- upstreamEvent{err: err}:
			case <-r.ctx.Done():
			}
			return
		}
		select {
		case out <- upstreamEvent{data: data}:
		case <-r.ctx.Done():
			return
		}
	}
}

// idleTimer wraps time.Timer with a disabled mode so the select in Run can
// always include its channel.
type idleTimer struct {
	d     time.Duration
	timer *time.Timer
}

func newIdleTimer(d time.Duration) *idleTimer {
	t := &idleTimer{d: d}
	if d > 0 {
		t.timer = time.NewTimer(d)
	}
	return t
}

func (t *idleTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *idleTimer) Reset() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(t.d)
}

func (t *idleTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
