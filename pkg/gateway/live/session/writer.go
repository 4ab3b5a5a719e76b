package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	shutdownFlushBudget = 100 * time.Millisecond
	shutdownFlushFrames = 8
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter drains the two outbound lanes onto the client socket.
// Priority frames always win; a normal frame that has already been dequeued
// still yields once to any priority frame that arrived in the meantime.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame

	writeTimeout time.Duration
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	w.writeTimeout = w.cfg.WriteTimeout
	if w.writeTimeout <= 0 {
		w.writeTimeout = defaultWriteTimeout
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	// Normal frame dequeued but not yet written.
	var held *outboundFrame

	for {
		select {
		case <-w.stopCh():
			w.flushPriority()
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = w.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(w.writeTimeout))
			_ = w.ws.Close()
			return nil
		default:
		}

		if handled, err := w.tryPriority(); err != nil {
			return err
		} else if handled {
			continue
		}

		if held != nil {
			if handled, err := w.tryPriority(); err != nil {
				return err
			} else if handled {
				continue
			}
			frame := *held
			held = nil
			if err := w.writeFrame(frame); err != nil {
				return err
			}
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-pingTicker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.writeFrame(frame); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			held = &frame
		}
	}
}

func (w *outboundWriter) stopCh() <-chan struct{} {
	if w.ctx == nil {
		return nil
	}
	return w.ctx.Done()
}

// tryPriority writes one queued priority frame if any is waiting. The bool
// reports whether the lane made progress, including discovering it closed.
func (w *outboundWriter) tryPriority() (bool, error) {
	if w.priority == nil {
		return false, nil
	}
	select {
	case frame, ok := <-w.priority:
		if !ok {
			w.priority = nil
			return true, nil
		}
		return true, w.writeFrame(frame)
	default:
		return false, nil
	}
}

// flushPriority gives already-queued error and close frames a short window
// to reach the client before the socket closes.
func (w *outboundWriter) flushPriority() {
	if w.priority == nil {
		return
	}

	budget := shutdownFlushBudget
	if w.writeTimeout > 0 && w.writeTimeout < budget {
		budget = w.writeTimeout
	}
	deadline := time.Now().Add(budget)

	for i := 0; i < shutdownFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.writeFrame(frame)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}
