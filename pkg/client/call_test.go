package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnibot-ai/voicegate/pkg/audio"
	"github.com/omnibot-ai/voicegate/pkg/gateway/live/protocol"
)

type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closeCh: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-c.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.written = append(c.written, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

type fakeSource struct{}

func (fakeSource) Stop() {}

type fakeDevice struct {
	now       time.Duration
	scheduled []scheduledChunk
	lock      sync.Mutex
}

type scheduledChunk struct {
	samples []float32
	start   time.Duration
}

func (d *fakeDevice) Now() time.Duration { return d.now }

func (d *fakeDevice) ScheduleAt(samples []float32, _ int, start time.Duration, _ func()) (audio.ScheduledSource, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.scheduled = append(d.scheduled, scheduledChunk{samples: samples, start: start})
	return fakeSource{}, nil
}

func (d *fakeDevice) count() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.scheduled)
}

type stateEvent struct {
	active bool
	reason string
}

func newTestCall(conn *fakeConn, dev *fakeDevice) (*Call, *[]stateEvent, *sync.Mutex) {
	events := &[]stateEvent{}
	var mu sync.Mutex
	call := newCall(conn, Options{
		Scheduler: audio.NewScheduler(dev),
		OnStateChange: func(active bool, reason string) {
			mu.Lock()
			*events = append(*events, stateEvent{active: active, reason: reason})
			mu.Unlock()
		},
	})
	return call, events, &mu
}

func serverMessageWithAudio(t *testing.T, pcm []byte) []byte {
	t.Helper()
	inner := fmt.Sprintf(
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":%q,"mimeType":"audio/pcm;rate=24000"}}]}}}`,
		base64.StdEncoding.EncodeToString(pcm),
	)
	payload, err := protocol.EncodeServerMessage(json.RawMessage(inner))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func TestCallActivatesOnSessionOpened(t *testing.T) {
	conn := newFakeConn()
	call, events, mu := newTestCall(conn, &fakeDevice{})

	done := make(chan error, 1)
	go func() { done <- call.Run() }()

	if call.Open() {
		t.Error("call open before session_opened")
	}

	opened, _ := protocol.EncodeSessionOpened()
	conn.in <- opened
	waitFor(t, func() bool { return call.Open() })

	call.Close()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*events) == 0 || !(*events)[0].active {
		t.Errorf("events = %+v, want activation first", *events)
	}
}

func TestCallRoutesModelAudioToScheduler(t *testing.T) {
	conn := newFakeConn()
	dev := &fakeDevice{}
	call, _, _ := newTestCall(conn, dev)

	done := make(chan error, 1)
	go func() { done <- call.Run() }()

	opened, _ := protocol.EncodeSessionOpened()
	conn.in <- opened
	conn.in <- serverMessageWithAudio(t, []byte{0x00, 0x40}) // one sample, 0.5
	waitFor(t, func() bool { return dev.count() == 1 })

	dev.lock.Lock()
	got := dev.scheduled[0].samples
	dev.lock.Unlock()
	if len(got) != 1 {
		t.Fatalf("decoded %d samples, want 1", len(got))
	}
	if got[0] < 0.49 || got[0] > 0.51 {
		t.Errorf("sample = %f, want ~0.5", got[0])
	}

	call.Close()
	<-done
}

func TestCallIgnoresNonAudioServerMessages(t *testing.T) {
	conn := newFakeConn()
	dev := &fakeDevice{}
	call, _, _ := newTestCall(conn, dev)

	done := make(chan error, 1)
	go func() { done <- call.Run() }()

	opened, _ := protocol.EncodeSessionOpened()
	conn.in <- opened
	payload, _ := protocol.EncodeServerMessage(json.RawMessage(`{"serverContent":{"turnComplete":true}}`))
	conn.in <- payload
	conn.in <- serverMessageWithAudio(t, []byte{0x00, 0x40})
	waitFor(t, func() bool { return dev.count() == 1 })

	call.Close()
	<-done
}

func TestCallDeactivatesOnSessionClosed(t *testing.T) {
	conn := newFakeConn()
	call, events, mu := newTestCall(conn, &fakeDevice{})

	done := make(chan error, 1)
	go func() { done <- call.Run() }()

	opened, _ := protocol.EncodeSessionOpened()
	conn.in <- opened
	waitFor(t, func() bool { return call.Open() })

	closed, _ := protocol.EncodeSessionClosed()
	conn.in <- closed
	waitFor(t, func() bool { return !call.Open() })

	mu.Lock()
	last := (*events)[len(*events)-1]
	mu.Unlock()
	if last.active || last.reason != "session closed" {
		t.Errorf("last event = %+v", last)
	}

	call.Close()
	<-done
}

func TestCallDeactivatesOnErrorFrame(t *testing.T) {
	conn := newFakeConn()
	call, events, mu := newTestCall(conn, &fakeDevice{})

	done := make(chan error, 1)
	go func() { done <- call.Run() }()

	opened, _ := protocol.EncodeSessionOpened()
	conn.in <- opened
	waitFor(t, func() bool { return call.Open() })

	errPayload, _ := protocol.EncodeError("upstream session failed")
	conn.in <- errPayload
	waitFor(t, func() bool { return !call.Open() })

	mu.Lock()
	last := (*events)[len(*events)-1]
	mu.Unlock()
	if last.reason != "upstream session failed" {
		t.Errorf("reason = %q", last.reason)
	}

	call.Close()
	<-done
}

func TestCallSendFrame(t *testing.T) {
	conn := newFakeConn()
	call, _, _ := newTestCall(conn, &fakeDevice{})

	frame := audio.Frame{
		Data:       []byte{0x01, 0x02},
		SampleRate: audio.CaptureSampleRate,
		Channels:   1,
		MIMEType:   protocol.MimePCM16K,
	}
	if err := call.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(conn.written))
	}
	decoded, err := protocol.DecodeClientMessage(conn.written[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sa, ok := decoded.(protocol.ClientSendAudio)
	if !ok {
		t.Fatalf("decoded %T", decoded)
	}
	raw, err := base64.StdEncoding.DecodeString(sa.Payload.Media.Data)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	if string(raw) != string(frame.Data) {
		t.Errorf("payload = %v, want %v", raw, frame.Data)
	}
	if sa.Payload.Media.MIMEType != protocol.MimePCM16K {
		t.Errorf("mime = %q", sa.Payload.Media.MIMEType)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
