package audio

import (
	"sync"

	"github.com/omnibot-ai/voicegate/pkg/gateway/live/protocol"
)

// FrameSink receives encoded microphone frames. Open reports whether the
// transport is currently accepting frames; SendFrame must not block for long,
// since Push runs on the audio device callback path.
type FrameSink interface {
	Open() bool
	SendFrame(Frame) error
}

// Capture cuts a continuous microphone sample stream into fixed-size blocks,
// quantizes each block to s16le and hands it to a FrameSink. Frames produced
// while the sink is not open are dropped, never buffered.
type Capture struct {
	sink      FrameSink
	blockSize int

	mu      sync.Mutex
	pending []float32
	sent    int64
	dropped int64
	err     error
}

// NewCapture builds a capture pipeline over the given sink. blockSize <= 0
// uses the default block of 4096 samples.
func NewCapture(sink FrameSink, blockSize int) *Capture {
	if blockSize <= 0 {
		blockSize = CaptureBlockSize
	}
	return &Capture{
		sink:      sink,
		blockSize: blockSize,
		pending:   make([]float32, 0, blockSize),
	}
}

// Push appends captured samples and emits every completed block. It is safe
// to call from an audio device callback.
func (c *Capture) Push(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.blockSize {
		block := c.pending[:c.blockSize]
		c.emitLocked(block)
		c.pending = c.pending[c.blockSize:]
	}
}

// Flush emits any partial block still pending. Call on teardown; a partial
// block mid-stream would break the fixed framing.
func (c *Capture) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	c.emitLocked(c.pending)
	c.pending = c.pending[:0]
}

func (c *Capture) emitLocked(block []float32) {
	if !c.sink.Open() {
		c.dropped++
		return
	}
	frame := Frame{
		Data:       QuantizeS16LE(block),
		SampleRate: CaptureSampleRate,
		Channels:   1,
		MIMEType:   protocol.MimePCM16K,
	}
	if err := c.sink.SendFrame(frame); err != nil {
		c.dropped++
		c.err = err
		return
	}
	c.sent++
}

// Stats reports how many blocks were transmitted and dropped so far.
func (c *Capture) Stats() (sent, dropped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.dropped
}

// Err returns the last sink error observed, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
