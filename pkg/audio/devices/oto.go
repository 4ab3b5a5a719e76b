package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/omnibot-ai/voicegate/pkg/audio"
)

const speakerBytesPerSample = 2

// Speaker is an audio.OutputDevice backed by oto. It renders scheduled
// chunks onto a single continuous s16le stream, inserting silence up to each
// chunk's start time; the device clock is the number of samples the player
// has pulled so far, so it advances in real time whether or not audio is
// queued.
type Speaker struct {
	sampleRate int
	otoCtx     *oto.Context

	mu       sync.Mutex
	player   *oto.Player
	buf      []byte
	consumed int64 // total bytes handed to the player
	chunks   []*speakerChunk
	closed   bool
}

type speakerChunk struct {
	spk       *Speaker
	startByte int64
	endByte   int64
	onDone    func()
	done      bool
}

// NewSpeaker opens the default output device at the given rate, mono.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("devices: sample rate %d", sampleRate)
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms device buffer keeps scheduling latency low.
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("devices: init speaker: %w", err)
	}
	<-ready

	return &Speaker{sampleRate: sampleRate, otoCtx: otoCtx}, nil
}

// Now implements audio.OutputDevice.
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Speaker) positionLocked() time.Duration {
	samples := s.consumed / speakerBytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

// ScheduleAt implements audio.OutputDevice. Chunks must arrive in start-time
// order, which the playback scheduler guarantees.
func (s *Speaker) ScheduleAt(samples []float32, sampleRate int, start time.Duration, onDone func()) (audio.ScheduledSource, error) {
	if sampleRate != s.sampleRate {
		return nil, fmt.Errorf("devices: chunk rate %d does not match device rate %d", sampleRate, s.sampleRate)
	}

	data := audio.QuantizeS16LE(samples)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("devices: speaker is closed")
	}

	startByte := (int64(start) * int64(s.sampleRate) / int64(time.Second)) * speakerBytesPerSample
	head := s.consumed + int64(len(s.buf))
	if gap := startByte - head; gap > 0 {
		s.buf = append(s.buf, make([]byte, gap)...)
		head += gap
	}

	chunk := &speakerChunk{
		spk:       s,
		startByte: head,
		endByte:   head + int64(len(data)),
		onDone:    onDone,
	}
	s.buf = append(s.buf, data...)
	s.chunks = append(s.chunks, chunk)

	if s.player == nil && s.otoCtx != nil {
		s.player = s.otoCtx.NewPlayer(s)
		player := s.player
		s.mu.Unlock()
		player.Play()
		return chunk, nil
	}
	s.mu.Unlock()
	return chunk, nil
}

// Read feeds the oto player. Missing data plays as silence so the device
// clock keeps advancing between chunks.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	s.consumed += int64(len(p))
	fired := s.takeFinishedLocked()
	s.mu.Unlock()

	for _, fn := range fired {
		fn()
	}
	return len(p), nil
}

func (s *Speaker) takeFinishedLocked() []func() {
	var fired []func()
	remaining := s.chunks[:0]
	for _, c := range s.chunks {
		if !c.done && c.endByte <= s.consumed {
			c.done = true
			if c.onDone != nil {
				fired = append(fired, c.onDone)
			}
			continue
		}
		if !c.done {
			remaining = append(remaining, c)
		}
	}
	s.chunks = remaining
	return fired
}

// Stop silences whatever of the chunk has not played yet and marks it done.
func (c *speakerChunk) Stop() {
	s := c.spk

	s.mu.Lock()
	if c.done {
		s.mu.Unlock()
		return
	}
	c.done = true
	from := c.startByte
	if from < s.consumed {
		from = s.consumed
	}
	for b := from; b < c.endByte; b++ {
		idx := b - s.consumed
		if idx >= 0 && idx < int64(len(s.buf)) {
			s.buf[idx] = 0
		}
	}
	onDone := c.onDone
	s.mu.Unlock()

	if onDone != nil {
		onDone()
	}
}

// Close stops playback and releases the player.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.buf = nil
	s.chunks = nil
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
}
