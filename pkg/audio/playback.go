package audio

import (
	"fmt"
	"sync"
	"time"
)

// ScheduledSource is a chunk that has been handed to the output device but
// has not finished playing. Stop releases it early; it is safe to call after
// the chunk completed.
type ScheduledSource interface {
	Stop()
}

// OutputDevice is the host audio output. Now is the device clock; ScheduleAt
// queues samples to begin playing at the given device time and invokes
// onDone exactly once when the chunk finishes or is stopped.
type OutputDevice interface {
	Now() time.Duration
	ScheduleAt(samples []float32, sampleRate int, start time.Duration, onDone func()) (ScheduledSource, error)
}

// Scheduler turns inbound model audio frames into strictly ordered, gapless
// playback. It owns the playback clock: each chunk starts at
// max(clock, device now) and advances the clock by its own duration, so
// chunks never overlap and never play out of order regardless of arrival
// jitter. Late arrivals add latency; no compression is attempted.
type Scheduler struct {
	dev OutputDevice

	mu     sync.Mutex
	next   time.Duration
	seq    int
	active map[int]ScheduledSource
	closed bool
}

// NewScheduler builds a playback scheduler over the given device.
func NewScheduler(dev OutputDevice) *Scheduler {
	return &Scheduler{
		dev:    dev,
		active: make(map[int]ScheduledSource),
	}
}

// Enqueue decodes one s16le frame and schedules it after everything already
// queued. Returns the chunk's start time on the device clock.
func (s *Scheduler) Enqueue(frame Frame) (time.Duration, error) {
	if frame.SampleRate <= 0 {
		return 0, fmt.Errorf("audio: frame sample rate %d", frame.SampleRate)
	}
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	decoded, err := DequantizeS16LE(frame.Data, channels)
	if err != nil {
		return 0, err
	}
	// Mono playback path: the upstream voice API emits single-channel audio.
	samples := decoded[0]
	if len(samples) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.next, nil
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(frame.SampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("audio: scheduler is closed")
	}

	start := s.next
	if now := s.dev.Now(); now > start {
		start = now
	}

	id := s.seq
	s.seq++
	src, err := s.dev.ScheduleAt(samples, frame.SampleRate, start, func() { s.finish(id) })
	if err != nil {
		return 0, err
	}
	s.active[id] = src
	s.next = start + duration
	return start, nil
}

func (s *Scheduler) finish(id int) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Active reports how many scheduled chunks have not finished playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart exposes the playback clock, mainly for tests and diagnostics.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close stops every still-scheduled chunk and rejects further Enqueue calls.
// Normal session teardown does not call this: already-scheduled audio is
// left to finish on its own.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sources := make([]ScheduledSource, 0, len(s.active))
	for _, src := range s.active {
		sources = append(sources, src)
	}
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
}
