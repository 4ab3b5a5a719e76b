// Package audio implements the two client-side halves of a voice call: the
// capture pipeline that turns microphone samples into transmittable frames,
// and the playback scheduler that turns inbound frames into gapless speaker
// output.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Capture and playback formats are fixed by the upstream voice API:
// microphone audio goes up as 16 kHz mono s16le, model audio comes back as
// 24 kHz mono s16le.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	CaptureBlockSize   = 4096
	bytesPerSample     = 2
)

// Frame is an immutable unit of audio in flight: raw s16le bytes plus the
// declared shape of the samples inside.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
	MIMEType   string
}

// Duration reports how long the frame plays for.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / bytesPerSample / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// QuantizeS16LE converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Out-of-range samples saturate at the integer limits instead of
// wrapping around.
func QuantizeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		// Clamp before converting: float-to-int conversion of an
		// out-of-range value is implementation-defined.
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DequantizeS16LE converts little-endian signed 16-bit PCM back to float
// samples, one slice per channel. frameCount = len(data)/2/channels.
func DequantizeS16LE(data []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: channels must be > 0, got %d", channels)
	}
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio: pcm data length %d is not sample aligned", len(data))
	}
	total := len(data) / bytesPerSample
	if total%channels != 0 {
		return nil, fmt.Errorf("audio: %d samples do not divide into %d channels", total, channels)
	}
	frames := total / channels

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := int16(binary.LittleEndian.Uint16(data[(i*channels+ch)*2:]))
			out[ch][i] = float32(v) / 32768.0
		}
	}
	return out, nil
}
