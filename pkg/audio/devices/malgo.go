// Package devices adapts real audio hardware to the capture and playback
// pipelines: a malgo-backed microphone and an oto-backed speaker.
package devices

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// Microphone captures 16 kHz mono float32 audio and delivers it to a
// callback. The callback runs on the audio thread and must not block.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMicrophone opens the default capture device. onSamples receives each
// period's samples as float32 in [-1, 1].
func NewMicrophone(sampleRate int, onSamples func([]float32)) (*Microphone, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("devices: sample rate %d", sampleRate)
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("devices: init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onSamples(float32sFromBytes(input))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return nil, fmt.Errorf("devices: init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return nil, fmt.Errorf("devices: start microphone: %w", err)
	}

	return &Microphone{ctx: mctx, device: device}, nil
}

// Close stops the capture device and releases the audio context.
func (m *Microphone) Close() {
	if m == nil {
		return
	}
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

func float32sFromBytes(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
