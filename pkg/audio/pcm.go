package audio

import (
	"encoding/binary"
	"time"
)

// PCM is a buffer of interleaved 16-bit signed little-endian samples.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer.
func (p PCM) Duration() time.Duration {
	frame := 2 * p.Channels
	if frame <= 0 || p.SampleRate <= 0 {
		return 0
	}
	frames := int64(len(p.Data) / frame)
	return time.Duration(frames * int64(time.Second) / int64(p.SampleRate))
}

// Mono returns the buffer down-mixed to a single channel by averaging every
// frame. A mono buffer is returned unchanged.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		return p
	}
	frame := 2 * p.Channels
	frames := len(p.Data) / frame
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range p.Channels {
			off := i*frame + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(p.Data[off:])))
		}
		avg := sum / int32(p.Channels)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(avg))))
	}
	return PCM{Data: out, SampleRate: p.SampleRate, Channels: 1}
}

// Resample converts a mono buffer to rate using linear interpolation.
// Multi-channel buffers are down-mixed first.
func (p PCM) Resample(rate int) PCM {
	m := p.Mono()
	if rate <= 0 || m.SampleRate <= 0 || m.SampleRate == rate || len(m.Data) < 2 {
		return m
	}
	src := len(m.Data) / 2
	dst := int(int64(src) * int64(rate) / int64(m.SampleRate))
	out := make([]byte, dst*2)
	ratio := float64(m.SampleRate) / float64(rate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := int16(binary.LittleEndian.Uint16(m.Data[idx*2:]))
		s1 := s0
		if idx+1 < src {
			s1 = int16(binary.LittleEndian.Uint16(m.Data[(idx+1)*2:]))
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return PCM{Data: out, SampleRate: rate, Channels: 1}
}

// Float32 returns the samples of a mono buffer normalised to [-1, 1].
// Multi-channel buffers are down-mixed first. A trailing odd byte is ignored.
func (p PCM) Float32() []float32 {
	m := p.Mono()
	n := len(m.Data) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(m.Data[i*2:]))) / 32768.0
	}
	return out
}

func clamp16(v int32) int32 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return v
}
