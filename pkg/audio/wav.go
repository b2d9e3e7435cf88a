package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// wavHeader holds the parts of a RIFF/WAVE header the pipeline cares about.
type wavHeader struct {
	format     uint16
	channels   int
	sampleRate int
	byteRate   int
	bits       int
	dataOffset int64
	dataSize   int64
}

// readWAVHeader walks the RIFF chunk list until it finds the "data" chunk.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
func readWAVHeader(r io.ReadSeeker) (wavHeader, error) {
	var h wavHeader
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return h, fmt.Errorf("%w: short RIFF header", ErrUnsupportedFormat)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return h, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	offset := int64(12)
	haveFmt := false
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return h, fmt.Errorf("%w: no data chunk", ErrUnsupportedFormat)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return h, fmt.Errorf("%w: fmt chunk too small", ErrUnsupportedFormat)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return h, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedFormat)
			}
			h.format = binary.LittleEndian.Uint16(buf[0:2])
			h.channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			h.sampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			h.byteRate = int(binary.LittleEndian.Uint32(buf[8:12]))
			h.bits = int(binary.LittleEndian.Uint16(buf[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return h, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			h.dataOffset = offset
			h.dataSize = size
			return h, nil
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return h, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
		// RIFF chunks are word aligned.
		if size%2 == 1 {
			if _, err := r.Seek(1, io.SeekCurrent); err != nil {
				return h, fmt.Errorf("audio: skip pad byte: %w", err)
			}
			size++
		}
		offset += size
	}
}

// WAVInspector reads duration and size from a RIFF/WAVE header without
// decoding any samples.
type WAVInspector struct{}

var _ Inspector = WAVInspector{}

// Inspect implements [Inspector].
func (WAVInspector) Inspect(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("audio: stat %q: %w", path, err)
	}
	h, err := readWAVHeader(f)
	if err != nil {
		return Info{}, fmt.Errorf("audio: inspect %q: %w", path, err)
	}
	if h.byteRate <= 0 {
		return Info{}, fmt.Errorf("audio: inspect %q: %w: zero byte rate", path, ErrUnsupportedFormat)
	}
	// Streaming writers leave the data size at 0 or 0xFFFFFFFF.
	data := h.dataSize
	if data == 0 || data == 0xFFFFFFFF || h.dataOffset+data > st.Size() {
		data = st.Size() - h.dataOffset
	}
	return Info{
		Duration: time.Duration(data * int64(time.Second) / int64(h.byteRate)),
		Size:     st.Size(),
	}, nil
}

// ReadWAV decodes an uncompressed 16-bit PCM WAV file.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	h, err := readWAVHeader(f)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: read %q: %w", path, err)
	}
	if h.format != 1 || h.bits != 16 {
		return PCM{}, fmt.Errorf("audio: read %q: %w: format %d, %d bits", path, ErrUnsupportedFormat, h.format, h.bits)
	}
	data, err := io.ReadAll(io.LimitReader(f, h.dataSize))
	if err != nil {
		return PCM{}, fmt.Errorf("audio: read %q samples: %w", path, err)
	}
	return PCM{Data: data, SampleRate: h.sampleRate, Channels: h.channels}, nil
}

// EncodeWAV wraps p in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	const bps = 16
	byteRate := p.SampleRate * p.Channels * bps / 8
	blockAlign := p.Channels * bps / 8
	n := len(p.Data)

	buf := make([]byte, 44+n)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+n))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n))
	copy(buf[44:], p.Data)
	return buf
}
