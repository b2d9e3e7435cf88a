package audio_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// writeWAV writes seconds of silent 16-bit PCM at rate/channels to a temp file.
func writeWAV(t *testing.T, rate, channels int, secs float64) string {
	t.Helper()
	n := int(float64(rate)*secs) * channels * 2
	p := audio.PCM{Data: make([]byte, n), SampleRate: rate, Channels: channels}
	path := filepath.Join(t.TempDir(), "rec.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(p), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVInspector_Duration(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		secs     float64
		want     time.Duration
	}{
		{"mono 16k 2s", 16000, 1, 2, 2 * time.Second},
		{"stereo 48k 1.5s", 48000, 2, 1.5, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeWAV(t, tt.rate, tt.channels, tt.secs)
			info, err := audio.WAVInspector{}.Inspect(context.Background(), path)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if info.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", info.Duration, tt.want)
			}
			st, _ := os.Stat(path)
			if info.Size != st.Size() {
				t.Errorf("Size = %d, want %d", info.Size, st.Size())
			}
		})
	}
}

func TestWAVInspector_SkipsUnknownChunks(t *testing.T) {
	p := audio.PCM{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	wav := audio.EncodeWAV(p)

	// Splice a LIST chunk with an odd payload between fmt and data.
	list := []byte("LIST\x03\x00\x00\x00abc\x00")
	spliced := append([]byte{}, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	path := filepath.Join(t.TempDir(), "list.wav")
	if err := os.WriteFile(path, spliced, 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := audio.WAVInspector{}.Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", info.Duration)
	}
}

func TestWAVInspector_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.mp3")
	if err := os.WriteFile(path, []byte("ID3\x03\x00garbage-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := audio.WAVInspector{}.Inspect(context.Background(), path)
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadWAV_RoundTrip(t *testing.T) {
	data := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}
	in := audio.PCM{Data: data, SampleRate: 8000, Channels: 2}
	path := filepath.Join(t.TempDir(), "rt.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(in), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := audio.ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if got.SampleRate != 8000 || got.Channels != 2 {
		t.Fatalf("format = %d Hz x%d, want 8000 Hz x2", got.SampleRate, got.Channels)
	}
	if string(got.Data) != string(data) {
		t.Fatalf("data = %v, want %v", got.Data, data)
	}
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	if err := audio.Remove(filepath.Join(t.TempDir(), "gone.wav")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
