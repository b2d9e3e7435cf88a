// Package audio provides the file-level audio collaborators of the recording
// pipeline: inspecting a recording's duration and size, and cutting a time
// range out of it into a new file.
//
// Recordings and chunks are referenced by filesystem path. The codec work is
// delegated to external tools (ffmpeg/ffprobe); the pure-Go [WAVInspector] and
// [ReadWAV] helpers cover uncompressed PCM WAV so local backends and tests can
// work without those binaries.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrUnsupportedFormat is returned when a file is not in a format the
// inspector or decoder understands.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Info describes a recording on disk.
type Info struct {
	Duration time.Duration

	// Size is the file size in bytes.
	Size int64
}

// Inspector reports the duration and byte size of an audio file.
type Inspector interface {
	Inspect(ctx context.Context, path string) (Info, error)
}

// Exporter cuts [start, end) out of the file at src and writes it to a new
// file, returning that file's path.
//
// Implementations must be deterministic: exporting the same range of the same
// source twice yields the same output path.
type Exporter interface {
	Export(ctx context.Context, src string, start, end time.Duration) (string, error)
}

// SizedExporter is an [Exporter] whose output size depends only on the length
// of the exported range, independent of the source encoding.
type SizedExporter interface {
	Exporter
	// ExportRate returns the bytes written per second of audio and the fixed
	// per-file overhead. A zero rate means the size is not known up front.
	ExportRate() (perSecond, overhead int64)
}

// Remove deletes a transient file produced by an [Exporter]. A file that is
// already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audio: remove %q: %w", path, err)
	}
	return nil
}
