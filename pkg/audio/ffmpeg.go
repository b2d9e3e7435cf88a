package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrExport is wrapped by every [FFmpegExporter] failure.
var ErrExport = errors.New("audio: export failed")

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements [CommandRunner].
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// ---- ffprobe ----------------------------------------------------------------

// FFProbeInspector reads duration and size with ffprobe. It understands every
// container ffprobe does.
type FFProbeInspector struct {
	path string
	cmd  CommandRunner
}

var _ Inspector = (*FFProbeInspector)(nil)

// InspectOption configures an FFProbeInspector.
type InspectOption func(*FFProbeInspector)

// WithInspectRunner replaces the command runner. Tests use it to avoid
// depending on an installed ffprobe.
func WithInspectRunner(r CommandRunner) InspectOption {
	return func(p *FFProbeInspector) { p.cmd = r }
}

// NewFFProbeInspector returns an inspector calling the ffprobe binary at
// path. An empty path means "ffprobe" on $PATH.
func NewFFProbeInspector(path string, opts ...InspectOption) *FFProbeInspector {
	if path == "" {
		path = "ffprobe"
	}
	p := &FFProbeInspector{path: path, cmd: ExecRunner{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Inspect implements [Inspector].
func (p *FFProbeInspector) Inspect(ctx context.Context, path string) (Info, error) {
	out, err := p.cmd.Run(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration,size",
		"-of", "json",
		path,
	)
	if err != nil {
		return Info{}, fmt.Errorf("audio: inspect %q: %w", path, err)
	}
	info, err := parseFormat(out)
	if err != nil {
		return Info{}, fmt.Errorf("audio: inspect %q: %w", path, err)
	}
	if info.Size <= 0 {
		st, err := os.Stat(path)
		if err != nil {
			return Info{}, fmt.Errorf("audio: stat %q: %w", path, err)
		}
		info.Size = st.Size()
	}
	return info, nil
}

// parseFormat decodes ffprobe's JSON format section. ffprobe reports numbers
// as strings.
func parseFormat(out []byte) (Info, error) {
	var doc struct {
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	secs, err := strconv.ParseFloat(doc.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return Info{}, fmt.Errorf("%w: duration %q", ErrUnsupportedFormat, doc.Format.Duration)
	}
	var size int64
	if doc.Format.Size != "" {
		size, _ = strconv.ParseInt(doc.Format.Size, 10, 64)
	}
	return Info{Duration: time.Duration(secs * float64(time.Second)), Size: size}, nil
}

// ---- ffmpeg -----------------------------------------------------------------

// Exported chunks are 16 kHz mono 16-bit PCM in a canonical WAV container.
const (
	ExportSampleRate = 16000
	ExportByteRate   = ExportSampleRate * 2

	// exportOverhead covers the RIFF header plus the LIST/INFO chunk ffmpeg
	// adds.
	exportOverhead = 1024
)

// FFmpegExporter cuts time ranges into 16 kHz mono PCM WAV files, the format
// every supported transcription backend accepts.
type FFmpegExporter struct {
	path string
	dir  string
	cmd  CommandRunner
}

var _ SizedExporter = (*FFmpegExporter)(nil)

// ExportOption configures an FFmpegExporter.
type ExportOption func(*FFmpegExporter)

// WithExportRunner replaces the command runner.
func WithExportRunner(r CommandRunner) ExportOption {
	return func(e *FFmpegExporter) { e.cmd = r }
}

// NewFFmpegExporter returns an exporter writing into dir. An empty ffmpeg
// path means "ffmpeg" on $PATH; an empty dir means os.TempDir().
func NewFFmpegExporter(ffmpegPath, dir string, opts ...ExportOption) (*FFmpegExporter, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create export dir %q: %w", dir, err)
	}
	e := &FFmpegExporter{path: ffmpegPath, dir: dir, cmd: ExecRunner{}}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Export implements [Exporter].
func (e *FFmpegExporter) Export(ctx context.Context, src string, start, end time.Duration) (string, error) {
	if end <= start {
		return "", fmt.Errorf("%w: empty range %s-%s", ErrExport, start, end)
	}
	out := filepath.Join(e.dir, ChunkName(src, start, end))
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", seconds(start),
		"-i", src,
		"-t", seconds(end - start),
		"-vn",
		"-ar", strconv.Itoa(ExportSampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		out,
	}
	if _, err := e.cmd.Run(ctx, e.path, args...); err != nil {
		// ffmpeg may leave a partial file behind.
		_ = Remove(out)
		return "", fmt.Errorf("%w: %s [%s, %s): %v", ErrExport, filepath.Base(src), start, end, err)
	}
	return out, nil
}

// ExportRate implements [SizedExporter]. The output is re-encoded, so its size
// is set by the PCM byte rate rather than the source bitrate.
func (e *FFmpegExporter) ExportRate() (perSecond, overhead int64) {
	return ExportByteRate, exportOverhead
}

// ChunkName derives the deterministic output file name for a range of src.
func ChunkName(src string, start, end time.Duration) string {
	sum := sha256.Sum256([]byte(src))
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return fmt.Sprintf("%s-%s-%d-%d.wav", base, hex.EncodeToString(sum[:4]), start.Milliseconds(), end.Milliseconds())
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
