package chunk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/pkg/audio"
)

// AudioChunk is one exported slice of a recording.
type AudioChunk struct {
	// ID uniquely identifies the chunk across chunking operations.
	ID string

	OriginalRef string

	// ChunkRef is the exported file. It equals OriginalRef when the
	// recording did not need splitting.
	ChunkRef string

	// Sequence is contiguous from 0 within one [Result].
	Sequence int

	Start time.Duration
	End   time.Duration
	Size  int64
}

// Transient reports whether the chunk file is a temporary export that must be
// deleted after transcription.
func (c AudioChunk) Transient() bool { return c.ChunkRef != c.OriginalRef }

// Result is the outcome of one chunking operation.
type Result struct {
	Chunks        []AudioChunk
	TotalDuration time.Duration
	TotalSize     int64
	Elapsed       time.Duration
}

// Split reports whether the recording was cut into more than one file.
func (r *Result) Split() bool {
	return len(r.Chunks) > 1 || (len(r.Chunks) == 1 && r.Chunks[0].Transient())
}

// Cleanup deletes every transient chunk file. The original recording is
// never touched. Safe to call more than once.
func (r *Result) Cleanup() error {
	return removeChunks(r.Chunks)
}

func removeChunks(chunks []AudioChunk) error {
	var errs []error
	for _, c := range chunks {
		if c.ChunkRef == "" || !c.Transient() {
			continue
		}
		if err := audio.Remove(c.ChunkRef); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("chunk: %w: %w", pipeerr.ErrCleanupFailed, errors.Join(errs...))
	}
	return nil
}

// Chunker runs chunking operations. It is safe for concurrent use; callers
// enforce the one-operation-per-recording rule.
type Chunker struct {
	inspector     audio.Inspector
	exporter      audio.Exporter
	limit         Limit
	exportTimeout time.Duration
	concurrency   int
	metrics       *observe.Metrics
}

// Option configures a [Chunker].
type Option func(*Chunker)

// WithExportTimeout bounds each individual export call. Zero means no
// per-export timeout.
func WithExportTimeout(d time.Duration) Option {
	return func(c *Chunker) { c.exportTimeout = d }
}

// WithConcurrency sets how many exports may run at once. Values below 1 are
// treated as 1 (strictly sequential).
func WithConcurrency(n int) Option {
	return func(c *Chunker) { c.concurrency = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Chunker) { c.metrics = m }
}

// New returns a Chunker planning against limit.
func New(inspector audio.Inspector, exporter audio.Exporter, limit Limit, opts ...Option) (*Chunker, error) {
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{
		inspector:   inspector,
		exporter:    exporter,
		limit:       limit,
		concurrency: 1,
	}
	for _, o := range opts {
		o(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Limit returns the configured limit.
func (c *Chunker) Limit() Limit { return c.limit }

// fits reports whether the source file itself satisfies the limit.
func (c *Chunker) fits(info audio.Info) bool {
	return c.limit.Strategy != BySize || info.Size <= c.limit.MaxBytes
}

// plan computes boundaries for info. Under the size strategy with an exporter
// whose output size is known, the byte ceiling is converted at the exported
// rate, overlap and container overhead included, so every exported chunk stays
// within MaxBytes whatever the source bitrate.
func (c *Chunker) plan(info audio.Info) ([]Boundary, error) {
	l := c.limit
	sized, ok := c.exporter.(audio.SizedExporter)
	if l.Strategy != BySize || c.fits(info) || !ok {
		return Plan(info.Duration, info.Size, l)
	}
	perSec, overhead := sized.ExportRate()
	if perSec <= 0 {
		return Plan(info.Duration, info.Size, l)
	}
	budget := l.MaxBytes - overhead
	maxDur := time.Duration(float64(budget)/float64(perSec)*float64(time.Second)) - l.Overlap
	if budget <= 0 || maxDur <= 0 {
		return nil, fmt.Errorf("chunk: size limit %d cannot hold overlap %v at %d B/s", l.MaxBytes, l.Overlap, perSec)
	}
	return Plan(info.Duration, info.Size, DurationLimit(maxDur, l.Overlap))
}

// Chunk inspects the recording at ref, plans boundaries and exports every
// chunk. Chunks are returned in sequence order regardless of the order the
// exports finished in.
//
// On any export failure or cancellation, chunk files already written are
// removed before returning and no Result is returned.
func (c *Chunker) Chunk(ctx context.Context, ref string) (*Result, error) {
	started := time.Now()
	log := observe.Logger(ctx).With("recording_ref", ref)

	info, err := c.inspector.Inspect(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("chunk: inspect %q: %w", ref, err)
	}
	bounds, err := c.plan(info)
	if err != nil {
		return nil, fmt.Errorf("chunk: plan %q: %w", ref, err)
	}

	res := &Result{TotalDuration: info.Duration, TotalSize: info.Size}
	if len(bounds) == 1 && c.fits(info) {
		res.Chunks = []AudioChunk{{
			ID:          uuid.NewString(),
			OriginalRef: ref,
			ChunkRef:    ref,
			Start:       0,
			End:         info.Duration,
			Size:        info.Size,
		}}
		res.Elapsed = time.Since(started)
		log.Debug("recording within limit, not splitting", "duration", info.Duration, "size", info.Size)
		return res, nil
	}

	log.Info("splitting recording", "chunks", len(bounds), "duration", info.Duration, "size", info.Size, "strategy", c.limit.Strategy)

	chunks := make([]AudioChunk, len(bounds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, b := range bounds {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := c.export(gctx, ref, b)
			if err != nil {
				return fmt.Errorf("chunk: export %d [%v, %v]: %w", i, b.Start, b.End, err)
			}
			chunks[i] = AudioChunk{
				ID:          uuid.NewString(),
				OriginalRef: ref,
				ChunkRef:    path,
				Sequence:    i,
				Start:       b.Start,
				End:         b.End,
				Size:        fileSize(path),
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if cerr := removeChunks(chunks); cerr != nil {
			log.Warn("failed to remove partial chunks", "err", cerr)
		}
		return nil, err
	}

	if c.limit.Strategy == BySize {
		for _, ch := range chunks {
			if ch.Size > c.limit.MaxBytes {
				log.Warn("exported chunk exceeds size limit", "sequence", ch.Sequence, "size", ch.Size, "limit", c.limit.MaxBytes)
			}
		}
	}

	res.Chunks = chunks
	res.Elapsed = time.Since(started)
	return res, nil
}

// export runs one export under the per-export timeout.
func (c *Chunker) export(ctx context.Context, ref string, b Boundary) (string, error) {
	if c.exportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.exportTimeout)
		defer cancel()
	}
	start := time.Now()
	path, err := c.exporter.Export(ctx, ref, b.Start, b.End)
	c.metrics.ChunkExportDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w: %w", pipeerr.ErrChunkExportFailed, pipeerr.ErrProcessingTimeout, err)
		}
		return "", fmt.Errorf("%w: %w", pipeerr.ErrChunkExportFailed, err)
	}
	return path, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
