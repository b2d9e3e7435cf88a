package transcript

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/pipeerr"
)

// Reassembler merges chunk transcripts. The zero value is not usable; use
// [NewReassembler].
type Reassembler struct {
	window         time.Duration
	keyChars       int
	aliasThreshold float64
}

// Option configures a [Reassembler].
type Option func(*Reassembler)

// WithWindow sets how far back, in recording time, deduplication remembers
// keys. It should be at least the chunk overlap. Default: 10s.
func WithWindow(d time.Duration) Option {
	return func(r *Reassembler) { r.window = d }
}

// WithKeyChars sets the text-prefix length of deduplication keys.
func WithKeyChars(n int) Option {
	return func(r *Reassembler) { r.keyChars = n }
}

// WithAliasThreshold sets the Jaro-Winkler similarity above which two speaker
// labels are merged. Default: 0.90.
func WithAliasThreshold(t float64) Option {
	return func(r *Reassembler) { r.aliasThreshold = t }
}

// NewReassembler returns a Reassembler with the given options applied.
func NewReassembler(opts ...Option) *Reassembler {
	r := &Reassembler{
		window:         10 * time.Second,
		keyChars:       DefaultKeyChars,
		aliasThreshold: defaultAliasThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reassemble merges chunks with default options.
func Reassemble(chunks []Chunk) (*Result, error) {
	return NewReassembler().Reassemble(chunks)
}

// Reassemble merges chunks into one transcript. Sequence numbers must be
// exactly 0..N-1; a gap or duplicate fails with a [*pipeerr.ReassemblyError]
// and no partial transcript is returned. The input slice is not modified.
func (r *Reassembler) Reassemble(chunks []Chunk) (*Result, error) {
	started := time.Now()
	if len(chunks) == 0 {
		return nil, &pipeerr.ReassemblyError{Reason: "no chunks"}
	}

	ordered := slices.Clone(chunks)
	slices.SortStableFunc(ordered, func(a, b Chunk) int { return cmp.Compare(a.Sequence, b.Sequence) })
	if err := checkSequence(ordered); err != nil {
		return nil, err
	}

	speakers := newSpeakerSet(r.aliasThreshold)
	var merged []Segment
	sources := make([]string, 0, len(ordered))

	for _, c := range ordered {
		sources = append(sources, c.ID)
		for label, display := range sortedMap(c.Speakers) {
			speakers.name(speakers.resolve(label), display)
		}

		segs := c.Segments
		if len(segs) == 0 && strings.TrimSpace(c.RawText) != "" {
			segs = []Segment{{Text: c.RawText, Start: 0, End: c.End - c.Start}}
		}
		for _, s := range segs {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			merged = append(merged, Segment{
				Speaker: speakers.resolve(s.Speaker),
				Text:    text,
				Start:   c.Start + s.Start,
				End:     c.Start + s.End,
			})
		}
	}

	// Overlap makes the tail of chunk i and the head of chunk i+1 interleave
	// in time; a stable sort restores monotonic order without reordering
	// anything that was already in order.
	slices.SortStableFunc(merged, func(a, b Segment) int { return cmp.Compare(a.Start, b.Start) })

	kept, dropped := Dedup(merged, r.window, r.keyChars)

	return &Result{
		Segments:     kept,
		Speakers:     speakers.names,
		Aliases:      speakers.aliases,
		Dropped:      dropped,
		Elapsed:      time.Since(started),
		SourceChunks: sources,
	}, nil
}

// checkSequence verifies that sorted chunks are numbered 0..N-1.
func checkSequence(sorted []Chunk) error {
	var missing []int
	next := 0
	for i, c := range sorted {
		if c.Sequence < 0 {
			return &pipeerr.ReassemblyError{Reason: fmt.Sprintf("negative sequence number %d", c.Sequence)}
		}
		if i > 0 && c.Sequence == sorted[i-1].Sequence {
			return &pipeerr.ReassemblyError{Reason: fmt.Sprintf("duplicate sequence number %d", c.Sequence)}
		}
		for ; next < c.Sequence; next++ {
			missing = append(missing, next)
		}
		next = c.Sequence + 1
	}
	if len(missing) > 0 {
		return &pipeerr.ReassemblyError{Reason: "sequence gap", Missing: missing}
	}
	return nil
}

// sortedMap iterates m in key order so that "first wins" is deterministic
// within a chunk.
func sortedMap(m map[string]string) func(yield func(string, string) bool) {
	return func(yield func(string, string) bool) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}
