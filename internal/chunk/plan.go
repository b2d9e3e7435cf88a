// Package chunk splits long recordings into bounded, time-aligned pieces that
// a transcription backend accepts.
//
// Planning is pure: [Plan] turns a recording's duration and byte size plus a
// backend [Limit] into an ordered list of [Boundary] values. [Chunker] runs the
// whole chunking operation against an [audio.Inspector] and [audio.Exporter].
package chunk

import (
	"errors"
	"fmt"
	"time"
)

// maxChunks bounds the number of boundaries a single plan may produce.
const maxChunks = 10_000

// Strategy selects how a [Limit] is expressed.
type Strategy int

const (
	// BySize limits each chunk by an estimated byte size.
	BySize Strategy = iota
	// ByDuration limits each chunk by duration.
	ByDuration
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case BySize:
		return "size"
	case ByDuration:
		return "duration"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses "size" or "duration".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "size":
		return BySize, nil
	case "duration":
		return ByDuration, nil
	}
	return 0, fmt.Errorf("chunk: unknown strategy %q", s)
}

// Limit is a backend ceiling. Exactly one of MaxBytes and MaxDuration is
// meaningful, selected by Strategy. Use [ByteLimit] or [DurationLimit].
type Limit struct {
	Strategy    Strategy
	MaxBytes    int64
	MaxDuration time.Duration

	// Overlap is appended to every non-final chunk.
	Overlap time.Duration
}

// ByteLimit returns a size-based limit.
func ByteLimit(maxBytes int64, overlap time.Duration) Limit {
	return Limit{Strategy: BySize, MaxBytes: maxBytes, Overlap: overlap}
}

// DurationLimit returns a duration-based limit.
func DurationLimit(maxDuration, overlap time.Duration) Limit {
	return Limit{Strategy: ByDuration, MaxDuration: maxDuration, Overlap: overlap}
}

// Validate reports whether the limit can be planned against.
func (l Limit) Validate() error {
	if l.Overlap < 0 {
		return fmt.Errorf("chunk: overlap must be >= 0, got %v", l.Overlap)
	}
	switch l.Strategy {
	case BySize:
		if l.MaxBytes <= 0 {
			return fmt.Errorf("chunk: size limit must be > 0, got %d", l.MaxBytes)
		}
	case ByDuration:
		if l.MaxDuration <= 0 {
			return fmt.Errorf("chunk: duration limit must be > 0, got %v", l.MaxDuration)
		}
	default:
		return fmt.Errorf("chunk: unknown strategy %v", l.Strategy)
	}
	return nil
}

// Boundary is one planned time range within the recording.
type Boundary struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns End - Start.
func (b Boundary) Duration() time.Duration { return b.End - b.Start }

// ErrInvalidDuration is returned by [Plan] for a non-positive duration.
var ErrInvalidDuration = errors.New("chunk: duration must be > 0")

// Plan computes the chunk boundaries for a recording of the given duration and
// byte size. A recording already within the limit yields a single boundary
// spanning [0, duration]. Plan is deterministic.
//
// The size strategy assumes a uniform byte rate and converts the byte ceiling
// into a duration ceiling. Variable bitrate audio can therefore produce chunks
// larger than MaxBytes after export.
func Plan(duration time.Duration, size int64, limit Limit) ([]Boundary, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if err := limit.Validate(); err != nil {
		return nil, err
	}

	maxDur := limit.MaxDuration
	if limit.Strategy == BySize {
		if size <= limit.MaxBytes {
			return []Boundary{{Start: 0, End: duration}}, nil
		}
		bytesPerSecond := float64(size) / duration.Seconds()
		maxDur = time.Duration(float64(limit.MaxBytes) / bytesPerSecond * float64(time.Second))
		if maxDur <= 0 {
			return nil, fmt.Errorf("chunk: size limit %d too small for %d bytes over %v", limit.MaxBytes, size, duration)
		}
	}
	return planSpans(int64(duration), int64(maxDur), int64(limit.Overlap), func(s, e int64) Boundary {
		return Boundary{Start: time.Duration(s), End: time.Duration(e)}
	})
}

// WordRange is a half-open range [Start, End) of word indices.
type WordRange struct {
	Start int
	End   int
}

// PlanWords applies the duration rule to a word budget: totalWords words are
// split into ranges of at most maxWords, each non-final range extended by
// overlapWords. It is used to shorten text that does not fit an engine's
// context window.
func PlanWords(totalWords, maxWords, overlapWords int) ([]WordRange, error) {
	if totalWords <= 0 {
		return nil, fmt.Errorf("chunk: word count must be > 0, got %d", totalWords)
	}
	if maxWords <= 0 {
		return nil, fmt.Errorf("chunk: word budget must be > 0, got %d", maxWords)
	}
	if overlapWords < 0 {
		return nil, fmt.Errorf("chunk: word overlap must be >= 0, got %d", overlapWords)
	}
	return planSpans(int64(totalWords), int64(maxWords), int64(overlapWords), func(s, e int64) WordRange {
		return WordRange{Start: int(s), End: int(e)}
	})
}

// planSpans implements the shared rule on integer units:
//
//	count = ceil(total / max)
//	start = i * max
//	end   = min(start+max, total), plus overlap clipped to total for i < count-1
func planSpans[T any](total, maxLen, overlap int64, mk func(start, end int64) T) ([]T, error) {
	if total <= maxLen {
		return []T{mk(0, total)}, nil
	}
	count := (total + maxLen - 1) / maxLen
	if count > maxChunks {
		return nil, fmt.Errorf("chunk: plan would produce %d chunks (max %d)", count, maxChunks)
	}
	out := make([]T, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * maxLen
		end := min(start+maxLen, total)
		if i < count-1 {
			end = min(end+overlap, total)
		}
		out = append(out, mk(start, end))
	}
	return out, nil
}
