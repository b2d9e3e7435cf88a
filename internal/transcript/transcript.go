// Package transcript merges per-chunk transcription results into one
// recording-wide transcript.
//
// Each [Chunk] carries segments timed relative to the chunk file. [Reassemble]
// shifts them onto the recording's timeline, concatenates them in sequence
// order, merges speaker labels and removes the segments that were transcribed
// twice because consecutive chunks overlap.
package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a span of speech attributed to one speaker.
type Segment struct {
	Speaker string
	Text    string
	Start   time.Duration
	End     time.Duration
}

// Chunk is the transcription of one audio chunk, still in chunk-local time.
type Chunk struct {
	ID       string
	Sequence int
	RawText  string
	Segments []Segment

	// Start and End locate the chunk on the recording's timeline.
	Start time.Duration
	End   time.Duration

	// Speakers maps backend speaker labels to display names, if the backend
	// or the user supplied any.
	Speakers map[string]string
}

// Result is a merged, recording-wide transcript.
type Result struct {
	// Segments are in global time, non-decreasing by Start.
	Segments []Segment

	// Speakers maps canonical speaker labels to display names. The first
	// chunk to name a label wins.
	Speakers map[string]string

	// Aliases lists, per canonical label, the other names and near-identical
	// labels that were folded into it.
	Aliases map[string][]string

	// Dropped is the number of segments removed as overlap duplicates.
	Dropped int

	Elapsed      time.Duration
	SourceChunks []string
}

// SegmentCount returns len(r.Segments).
func (r *Result) SegmentCount() int { return len(r.Segments) }

// Text renders the transcript one segment per line, prefixed with the
// speaker's display name when one is known.
func (r *Result) Text() string {
	var sb strings.Builder
	for i, s := range r.Segments {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if name := r.speakerName(s.Speaker); name != "" {
			sb.WriteString(name)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// PlainText returns the segment texts joined by spaces, without speakers.
func (r *Result) PlainText() string {
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// Timestamped renders the transcript with [hh:mm:ss] prefixes.
func (r *Result) Timestamped() string {
	var sb strings.Builder
	for _, s := range r.Segments {
		fmt.Fprintf(&sb, "[%s] ", clock(s.Start))
		if name := r.speakerName(s.Speaker); name != "" {
			sb.WriteString(name)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (r *Result) speakerName(label string) string {
	if name, ok := r.Speakers[label]; ok && name != "" {
		return name
	}
	return label
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
