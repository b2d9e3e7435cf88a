package transcript

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/pipeerr"
)

const sec = time.Second

func TestReassemble_OffsetsAndOrders(t *testing.T) {
	chunks := []Chunk{
		{ID: "c1", Sequence: 1, Start: 300 * sec, End: 600 * sec, Segments: []Segment{
			{Speaker: "Speaker 1", Text: "second chunk first line", Start: 5 * sec, End: 9 * sec},
		}},
		{ID: "c0", Sequence: 0, Start: 0, End: 302 * sec, Segments: []Segment{
			{Speaker: "Speaker 1", Text: "hello everyone", Start: 0, End: 2 * sec},
			{Speaker: "Speaker 2", Text: "hi", Start: 3 * sec, End: 4 * sec},
		}},
	}

	res, err := Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if res.SegmentCount() != 3 {
		t.Fatalf("segments = %d, want 3", res.SegmentCount())
	}
	last := res.Segments[2]
	if last.Start != 305*sec || last.End != 309*sec {
		t.Errorf("offset segment = [%v, %v], want [305s, 309s]", last.Start, last.End)
	}
	if res.SourceChunks[0] != "c0" || res.SourceChunks[1] != "c1" {
		t.Errorf("source chunks = %v", res.SourceChunks)
	}
	if chunks[0].Sequence != 1 {
		t.Error("input slice was reordered")
	}
}

func TestReassemble_OverlapPhraseAppearsOnce(t *testing.T) {
	chunks := []Chunk{
		{ID: "a", Sequence: 0, Start: 0, End: 302 * sec, Segments: []Segment{
			{Speaker: "A", Text: "we should ship it", Start: 295 * sec, End: 298 * sec},
			{Speaker: "A", Text: "and then we", Start: 299*sec + 800*time.Millisecond, End: 301 * sec},
		}},
		{ID: "b", Sequence: 1, Start: 300 * sec, End: 600 * sec, Segments: []Segment{
			{Speaker: "A", Text: "And then we", Start: 0, End: 1 * sec},
			{Speaker: "A", Text: "deploy on friday", Start: 1 * sec, End: 3 * sec},
		}},
	}

	res, err := Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if n := strings.Count(strings.ToLower(res.PlainText()), "and then we"); n != 1 {
		t.Fatalf("phrase appears %d times in %q, want 1", n, res.PlainText())
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
}

func TestReassemble_Monotonic(t *testing.T) {
	var chunks []Chunk
	for i := 0; i < 5; i++ {
		start := time.Duration(i) * 60 * sec
		chunks = append(chunks, Chunk{
			ID: "c", Sequence: i, Start: start, End: start + 62*sec,
			Segments: []Segment{
				{Text: "alpha " + string(rune('a'+i)), Start: 0, End: 10 * sec},
				{Text: "beta " + string(rune('a'+i)), Start: 30 * sec, End: 40 * sec},
				{Text: "tail " + string(rune('a'+i)), Start: 61 * sec, End: 62 * sec},
			},
		})
	}
	res, err := Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	for i := 1; i < len(res.Segments); i++ {
		if res.Segments[i].Start < res.Segments[i-1].Start {
			t.Fatalf("segment %d starts at %v before %v", i, res.Segments[i].Start, res.Segments[i-1].Start)
		}
	}
}

func TestReassemble_RejectsGaps(t *testing.T) {
	for missing := 0; missing < 4; missing++ {
		var chunks []Chunk
		for i := 0; i < 4; i++ {
			if i == missing {
				continue
			}
			chunks = append(chunks, Chunk{Sequence: i, RawText: "text"})
		}
		_, err := Reassemble(chunks)
		if missing == 3 {
			// A missing tail is indistinguishable from a shorter recording.
			if err != nil {
				t.Fatalf("missing tail: unexpected error %v", err)
			}
			continue
		}
		if !errors.Is(err, pipeerr.ErrReassemblyFailed) {
			t.Fatalf("missing %d: err = %v, want ErrReassemblyFailed", missing, err)
		}
		var re *pipeerr.ReassemblyError
		if !errors.As(err, &re) || len(re.Missing) != 1 || re.Missing[0] != missing {
			t.Fatalf("missing %d: err = %#v", missing, err)
		}
	}
}

func TestReassemble_RejectsDuplicatesAndEmpty(t *testing.T) {
	if _, err := Reassemble(nil); !errors.Is(err, pipeerr.ErrReassemblyFailed) {
		t.Errorf("empty: err = %v", err)
	}
	dup := []Chunk{{Sequence: 0}, {Sequence: 0}}
	if _, err := Reassemble(dup); !errors.Is(err, pipeerr.ErrReassemblyFailed) {
		t.Errorf("duplicate: err = %v", err)
	}
	neg := []Chunk{{Sequence: -1}}
	if _, err := Reassemble(neg); !errors.Is(err, pipeerr.ErrReassemblyFailed) {
		t.Errorf("negative: err = %v", err)
	}
}

func TestReassemble_RawTextWithoutSegments(t *testing.T) {
	res, err := Reassemble([]Chunk{{Sequence: 0, Start: 0, End: 30 * sec, RawText: "  just text  "}})
	if err != nil {
		t.Fatal(err)
	}
	if res.SegmentCount() != 1 || res.Segments[0].Text != "just text" || res.Segments[0].End != 30*sec {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

func TestReassemble_SpeakerMerging(t *testing.T) {
	chunks := []Chunk{
		{Sequence: 0, Start: 0, Speakers: map[string]string{"Speaker 1": "Alice"}, Segments: []Segment{
			{Speaker: "Speaker 1", Text: "first", Start: 0, End: sec},
			{Speaker: "Speaker 2", Text: "second", Start: 2 * sec, End: 3 * sec},
		}},
		{Sequence: 1, Start: 60 * sec, Speakers: map[string]string{"SPEAKER_1": "Alicia"}, Segments: []Segment{
			{Speaker: "SPEAKER_1", Text: "third", Start: 0, End: sec},
			{Speaker: "speaker 2", Text: "fourth", Start: 2 * sec, End: 3 * sec},
		}},
	}
	res, err := Reassemble(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Segments[2].Speaker; got != "Speaker 1" {
		t.Errorf("folded label = %q, want Speaker 1", got)
	}
	if got := res.Segments[3].Speaker; got != "Speaker 2" {
		t.Errorf("folded label = %q, want Speaker 2", got)
	}
	if res.Speakers["Speaker 1"] != "Alice" {
		t.Errorf("first name must win, got %q", res.Speakers["Speaker 1"])
	}
	aliases := res.Aliases["Speaker 1"]
	want := map[string]bool{"SPEAKER_1": true, "Alicia": true}
	if len(aliases) != 2 || !want[aliases[0]] || !want[aliases[1]] {
		t.Errorf("aliases = %v, want SPEAKER_1 and Alicia", aliases)
	}
	if !strings.HasPrefix(res.Text(), "Alice: first\nSpeaker 2: second") {
		t.Errorf("Text() = %q", res.Text())
	}
}

func TestSpeakerSet_DistinctNumbersNeverMerge(t *testing.T) {
	s := newSpeakerSet(defaultAliasThreshold)
	a := s.resolve("Speaker 1")
	b := s.resolve("Speaker 2")
	c := s.resolve("Speaker 12")
	if a == b || b == c || a == c {
		t.Fatalf("distinct speakers merged: %q %q %q", a, b, c)
	}
}

func TestSpeakerSet_PhoneticVariant(t *testing.T) {
	s := newSpeakerSet(0.85)
	s.resolve("Katherine")
	if got := s.resolve("Catherine"); got != "Katherine" {
		t.Fatalf("resolve(Catherine) = %q, want Katherine", got)
	}
	if got := s.resolve("Bob"); got != "Bob" {
		t.Fatalf("resolve(Bob) = %q", got)
	}
}

func TestTimestamped(t *testing.T) {
	r := &Result{Segments: []Segment{{Speaker: "A", Text: "hi", Start: time.Hour + 2*time.Minute + 3*sec}}}
	if got := r.Timestamped(); got != "[01:02:03] A: hi\n" {
		t.Fatalf("Timestamped() = %q", got)
	}
}
