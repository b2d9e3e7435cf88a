// Package quality decides whether a transcript is worth summarising and how
// good a produced summary is.
//
// Transcript fitness is a gate in front of every engine: text that is too
// short, a backend placeholder, dominated by error output or excessively
// repetitive is rejected with [pipeerr.ErrInsufficientContent] and never
// retried. Summary scoring runs after generation and only labels the result;
// it never blocks delivery.
package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/MrWong99/murmur/internal/pipeerr"
)

// Config holds the thresholds of a [Validator].
type Config struct {
	// MinWords is the minimum word count of a usable transcript.
	MinWords int

	// VerbatimWords is the word count at or below which a usable transcript
	// bypasses summarisation and is shown as is.
	VerbatimWords int

	// MaxErrorRatio rejects transcripts whose share of error-like words is
	// above it.
	MaxErrorRatio float64

	// MinUniqueRatio is the uniqueWords/totalWords floor.
	MinUniqueRatio float64

	// LyricUniqueRatio replaces MinUniqueRatio for text that looks like song
	// lyrics.
	LyricUniqueRatio float64

	// ExtraPlaceholders are additional lower-case phrases that mark a
	// transcript as a backend placeholder.
	ExtraPlaceholders []string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinWords:         10,
		VerbatimWords:    20,
		MaxErrorRatio:    0.3,
		MinUniqueRatio:   0.3,
		LyricUniqueRatio: 0.15,
	}
}

// Validator applies a [Config]. It is stateless and safe for concurrent use.
type Validator struct {
	cfg Config
}

// New returns a validator for cfg. Zero fields take their default.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.VerbatimWords <= 0 {
		cfg.VerbatimWords = def.VerbatimWords
	}
	if cfg.MaxErrorRatio <= 0 {
		cfg.MaxErrorRatio = def.MaxErrorRatio
	}
	if cfg.MinUniqueRatio <= 0 {
		cfg.MinUniqueRatio = def.MinUniqueRatio
	}
	if cfg.LyricUniqueRatio <= 0 {
		cfg.LyricUniqueRatio = def.LyricUniqueRatio
	}
	return &Validator{cfg: cfg}
}

// Config returns the effective thresholds.
func (v *Validator) Config() Config { return v.cfg }

// Fitness is the verdict on one transcript.
type Fitness struct {
	// Usable is false when the transcript must not be summarised.
	Usable bool

	// Verbatim is true for usable transcripts short enough to be shown
	// instead of a summary.
	Verbatim bool

	// Reason explains a rejection.
	Reason string

	Words       int
	UniqueRatio float64
	ErrorRatio  float64
	Lyrical     bool
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(still )?(processing|transcribing|uploading|queued)( audio| file| your (file|recording))?$`),
	regexp.MustCompile(`^(the )?(transcription|transcript|job|request) (is )?(still )?(running|pending|queued|processing|in progress|not ready( yet)?)( please wait)?$`),
	regexp.MustCompile(`^(please wait|loading|waiting for (result|results|transcript))$`),
	regexp.MustCompile(`^(blank audio|blank_audio|no speech( detected)?|silence|inaudible|music|no audio)$`),
}

var errorWords = map[string]bool{
	"error": true, "errors": true, "failed": true, "failure": true, "exception": true,
	"unavailable": true, "timeout": true, "invalid": true, "denied": true,
	"unauthorized": true, "forbidden": true, "null": true, "undefined": true,
	"nan": true, "inaudible": true, "unintelligible": true, "traceback": true,
}

// lyricWords is a placeholder allow-list of short exclamations typical of
// sung content.
var lyricWords = map[string]bool{
	"oh": true, "ooh": true, "ah": true, "yeah": true, "la": true, "na": true,
	"hey": true, "whoa": true, "woo": true, "baby": true, "uh": true, "da": true,
	"doo": true, "mm": true, "hmm": true,
}

// lyricShare is the share of lyric words above which text counts as lyrics.
const lyricShare = 0.15

// CheckTranscript evaluates text against every rule.
func (v *Validator) CheckTranscript(text string) Fitness {
	norm := normalizePhrase(text)
	if norm == "" {
		return Fitness{Reason: "transcript is empty"}
	}
	if v.isPlaceholder(norm) {
		return Fitness{Reason: fmt.Sprintf("transcript is a backend placeholder (%q)", strings.TrimSpace(text))}
	}

	words := Words(text)
	f := Fitness{Words: len(words)}
	if f.Words < v.cfg.MinWords {
		f.Reason = fmt.Sprintf("transcript has %d words, need at least %d", f.Words, v.cfg.MinWords)
		return f
	}

	unique := make(map[string]struct{}, len(words))
	var errs, lyric int
	for _, w := range words {
		unique[w] = struct{}{}
		if errorWords[w] {
			errs++
		}
		if lyricWords[w] {
			lyric++
		}
	}
	f.UniqueRatio = float64(len(unique)) / float64(f.Words)
	f.ErrorRatio = float64(errs) / float64(f.Words)
	f.Lyrical = float64(lyric)/float64(f.Words) >= lyricShare

	if f.ErrorRatio > v.cfg.MaxErrorRatio {
		f.Reason = fmt.Sprintf("transcript is dominated by error output (%.0f%% error words)", f.ErrorRatio*100)
		return f
	}
	floor := v.cfg.MinUniqueRatio
	if f.Lyrical {
		floor = v.cfg.LyricUniqueRatio
	}
	if f.UniqueRatio < floor {
		f.Reason = fmt.Sprintf("transcript is too repetitive (%.2f unique ratio, floor %.2f)", f.UniqueRatio, floor)
		return f
	}

	f.Usable = true
	f.Verbatim = f.Words <= v.cfg.VerbatimWords
	return f
}

// ValidateTranscript is [Validator.CheckTranscript] as an error: unfit text
// yields an error wrapping [pipeerr.ErrInsufficientContent].
func (v *Validator) ValidateTranscript(text string) (Fitness, error) {
	f := v.CheckTranscript(text)
	if !f.Usable {
		return f, fmt.Errorf("quality: %w: %s", pipeerr.ErrInsufficientContent, f.Reason)
	}
	return f, nil
}

func (v *Validator) isPlaceholder(norm string) bool {
	for _, p := range placeholderPatterns {
		if p.MatchString(norm) {
			return true
		}
	}
	for _, p := range v.cfg.ExtraPlaceholders {
		if norm == normalizePhrase(p) {
			return true
		}
	}
	return false
}

// Words splits text into lower-case words. Apostrophes inside words are
// kept, everything else that is not a letter or digit separates words.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// normalizePhrase lower-cases text, turns punctuation into spaces and
// collapses whitespace, keeping underscores.
func normalizePhrase(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}
