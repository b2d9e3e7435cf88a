package transcript

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultKeyChars is the number of normalized leading characters used as the
// text part of a deduplication key.
const DefaultKeyChars = 24

type dedupKey struct {
	prefix string
	second int64
}

// Dedup removes segments whose (normalized text prefix, start rounded to the
// nearest second) key already appeared among the kept segments that started
// within window of it. The first occurrence is kept. A window of zero or less
// remembers every key.
//
// Short, highly repetitive utterances that start in the same second can be
// merged even when they were genuinely spoken twice.
//
// Dedup is idempotent and does not modify its input.
func Dedup(segments []Segment, window time.Duration, keyChars int) (kept []Segment, dropped int) {
	if keyChars <= 0 {
		keyChars = DefaultKeyChars
	}
	windowSec := int64(math.Ceil(window.Seconds()))

	seen := make(map[dedupKey]struct{})
	var order []dedupKey
	kept = make([]Segment, 0, len(segments))

	for _, s := range segments {
		k := dedupKey{prefix: keyPrefix(s.Text, keyChars), second: roundSecond(s.Start)}

		if window > 0 {
			// Evict keys that fell out of the window behind this segment.
			n := 0
			for n < len(order) && order[n].second < k.second-windowSec {
				delete(seen, order[n])
				n++
			}
			order = order[n:]
		}

		if _, dup := seen[k]; dup {
			dropped++
			continue
		}
		seen[k] = struct{}{}
		order = append(order, k)
		kept = append(kept, s)
	}
	return kept, dropped
}

func roundSecond(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}

// keyPrefix lower-cases text, drops punctuation, collapses whitespace and
// returns the first n runes.
func keyPrefix(text string, n int) string {
	var sb strings.Builder
	count := 0
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
				count++
				if count == n {
					return sb.String()
				}
			}
			space = false
			sb.WriteRune(r)
			count++
		case unicode.IsSpace(r):
			space = true
		}
		if count >= n {
			break
		}
	}
	return sb.String()
}
