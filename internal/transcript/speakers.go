package transcript

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// defaultAliasThreshold is the minimum Jaro-Winkler similarity for two
// speaker labels to be treated as the same speaker.
const defaultAliasThreshold = 0.90

// speakerSet canonicalises speaker labels across chunks. Backends label the
// same voice inconsistently ("SPEAKER_1", "Speaker 1", "speaker-1"); labels
// that normalise identically, or whose letters sound alike and score above the
// threshold while carrying the same digits, fold into the first label seen.
type speakerSet struct {
	threshold float64
	canonical []string
	byNorm    map[string]string
	resolved  map[string]string
	names     map[string]string
	aliases   map[string][]string
}

func newSpeakerSet(threshold float64) *speakerSet {
	return &speakerSet{
		threshold: threshold,
		byNorm:    make(map[string]string),
		resolved:  make(map[string]string),
		names:     make(map[string]string),
		aliases:   make(map[string][]string),
	}
}

// resolve returns the canonical label for label, registering it if new.
func (s *speakerSet) resolve(label string) string {
	if label == "" {
		return ""
	}
	if c, ok := s.resolved[label]; ok {
		return c
	}
	norm := normalizeLabel(label)
	c, ok := s.byNorm[norm]
	if !ok {
		c, ok = s.similar(label)
	}
	if !ok {
		c = label
		s.canonical = append(s.canonical, label)
		s.byNorm[norm] = label
	} else if c != label {
		s.addAlias(c, label)
	}
	s.resolved[label] = c
	return c
}

// similar finds a registered label that matches label phonetically.
func (s *speakerSet) similar(label string) (string, bool) {
	letters, digits := splitLabel(label)
	if letters == "" {
		return "", false
	}
	p1, s1 := matchr.DoubleMetaphone(letters)
	var best string
	bestScore := 0.0
	for _, c := range s.canonical {
		cl, cd := splitLabel(c)
		if cd != digits || cl == "" {
			continue
		}
		p2, s2 := matchr.DoubleMetaphone(cl)
		if p1 != p2 && p1 != s2 && s1 != p2 {
			continue
		}
		if score := matchr.JaroWinkler(letters, cl, false); score >= s.threshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

// name records a display name for a canonical label. The first name wins;
// later differing names are kept as aliases.
func (s *speakerSet) name(label, display string) {
	if label == "" || display == "" {
		return
	}
	if cur, ok := s.names[label]; ok {
		if cur != display {
			s.addAlias(label, display)
		}
		return
	}
	s.names[label] = display
}

func (s *speakerSet) addAlias(label, alias string) {
	if slices.Contains(s.aliases[label], alias) {
		return
	}
	s.aliases[label] = append(s.aliases[label], alias)
}

// normalizeLabel lower-cases and strips everything but letters and digits.
func normalizeLabel(label string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// splitLabel separates the lower-cased letters of label from its digits.
func splitLabel(label string) (letters, digits string) {
	var l, d strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case unicode.IsLetter(r):
			l.WriteRune(r)
		case unicode.IsDigit(r):
			d.WriteRune(r)
		}
	}
	return l.String(), d.String()
}
