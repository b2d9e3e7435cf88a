package engine

import (
	"cmp"
	"context"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/murmur/internal/quality"
)

// NoContentSummary is the text of a summary produced from empty input.
const NoContentSummary = "No content to summarize."

// SentenceScorer ranks sentences for extractive summaries. Score returns one
// value per sentence; higher is better.
type SentenceScorer interface {
	Score(sentences []string) []float64
}

// ScorerFunc adapts a function to [SentenceScorer].
type ScorerFunc func(sentences []string) []float64

func (f ScorerFunc) Score(sentences []string) []float64 { return f(sentences) }

// Local is the rule-based engine. It needs no configuration, never touches
// the network and is always available.
type Local struct {
	name         string
	scorer       SentenceScorer
	maxSentences int
}

var _ Engine = (*Local)(nil)

// LocalOption configures a [Local] engine.
type LocalOption func(*Local)

// WithScorer replaces the default word-frequency sentence scorer.
func WithScorer(s SentenceScorer) LocalOption {
	return func(l *Local) { l.scorer = s }
}

// WithMaxSentences caps the extractive summary length. Default: 7.
func WithMaxSentences(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.maxSentences = n
		}
	}
}

// WithLocalName overrides the default name "local".
func WithLocalName(name string) LocalOption {
	return func(l *Local) { l.name = name }
}

// NewLocal returns the offline engine.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{name: KindLocal.String(), scorer: FrequencyScorer(), maxSentences: 7}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Local) Kind() Kind   { return KindLocal }
func (l *Local) Name() string { return l.name }

func (l *Local) Descriptor(context.Context) Descriptor {
	return Descriptor{Name: l.name, Kind: KindLocal, Available: true, Version: "1"}
}

func (l *Local) ProcessComplete(ctx context.Context, text string) (*Summary, error) {
	return Assemble(ctx, l, text)
}

// GenerateSummary picks the best-scored sentences and returns them in their
// original order.
func (l *Local) GenerateSummary(_ context.Context, text string) (Draft, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return Draft{Text: NoContentSummary, Titles: []string{"Empty recording"}}, nil
	}

	k := min(len(sentences), max(1, min(l.maxSentences, (len(sentences)+4)/5)))
	if len(sentences) <= 3 {
		k = len(sentences)
	}

	scores := l.scorer.Score(sentences)
	idx := make([]int, len(sentences))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(scoreAt(scores, b), scoreAt(scores, a)) })
	picked := slices.Clone(idx[:k])
	slices.Sort(picked)

	parts := make([]string, 0, k)
	for _, i := range picked {
		parts = append(parts, sentences[i])
	}

	conf := 0.35
	if len(sentences) >= 3 {
		conf = 0.45
	}
	content, _ := l.ClassifyContent(context.Background(), text)
	return Draft{
		Text:       strings.Join(parts, " "),
		Titles:     titles(sentences, content),
		Confidence: conf,
	}, nil
}

func scoreAt(scores []float64, i int) float64 {
	if i < len(scores) {
		return scores[i]
	}
	return 0
}

var (
	reTaskPrefix = regexp.MustCompile(`(?i)^(?:action items?|todo|to do|tasks?|next steps?)\s*[:\-]\s*(.+)$`)
	reTaskModal  = regexp.MustCompile(`\b([Ii]|[Ww]e|[Yy]ou|[Hh]e|[Ss]he|[Tt]hey|[A-Z][a-z]+)\s+(?:need to|needs to|should|must|has to|have to|will|is going to|are going to|am going to)\s+(.+)`)
	reTaskLets   = regexp.MustCompile(`(?i)^(?:let's|let us|please)\s+(.+)`)
	reDue        = regexp.MustCompile(`(?i)\b(?:by|before|until|due)\s+((?:next\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|week|month)|tomorrow|tonight|end of (?:the )?(?:day|week|month)|eod|eow|\d{1,2}(?:st|nd|rd|th)?(?:\s+of\s+[a-z]+)?)\b`)
	reUrgent     = regexp.MustCompile(`(?i)\b(?:urgent|urgently|asap|immediately|critical)\b`)

	reReminderKeyword = regexp.MustCompile(`(?i)\b(?:remind|reminder|don't forget|do not forget|remember to|deadline|appointment)\b`)
	reWhen            = regexp.MustCompile(`(?i)\b(?:at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?|tomorrow(?:\s+(?:morning|afternoon|evening))?|tonight|next\s+(?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|on\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
)

// nonOwners are capitalised subjects that never name a person.
var nonOwners = map[string]bool{
	"it": true, "there": true, "this": true, "that": true, "which": true,
	"what": true, "who": true, "nothing": true, "everything": true, "the": true,
}

var pronouns = map[string]bool{"i": true, "we": true, "you": true, "he": true, "she": true, "they": true}

// ExtractTasks finds action items with modal-verb, imperative and prefix
// rules.
func (l *Local) ExtractTasks(_ context.Context, text string) ([]Task, error) {
	var tasks []Task
	seen := make(map[string]bool)
	for _, s := range SplitSentences(text) {
		t, ok := parseTask(s)
		if !ok {
			continue
		}
		key := strings.ToLower(t.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func parseTask(sentence string) (Task, bool) {
	var t Task
	switch {
	case reTaskPrefix.MatchString(sentence):
		t.Text = reTaskPrefix.FindStringSubmatch(sentence)[1]
	case reTaskLets.MatchString(sentence):
		t.Text = reTaskLets.FindStringSubmatch(sentence)[1]
	default:
		m := reTaskModal.FindStringSubmatch(sentence)
		if m == nil {
			return Task{}, false
		}
		subject := strings.ToLower(m[1])
		if nonOwners[subject] {
			return Task{}, false
		}
		if !pronouns[subject] {
			t.Owner = m[1]
		}
		t.Text = m[2]
	}
	t.Text = strings.TrimRight(strings.TrimSpace(t.Text), ".!?")
	if len(quality.Words(t.Text)) < 2 {
		return Task{}, false
	}
	if m := reDue.FindStringSubmatch(sentence); m != nil {
		t.Due = strings.ToLower(m[1])
	}
	if reUrgent.MatchString(sentence) {
		t.Priority = "high"
	}
	return t, true
}

// ExtractReminders finds sentences with reminder keywords or explicit time
// references.
func (l *Local) ExtractReminders(_ context.Context, text string) ([]Reminder, error) {
	var out []Reminder
	for _, s := range SplitSentences(text) {
		when := reWhen.FindString(s)
		if when == "" && !reReminderKeyword.MatchString(s) {
			continue
		}
		out = append(out, Reminder{
			Text: strings.TrimRight(strings.TrimSpace(s), ".!?"),
			When: strings.ToLower(when),
		})
	}
	return out, nil
}

var contentKeywords = map[ContentType][]string{
	ContentMeeting:   {"agenda", "action item", "meeting", "minutes", "next steps", "deadline", "team", "quarter", "project", "stakeholder", "sync"},
	ContentLecture:   {"today we", "lecture", "chapter", "students", "theorem", "homework", "exam", "professor", "course", "definition"},
	ContentInterview: {"interview", "tell me about", "candidate", "your experience", "the role", "why do you", "strengths", "position"},
	ContentPersonal:  {"i feel", "my family", "mom", "dad", "birthday", "weekend", "my friend", "vacation", "dinner", "kids"},
	ContentTechnical: {"api", "server", "database", "deploy", "code", "bug", "function", "kubernetes", "latency", "endpoint", "release"},
}

var lyricTokens = map[string]bool{"oh": true, "ooh": true, "yeah": true, "la": true, "na": true, "baby": true, "whoa": true, "chorus": true, "verse": true}

// ClassifyContent picks the content type whose keywords occur most often.
// Fewer than two hits classify as [ContentGeneral].
func (l *Local) ClassifyContent(_ context.Context, text string) (ContentType, error) {
	words := quality.Words(text)
	if len(words) == 0 {
		return ContentGeneral, nil
	}
	lyric := 0
	for _, w := range words {
		if lyricTokens[w] {
			lyric++
		}
	}
	if float64(lyric)/float64(len(words)) >= 0.15 {
		return ContentLyrics, nil
	}

	padded := " " + strings.Join(words, " ") + " "
	best, bestHits := ContentGeneral, 1
	for _, ct := range []ContentType{ContentMeeting, ContentLecture, ContentInterview, ContentPersonal, ContentTechnical} {
		hits := 0
		for _, kw := range contentKeywords[ct] {
			hits += strings.Count(padded, " "+kw+" ")
		}
		if hits > bestHits {
			best, bestHits = ct, hits
		}
	}
	return best, nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "it": true, "that": true, "this": true,
	"we": true, "i": true, "you": true, "he": true, "she": true, "they": true, "so": true,
	"as": true, "by": true, "from": true, "have": true, "has": true, "had": true, "do": true,
	"did": true, "not": true, "will": true, "would": true, "can": true, "just": true,
	"about": true, "our": true, "your": true, "my": true, "me": true, "us": true, "there": true,
	"then": true, "if": true, "what": true, "which": true, "um": true, "uh": true, "like": true,
	"yeah": true, "okay": true, "ok": true, "also": true, "really": true, "very": true,
}

// FrequencyScorer scores a sentence by the mean corpus frequency of its
// content words, with a small bonus for the opening sentence.
func FrequencyScorer() SentenceScorer {
	return ScorerFunc(func(sentences []string) []float64 {
		freq := make(map[string]int)
		tokens := make([][]string, len(sentences))
		for i, s := range sentences {
			for _, w := range quality.Words(s) {
				if stopwords[w] || len(w) < 3 {
					continue
				}
				tokens[i] = append(tokens[i], w)
				freq[w]++
			}
		}
		scores := make([]float64, len(sentences))
		for i, ws := range tokens {
			if len(ws) == 0 {
				continue
			}
			sum := 0
			for _, w := range ws {
				sum += freq[w]
			}
			scores[i] = float64(sum) / float64(len(ws))
			if i == 0 {
				scores[i] *= 1.2
			}
		}
		return scores
	})
}

// titles proposes up to three titles: the two dominant keywords, the opening
// sentence and the content type.
func titles(sentences []string, content ContentType) []string {
	var out []string
	add := func(t string) {
		if t != "" && !slices.Contains(out, t) && len(out) < 3 {
			out = append(out, t)
		}
	}

	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range quality.Words(s) {
			if !stopwords[w] && len(w) >= 4 {
				freq[w]++
			}
		}
	}
	type kw struct {
		w string
		n int
	}
	var kws []kw
	for w, n := range freq {
		kws = append(kws, kw{w, n})
	}
	slices.SortFunc(kws, func(a, b kw) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(a.w, b.w)
	})
	switch {
	case len(kws) >= 2 && kws[1].n > 1:
		add(capitalize(kws[0].w) + " and " + capitalize(kws[1].w))
	case len(kws) >= 1 && kws[0].n > 1:
		add(capitalize(kws[0].w))
	}

	first := strings.Fields(strings.TrimRight(sentences[0], ".!?"))
	if len(first) > 8 {
		first = first[:8]
	}
	add(strings.Join(first, " "))

	switch content {
	case ContentGeneral:
		add("Recording notes")
	default:
		add(capitalize(content.String()) + " notes")
	}
	return out
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// SplitSentences splits text at sentence-final punctuation followed by
// whitespace and at line breaks. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" && len(quality.Words(s)) > 0 {
			out = append(out, s)
		}
		sb.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		sb.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

func wordCount(text string) int { return len(quality.Words(text)) }
