package quality

import (
	"fmt"
	"math"
)

// Tier is a coarse summary quality grade.
type Tier int

const (
	Unacceptable Tier = iota
	Poor
	Acceptable
	Good
	Excellent
)

// String returns the lower-case name of the tier.
func (t Tier) String() string {
	switch t {
	case Unacceptable:
		return "unacceptable"
	case Poor:
		return "poor"
	case Acceptable:
		return "acceptable"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// BelowAcceptable reports whether a result of this tier counts as degraded.
func (t Tier) BelowAcceptable() bool { return t < Acceptable }

// SummaryInput carries the measurable properties of a generated summary.
type SummaryInput struct {
	Text          string
	Tasks         int
	Reminders     int
	Confidence    float64
	OriginalWords int
}

// Assessment is the scored verdict on a summary.
type Assessment struct {
	Tier   Tier
	Score  float64
	Issues []string
}

// Score weights.
const (
	weightLength     = 0.5
	weightExtraction = 0.2
	weightConfidence = 0.3
)

// ScoreSummary grades a summary by length relative to its source, whether
// anything actionable was extracted, and the engine's confidence.
func (v *Validator) ScoreSummary(in SummaryInput) Assessment {
	var a Assessment
	words := len(Words(in.Text))
	if words == 0 {
		a.Issues = append(a.Issues, "summary is empty")
		a.Tier = Unacceptable
		return a
	}

	length := lengthScore(words, in.OriginalWords)
	switch {
	case words < 3:
		a.Issues = append(a.Issues, "summary is too short")
	case in.OriginalWords > 0 && float64(words) > 0.8*float64(in.OriginalWords) && in.OriginalWords > v.cfg.VerbatimWords:
		a.Issues = append(a.Issues, "summary is nearly as long as the transcript")
	}

	extraction := 0.5
	if in.Tasks+in.Reminders > 0 {
		extraction = 1
	} else {
		a.Issues = append(a.Issues, "no tasks or reminders extracted")
	}

	conf := math.Max(0, math.Min(1, in.Confidence))
	if conf < 0.4 {
		a.Issues = append(a.Issues, "low engine confidence")
	}

	a.Score = weightLength*length + weightExtraction*extraction + weightConfidence*conf
	a.Tier = tierFor(a.Score)
	return a
}

// lengthScore is 1 inside the target band of 5–40% of the source length and
// falls off linearly outside it.
func lengthScore(words, original int) float64 {
	if words < 3 {
		return 0
	}
	if original <= 0 {
		return 0.5
	}
	r := float64(words) / float64(original)
	switch {
	case r < 0.05:
		return math.Max(0.2, r/0.05)
	case r <= 0.4:
		return 1
	case r <= 1:
		return 1 - (r-0.4)/0.6*0.7
	default:
		return 0.3
	}
}

func tierFor(score float64) Tier {
	switch {
	case score >= 0.85:
		return Excellent
	case score >= 0.7:
		return Good
	case score >= 0.5:
		return Acceptable
	case score >= 0.3:
		return Poor
	default:
		return Unacceptable
	}
}
