// Package textnorm reduces raw content of any size to a short, deterministic identity text.
package textnorm

import (
	"strings"
	"unicode/utf8"
)

// DefaultBudget is the identity text budget in runes, separators included.
const DefaultBudget = 1500

// sectionSeparator joins the sampled sections of long content.
const sectionSeparator = "\n…\n"

// minBudget leaves room for both separators and one rune per section.
var minBudget = 2*utf8.RuneCountInString(sectionSeparator) + 3

// sentenceBreaks are the boundaries a sample edge may snap to.
var sentenceBreaks = []string{"。", "！", "？", "；", ". ", "! ", "? ", "; "}

// Normalizer maps raw content to identity text.
type Normalizer interface {
	Normalize(raw string) string
}

// Sections holds the front, middle and back samples of a piece of content.
// Short content is kept whole in Front.
type Sections struct {
	Front  string
	Middle string
	Back   string
}

// String joins the non-empty sections.
func (s Sections) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Front, s.Middle, s.Back} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, sectionSeparator)
}

// SampleNormalizer samples fixed-size windows from the front, middle and back of the
// content, so the work done is bounded by the budget rather than the input size.
type SampleNormalizer struct {
	budget int
}

var _ Normalizer = (*SampleNormalizer)(nil)

// NewSampleNormalizer creates a normalizer with the given rune budget.
// A non-positive budget uses DefaultBudget; tiny budgets are raised to fit the separators.
func NewSampleNormalizer(budget int) *SampleNormalizer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if budget < minBudget {
		budget = minBudget
	}
	return &SampleNormalizer{budget: budget}
}

// Budget returns the rune budget.
func (n *SampleNormalizer) Budget() int {
	return n.budget
}

// Normalize implements Normalizer.
func (n *SampleNormalizer) Normalize(raw string) string {
	return n.Split(raw).String()
}

// Split returns the sampled sections of raw. The joined sections never exceed the budget.
func (n *SampleNormalizer) Split(raw string) Sections {
	per := (n.budget - 2*utf8.RuneCountInString(sectionSeparator)) / 3
	// Window size in bytes, large enough to hold per runes after squeezing whitespace.
	window := per * utf8.UTFMax * 2

	if len(raw) <= 3*window {
		text := squeeze(raw)
		runes := []rune(text)
		if len(runes) <= n.budget {
			return Sections{Front: text}
		}
		mid := len(runes) / 2
		return Sections{
			Front:  snapEnd(string(runes[:per])),
			Middle: string(runes[mid-per/2 : mid-per/2+per]),
			Back:   snapStart(string(runes[len(runes)-per:])),
		}
	}

	mid := len(raw) / 2
	front := squeeze(clip(raw, 0, window))
	middle := squeeze(clip(raw, mid-window/2, mid+window/2))
	back := squeeze(clip(raw, len(raw)-window, len(raw)))

	return Sections{
		Front:  snapEnd(headRunes(front, per)),
		Middle: centerRunes(middle, per),
		Back:   snapStart(tailRunes(back, per)),
	}
}

// clip returns raw[start:end] widened to rune boundaries.
func clip(raw string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(raw) {
		end = len(raw)
	}
	for start > 0 && !utf8.RuneStart(raw[start]) {
		start--
	}
	for end < len(raw) && !utf8.RuneStart(raw[end]) {
		end++
	}
	return strings.ToValidUTF8(raw[start:end], "")
}

func squeeze(s string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(s, "")), " ")
}

func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func centerRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	start := (len(runes) - n) / 2
	return string(runes[start : start+n])
}

// snapEnd cuts s after its last sentence break when that break lies in the final third.
func snapEnd(s string) string {
	cut := -1
	for _, sep := range sentenceBreaks {
		if i := strings.LastIndex(s, sep); i >= 0 && i+len(sep) > cut {
			cut = i + len(sep)
		}
	}
	if cut > len(s)*2/3 {
		return strings.TrimSpace(s[:cut])
	}
	return strings.TrimSpace(s)
}

// snapStart drops the partial sentence before the first break when it lies in the first third.
func snapStart(s string) string {
	cut := len(s)
	for _, sep := range sentenceBreaks {
		if i := strings.Index(s, sep); i >= 0 && i+len(sep) < cut {
			cut = i + len(sep)
		}
	}
	if cut < len(s)/3 {
		return strings.TrimSpace(s[cut:])
	}
	return strings.TrimSpace(s)
}
