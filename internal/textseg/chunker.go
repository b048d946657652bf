// Package textseg splits a generated response into bounded-length segments
// suitable for low-latency speech synthesis.
package textseg

import (
	"regexp"
	"strings"
)

// Precompiled normalization patterns.
var (
	// Markdown-style emphasis markers that should never reach synthesis.
	emphasisPattern = regexp.MustCompile("[*_`~#]+")
	// Conservative speakable set: word characters, whitespace and .,!?-
	unspeakablePattern = regexp.MustCompile(`[^\w\s.,!?-]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// DefaultMergeRatio is the fraction of maxLen below which a trailing segment
// is merged into its predecessor, provided the merge keeps the hard bound.
const DefaultMergeRatio = 0.3

// Chunk is one bounded-size unit of text submitted to synthesis.
type Chunk struct {
	Index int
	Text  string
}

// Normalize prepares text for chunking: emphasis markers are removed,
// characters outside the speakable set are stripped and whitespace runs are
// collapsed to single spaces. Normalization is lossy and happens before any
// length accounting.
func Normalize(text string) string {
	text = emphasisPattern.ReplaceAllString(text, "")
	text = unspeakablePattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Split normalizes text and splits it into ordered chunks of at most maxLen
// characters. Splits happen on word boundaries; the single exception is a word
// longer than maxLen, which is cut at the character level. A trailing segment
// shorter than 30% of maxLen is merged into the previous one when the merged
// segment still fits, avoiding an awkwardly short final synthesis request.
// Empty input yields an empty slice.
func Split(text string, maxLen int) []Chunk {
	return SplitWithMerge(text, maxLen, DefaultMergeRatio)
}

// SplitWithMerge is Split with a caller-provided trailing merge ratio
func SplitWithMerge(text string, maxLen int, mergeRatio float64) []Chunk {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	if maxLen <= 0 || len(normalized) <= maxLen {
		return []Chunk{{Index: 0, Text: normalized}}
	}

	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, word := range strings.Fields(normalized) {
		if len(word) > maxLen {
			// Oversized word: cut at the character level. Each full-size
			// piece becomes its own segment; the remainder starts a new
			// running segment so following words can join it.
			flush()
			for len(word) > maxLen {
				segments = append(segments, word[:maxLen])
				word = word[maxLen:]
			}
			if len(word) > 0 {
				current.WriteString(word)
			}
			continue
		}

		if current.Len() == 0 {
			current.WriteString(word)
			continue
		}

		// +1 for the joining space
		if current.Len()+1+len(word) > maxLen {
			flush()
			current.WriteString(word)
		} else {
			current.WriteByte(' ')
			current.WriteString(word)
		}
	}
	flush()

	// Merge a short trailing segment into its predecessor, but never past the
	// hard max-length bound.
	if n := len(segments); n >= 2 {
		last := segments[n-1]
		prev := segments[n-2]
		if float64(len(last)) < mergeRatio*float64(maxLen) && len(prev)+1+len(last) <= maxLen {
			segments[n-2] = prev + " " + last
			segments = segments[:n-1]
		}
	}

	chunks := make([]Chunk, len(segments))
	for i, s := range segments {
		chunks[i] = Chunk{Index: i, Text: s}
	}
	return chunks
}
