// Package monitor implements polling-based completion detection over a
// session's rendered text stream. The only available channel is free-form
// output meant for a human reader, so a match is accepted only after a
// two-pass filter: a line-state tracker that separates echoed human input
// from agent output, and a deny-list matcher that rejects lines which
// merely mention the signal in an instruction or plan.
package monitor

import (
	"strings"
	"unicode"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
)

// Classifier decides whether an occurrence of a signal keyword in a
// buffer is a genuine completion marker authored by the agent. It is a
// pure function over text, unit-testable without any live session.
type Classifier struct {
	// PromptMarkers open an echoed-input block when a line starts with
	// one; the block ends at the next line starting with an output
	// marker.
	PromptMarkers []string

	// OutputMarkers mark agent-authored output lines.
	OutputMarkers []string

	// DenyPhrases reject lines that mention the signal inside an
	// instructional or planning sentence ("then say DONE", "type DONE
	// when finished"). The list is empirical and deliberately
	// configurable.
	DenyPhrases []string

	// MaxExtraChars bounds the number of alphanumeric characters a
	// matching line may carry beyond the signal itself; a genuine
	// completion line is essentially the signal alone.
	MaxExtraChars int
}

// NewClassifier builds a classifier from monitor configuration.
func NewClassifier(cfg config.MonitorConfig) *Classifier {
	return &Classifier{
		PromptMarkers: cfg.PromptMarkers,
		OutputMarkers: cfg.OutputMarkers,
		DenyPhrases:   cfg.DenyPhrases,
		MaxExtraChars: cfg.MaxExtraChars,
	}
}

// DefaultClassifier returns a classifier with the default heuristic lists.
func DefaultClassifier() *Classifier {
	return NewClassifier(config.Default().Monitor)
}

// Match is an accepted completion signal occurrence.
type Match struct {
	Line   string // The matched line, trimmed
	Offset int    // Byte offset just past the matched line in the buffer
}

// Scan searches buffer for a genuine occurrence of signal ending after
// fromOffset. Earlier occurrences are ignored, so an unchanged buffer
// region is never re-matched.
func (c *Classifier) Scan(buffer, signal string, fromOffset int) (Match, bool) {
	if signal == "" {
		return Match{}, false
	}

	inEchoedInput := false
	offset := 0
	for _, rawLine := range strings.Split(buffer, "\n") {
		lineEnd := offset + len(rawLine) + 1 // +1 for the newline
		line := strings.TrimRight(rawLine, " \t\r")
		offset = lineEnd

		trimmed := strings.TrimSpace(line)
		switch {
		case c.hasMarker(trimmed, c.PromptMarkers):
			inEchoedInput = true
		case c.hasMarker(trimmed, c.OutputMarkers):
			inEchoedInput = false
		}

		if lineEnd <= fromOffset {
			continue
		}
		if !strings.Contains(line, signal) {
			continue
		}
		if c.Genuine(line, signal, inEchoedInput) {
			return Match{Line: trimmed, Offset: lineEnd}, true
		}
	}
	return Match{}, false
}

// Genuine applies the per-line acceptance rules to a candidate line.
// The echoed flag carries the cross-line state from the tracker.
func (c *Classifier) Genuine(line, signal string, echoed bool) bool {
	if echoed {
		return false
	}

	trimmed := strings.TrimSpace(line)

	// Numbered-list and checkbox prefixes are plans, not completions.
	if isListItem(trimmed) {
		return false
	}

	// An instructional sentence mentions the signal; a completion line
	// is the signal. Deny phrases are matched case-insensitively against
	// the text around the signal, not the signal itself.
	surround := strings.ToLower(strings.Replace(trimmed, signal, "", 1))
	for _, phrase := range c.DenyPhrases {
		if containsWord(surround, strings.ToLower(phrase)) {
			return false
		}
	}

	// The line must be essentially the signal alone, optionally behind
	// a single output marker.
	rest := strings.Replace(trimmed, signal, "", 1)
	for _, marker := range c.OutputMarkers {
		rest = strings.TrimPrefix(strings.TrimSpace(rest), marker)
	}
	extra := 0
	for _, r := range rest {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			extra++
		}
	}
	maxExtra := c.MaxExtraChars
	if maxExtra <= 0 {
		maxExtra = 10
	}
	return extra <= maxExtra
}

func (c *Classifier) hasMarker(trimmed string, markers []string) bool {
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return false
}

// isListItem reports whether the line starts like a numbered list entry
// or a markdown checkbox.
func isListItem(trimmed string) bool {
	if strings.HasPrefix(trimmed, "- [") || strings.HasPrefix(trimmed, "* [") {
		return true
	}

	digits := 0
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits++
			continue
		}
		return digits > 0 && (r == '.' || r == ')')
	}
	return false
}

// containsWord reports whether phrase appears in text on word
// boundaries, so the deny phrase "say" does not reject "essay".
func containsWord(text, phrase string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], phrase)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(rune(text[start-1]))
		afterOK := end >= len(text) || !isWordChar(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
