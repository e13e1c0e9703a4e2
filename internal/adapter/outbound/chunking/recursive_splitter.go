package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitLevel is one separator in the recursive hierarchy.
type splitLevel struct {
	split  func(string) []string
	joiner string
}

// separatorHierarchy runs from coarsest to finest.
var separatorHierarchy = []splitLevel{
	{split: func(s string) []string { return strings.Split(s, "\n\n") }, joiner: "\n\n"},
	{split: func(s string) []string { return strings.Split(s, "\n") }, joiner: "\n"},
	{split: splitSentences, joiner: " "},
	{split: strings.Fields, joiner: " "},
}

// recursiveSplit splits text into segments of at most limit runes. Segments are
// trimmed and never empty. Atomic tokens matched by isAtomic are never cut.
func recursiveSplit(text string, limit int, isAtomic func(string) bool) []string {
	return splitAtLevel(text, 0, limit, isAtomic)
}

func splitAtLevel(text string, level, limit int, isAtomic func(string) bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= limit {
		return []string{text}
	}
	if level >= len(separatorHierarchy) {
		return hardSplit(text, limit, isAtomic)
	}

	sep := separatorHierarchy[level]
	var out []string
	var current strings.Builder
	currentLen := 0
	joinerLen := runeLen(sep.joiner)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, part := range sep.split(text) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		partLen := runeLen(part)
		if partLen > limit {
			flush()
			out = append(out, splitAtLevel(part, level+1, limit, isAtomic)...)
			continue
		}
		if currentLen > 0 && currentLen+joinerLen+partLen > limit {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(sep.joiner)
			currentLen += joinerLen
		}
		current.WriteString(part)
		currentLen += partLen
	}
	flush()
	return out
}

// splitSentences splits after '.', '!' or '?' when followed by whitespace.
// Terminators stay with their sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + utf8.RuneLen(r)
		next, _ := utf8.DecodeRuneInString(text[end:])
		if end < len(text) && unicode.IsSpace(next) {
			out = append(out, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// hardSplit is the last resort for a single word longer than limit. It cuts on
// rune boundaries and keeps atomic tokens whole.
func hardSplit(text string, limit int, isAtomic func(string) bool) []string {
	if isAtomic != nil && isAtomic(text) {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
