package core

import (
	"strings"
)

// AlignAnswer locates answer as a verbatim span of context and returns its
// byte offsets. hint, when >= 0, is the expected start offset and is checked
// first so that repeated occurrences resolve to the annotated one. Falls back
// to the first exact occurrence, then to a case-insensitive match. Returns
// ok == false if the answer does not occur in the context at all.
func AlignAnswer(context, answer string, hint int) (int, int, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return 0, 0, false
	}

	if hint >= 0 && hint+len(answer) <= len(context) && context[hint:hint+len(answer)] == answer {
		return hint, hint + len(answer), true
	}

	if idx := strings.Index(context, answer); idx >= 0 {
		return idx, idx + len(answer), true
	}

	idx := strings.Index(foldASCII(context), foldASCII(answer))
	if idx < 0 {
		return 0, 0, false
	}
	return idx, idx + len(answer), true
}

// foldASCII lowercases ASCII letters only. Unlike strings.ToLower it never
// changes byte lengths, so indexes into the folded string are valid offsets
// into the original.
func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// ValidSpan reports whether [start, end) is a well-formed span of context and,
// when text is non-empty, whether it matches the addressed substring.
func ValidSpan(context, text string, start, end int) bool {
	if start < 0 || end <= start || end > len(context) {
		return false
	}
	return text == "" || context[start:end] == text
}
