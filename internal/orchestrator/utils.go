package orchestrator

import (
	"strings"
	"unicode/utf8"
)

// CombineWithHistory folds earlier questions into the current one so that
// follow-ups keep their context:
//
//	"<question>. remember previous prompts: {<p1> | <p2>}"
//
// Question marks are stripped from the earlier questions. With no history
// the question is returned unchanged.
func CombineWithHistory(question string, previous []string) string {
	kept := make([]string, 0, len(previous))
	for _, p := range previous {
		p = strings.TrimSpace(strings.ReplaceAll(p, "?", ""))
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString(question)
	b.WriteString(". remember previous prompts: {")
	b.WriteString(strings.Join(kept, " | "))
	b.WriteString("}")
	return b.String()
}

// preview shortens s to at most n runes for log lines.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
