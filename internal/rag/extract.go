package rag

import (
	"regexp"
	"strconv"
)

var (
	// A letter before the keyword rejects it ("react 3"); a digit does not
	// ("Act2Scene4").
	actPattern   = regexp.MustCompile(`(?i)(?:^|[^a-z])act\s*(\d+)`)
	scenePattern = regexp.MustCompile(`(?i)(?:^|[^a-z])scene\s*(\d+)`)
)

// ExtractActScene looks for "Act N" and "Scene N" hints in a question.
// Only the first occurrence of each is used and numbers are not checked
// against the corpus. A missing hint leaves the field nil.
func ExtractActScene(text string) QueryFilter {
	return QueryFilter{
		Act:   firstNumber(actPattern, text),
		Scene: firstNumber(scenePattern, text),
	}
}

func firstNumber(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}
