package narrative

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

// Style selects the tone instruction of the prompt.
type Style string

const (
	// StyleShake asks for Shakespearean English
	StyleShake Style = "shake"
	// StylePlain asks for a clear modern explanation
	StylePlain Style = "plain"
)

var ErrUnknownStyle = errors.New("unknown style")

const (
	promptPreamble = "You are a Shakespeare expert. "
	shakeTone      = "Respond in Shakespearean English, quoting from these passages."
	plainTone      = "Respond clearly as a Shakespeare expert, quoting from these passages."
	questionHeader = "### Question:\n"
	answerHeader   = "### Answer:\n"
)

// ParseStyle accepts "shake", "plain" and its alias "no-shake".
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shake":
		return StyleShake, nil
	case "plain", "no-shake", "":
		return StylePlain, nil
	default:
		return "", fmt.Errorf("%w: %q (want shake or plain)", ErrUnknownStyle, s)
	}
}

func (s Style) tone() string {
	if s == StyleShake {
		return shakeTone
	}
	return plainTone
}

// AssemblePrompt renders the expert instruction, the passages in the given
// order and the question. Passage text is not truncated.
func AssemblePrompt(results []rag.Result, question string, style Style) string {
	var b strings.Builder

	b.WriteString(promptPreamble)
	b.WriteString(style.tone())
	b.WriteString("\n\n")

	for i, r := range results {
		b.WriteString("[Passage ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("]\n")
		b.WriteString(r.Text)
		b.WriteString("\n\n")
	}

	b.WriteString(questionHeader)
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(answerHeader)

	return b.String()
}
