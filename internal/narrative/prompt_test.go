package narrative

import (
	"errors"
	"strings"
	"testing"

	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

func samplePassages() []rag.Result {
	return []rag.Result{
		{ID: "a", Text: "Who's there?", Score: 0.91},
		{ID: "b", Text: "Nay, answer me: stand, and unfold yourself.", Score: 0.85},
	}
}

func TestAssemblePrompt_ExactLayout(t *testing.T) {
	got := AssemblePrompt(samplePassages(), "Who speaks first?", StylePlain)

	want := "You are a Shakespeare expert. Respond clearly as a Shakespeare expert, quoting from these passages.\n\n" +
		"[Passage 1]\nWho's there?\n\n" +
		"[Passage 2]\nNay, answer me: stand, and unfold yourself.\n\n" +
		"### Question:\nWho speaks first?\n\n### Answer:\n"
	if got != want {
		t.Fatalf("prompt mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestAssemblePrompt_ShakeTone(t *testing.T) {
	got := AssemblePrompt(samplePassages(), "q", StyleShake)
	if !strings.HasPrefix(got, "You are a Shakespeare expert. Respond in Shakespearean English, quoting from these passages.\n\n") {
		t.Errorf("unexpected preamble: %q", got[:80])
	}
}

func TestAssemblePrompt_PreservesInputOrder(t *testing.T) {
	passages := samplePassages()
	// Lower score first must stay first; the assembler does not re-rank.
	passages[0], passages[1] = passages[1], passages[0]

	got := AssemblePrompt(passages, "q", StylePlain)
	if strings.Index(got, "Nay, answer me") > strings.Index(got, "Who's there?") {
		t.Error("passages were reordered")
	}
}

func TestAssemblePrompt_Deterministic(t *testing.T) {
	a := AssemblePrompt(samplePassages(), "q", StyleShake)
	b := AssemblePrompt(samplePassages(), "q", StyleShake)
	if a != b {
		t.Error("same inputs produced different prompts")
	}
}

func TestAssemblePrompt_NoPassages(t *testing.T) {
	got := AssemblePrompt(nil, "q", StylePlain)
	if strings.Contains(got, "[Passage") {
		t.Error("empty input should render no passage blocks")
	}
	if !strings.HasSuffix(got, "### Question:\nq\n\n### Answer:\n") {
		t.Errorf("unexpected tail: %q", got)
	}
}

func TestAssemblePrompt_NoTruncation(t *testing.T) {
	long := strings.Repeat("O, what a rogue and peasant slave am I! ", 500)
	got := AssemblePrompt([]rag.Result{{Text: long}}, "q", StylePlain)
	if !strings.Contains(got, long) {
		t.Error("long passage was truncated")
	}
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in      string
		want    Style
		wantErr bool
	}{
		{"shake", StyleShake, false},
		{"SHAKE", StyleShake, false},
		{"plain", StylePlain, false},
		{"no-shake", StylePlain, false},
		{"", StylePlain, false},
		{"pirate", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStyle(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownStyle) {
				t.Errorf("ParseStyle(%q): expected ErrUnknownStyle, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseStyle(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
