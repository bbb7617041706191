package ai

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptCritical(t *testing.T) {
	prompt := BuildSystemPrompt(ModeCritical, "the article body", `{"doubt":[]}`)

	if !strings.Contains(prompt, "ARGUE AGAINST THE ARTICLE") {
		t.Fatal("expected critical stance in prompt")
	}
	if !strings.Contains(prompt, "the article body") {
		t.Fatal("expected article text to be interpolated")
	}
	if !strings.Contains(prompt, `{"doubt":[]}`) {
		t.Fatal("expected propaganda info to be interpolated")
	}
}

func TestBuildSystemPromptSupportive(t *testing.T) {
	prompt := BuildSystemPrompt(ModeSupportive, "article", "{}")
	if !strings.Contains(prompt, "SUPPORT AND AGREE WITH THE ARTICLE") {
		t.Fatal("expected supportive stance in prompt")
	}
}

func TestBuildSystemPromptUnknownModeFallsBackToCritical(t *testing.T) {
	for _, mode := range []string{"", "positive", "CRITICAL", "socratic"} {
		got := BuildSystemPrompt(mode, "a", "p")
		want := BuildSystemPrompt(ModeCritical, "a", "p")
		if got != want {
			t.Fatalf("mode %q: expected fallback to critical template", mode)
		}
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	first := BuildSystemPrompt(ModeCritical, "same", "inputs")
	second := BuildSystemPrompt(ModeCritical, "same", "inputs")
	if first != second {
		t.Fatal("prompt builder must be pure")
	}
}

func TestChunkTranscript(t *testing.T) {
	chunks := chunkTranscript("abcdefghij", 4)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0] != "abcd" || chunks[1] != "efgh" || chunks[2] != "ij" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
	if strings.Join(chunks, "") != "abcdefghij" {
		t.Fatal("chunks must concatenate to the original transcript")
	}
}

func TestChunkTranscriptEmpty(t *testing.T) {
	if chunks := chunkTranscript("", 20); chunks != nil {
		t.Fatalf("expected no chunks for empty transcript, got %v", chunks)
	}
}

func TestChunkTranscriptMultibyte(t *testing.T) {
	chunks := chunkTranscript("héllo wörld, ünicode", 5)
	if strings.Join(chunks, "") != "héllo wörld, ünicode" {
		t.Fatal("rune chunking must not split multibyte characters")
	}
	for i, chunk := range chunks[:len(chunks)-1] {
		if n := len([]rune(chunk)); n != 5 {
			t.Fatalf("chunk %d: expected 5 runes, got %d", i, n)
		}
	}
}
