package core

import (
	"strings"
	"testing"

	"gwi.com/rag-chat/internal/store"
)

func TestAssembleContext_Empty(t *testing.T) {
	if got := AssembleContext(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := AssembleContext([]ScoredChunk{}); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestAssembleContext_Blocks(t *testing.T) {
	got := AssembleContext([]ScoredChunk{
		{Chunk: store.Chunk{ID: "bio.md", Text: "Jane is an engineer."}, Similarity: 0.9},
		{Chunk: store.Chunk{ID: "faq.json", Text: "{\"q\": \"a\"}"}, Similarity: 0.8},
	})

	if !strings.HasPrefix(got, contextHeader+"\n\n") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.HasSuffix(got, contextInstruction) {
		t.Errorf("missing trailing instruction: %q", got)
	}
	first := "[1] Source: bio.md\nJane is an engineer.\n\n"
	second := "[2] Source: faq.json\n{\"q\": \"a\"}\n\n"
	i, j := strings.Index(got, first), strings.Index(got, second)
	if i < 0 || j < 0 {
		t.Fatalf("labeled blocks missing: %q", got)
	}
	if i > j {
		t.Error("blocks out of ranked order")
	}
}
