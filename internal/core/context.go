package core

import (
	"fmt"
	"strings"
)

const (
	contextHeader      = "Here is some information that may be relevant to the user's next question:"
	contextInstruction = "Use this information to answer the question if it is relevant. If it is not relevant, answer without it."
)

// AssembleContext renders retrieved chunks as one instruction block. It
// returns "" for no chunks, in which case no context turn must be sent.
func AssembleContext(chunks []ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n\n")
	for i, sc := range chunks {
		fmt.Fprintf(&b, "[%d] Source: %s\n%s\n\n", i+1, sc.Chunk.ID, sc.Chunk.Text)
	}
	b.WriteString(contextInstruction)
	return b.String()
}
