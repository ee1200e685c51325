package core

import (
	"context"
	"log"
	"sort"

	"gwi.com/rag-chat/internal/config"
	"gwi.com/rag-chat/internal/store"
	"gwi.com/rag-chat/internal/utils"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSource is the read side of the corpus. Anything that can hand out a
// snapshot of embedded chunks can back a Retriever.
type ChunkSource interface {
	EmbeddedChunks() []store.Chunk
}

type ScoredChunk struct {
	Chunk      store.Chunk
	Similarity float64
}

type RetrieverOptions struct {
	TopN int // Values below 1 use config.DefaultTopN
	// SimilarityFloor is exclusive. Nil means config.DefaultSimilarityFloor.
	SimilarityFloor *float64
}

// Retriever ranks corpus chunks against a query by cosine similarity with a
// linear scan.
type Retriever struct {
	corpus   ChunkSource
	embedder Embedder
	topN     int
	floor    float64
}

func NewRetriever(corpus ChunkSource, embedder Embedder, opts RetrieverOptions) *Retriever {
	if opts.TopN < 1 {
		opts.TopN = config.DefaultTopN
	}
	floor := config.DefaultSimilarityFloor
	if opts.SimilarityFloor != nil {
		floor = *opts.SimilarityFloor
	}
	return &Retriever{
		corpus:   corpus,
		embedder: embedder,
		topN:     opts.TopN,
		floor:    floor,
	}
}

func (r *Retriever) TopN() int {
	return r.topN
}

// FindRelevant returns at most topN chunks scoring strictly above the floor,
// best first. Any failure degrades to an empty result.
func (r *Retriever) FindRelevant(ctx context.Context, query string, topN int) []ScoredChunk {
	chunks := r.corpus.EmbeddedChunks()
	if len(chunks) == 0 {
		log.Println("No embedded chunks available for retrieval.")
		return nil
	}
	if topN < 1 {
		topN = r.topN
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("Warning: failed to embed query, continuing without context: %v", err)
		return nil
	}
	if len(queryEmbedding) == 0 {
		log.Println("Warning: query embedding was empty, continuing without context.")
		return nil
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			log.Printf("Error calculating similarity for chunk %s: %v. Skipping.", chunk.ID, err)
			continue
		}
		if similarity > r.floor {
			scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: similarity})
		}
	}

	// Stable so equal scores keep corpus order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}

	if len(scored) == 0 {
		log.Printf("No relevant chunks found for query (similarity floor: %.2f).", r.floor)
		return nil
	}
	log.Printf("Retrieved %d relevant chunks for query.", len(scored))
	return scored
}
