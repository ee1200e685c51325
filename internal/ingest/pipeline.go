package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gwi.com/rag-chat/internal/config"
	"gwi.com/rag-chat/internal/store"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	// EmbedRatePerMinute caps embedding calls. Zero or less disables the cap.
	EmbedRatePerMinute int
}

// Pipeline fills a corpus from seed documents and a directory of files. It is
// a one-shot batch step and must not be run concurrently on the same corpus.
type Pipeline struct {
	corpus   *store.Corpus
	embedder Embedder
	limiter  *rate.Limiter
}

func NewPipeline(corpus *store.Corpus, embedder Embedder, opts Options) *Pipeline {
	limit := rate.Inf
	if opts.EmbedRatePerMinute > 0 {
		limit = rate.Limit(float64(opts.EmbedRatePerMinute) / 60)
	}
	return &Pipeline{
		corpus:   corpus,
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// IngestDir adds one chunk per supported file in dir, in file name order.
// It never returns an error: per-file failures become skipped items and an
// unreadable directory is recorded on the run.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) *store.IngestionRun {
	run := newRun(dir)
	defer finishRun(run)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("Error: failed to read corpus directory %s: %v", dir, err)
		run.Error = err.Error()
		return run
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			run.Items = append(run.Items, store.IngestionItem{Source: name, Status: store.ItemIgnored, Reason: "directory"})
			continue
		}
		if !Supported(name) {
			log.Printf("Ignoring %s: unsupported content type", name)
			run.Items = append(run.Items, store.IngestionItem{Source: name, Status: store.ItemIgnored, Reason: errUnsupported.Error()})
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: skipping %s, read failed: %v", name, err)
			run.Items = append(run.Items, skipped(name, "", fmt.Sprintf("read failed: %v", err)))
			continue
		}
		ext, err := extract(name, data)
		if err != nil {
			log.Printf("Warning: skipping %s, extraction failed: %v", name, err)
			run.Items = append(run.Items, skipped(name, "", fmt.Sprintf("extraction failed: %v", err)))
			continue
		}
		if ext.Warning != "" {
			log.Printf("Warning: %s: %s", name, ext.Warning)
		}

		item := p.addChunk(ctx, name, name, ext.Text)
		item.Warning = ext.Warning
		run.Items = append(run.Items, item)
	}
	return run
}

// IngestSeed adds static knowledge from the deployment config.
func (p *Pipeline) IngestSeed(ctx context.Context, docs []config.SeedDocument) *store.IngestionRun {
	run := newRun("seed")
	defer finishRun(run)

	for _, doc := range docs {
		run.Items = append(run.Items, p.addChunk(ctx, "seed:"+doc.ID, doc.ID, doc.Text))
	}
	return run
}

// addChunk embeds text and stores it. A chunk whose embedding fails is kept
// unembedded so it shows up in diagnostics but never in search.
func (p *Pipeline) addChunk(ctx context.Context, source, id, text string) store.IngestionItem {
	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("Skipping %s: empty after extraction", source)
		return skipped(source, "", store.ErrEmptyChunk.Error())
	}

	var embedding []float32
	var reason string
	if err := p.limiter.Wait(ctx); err != nil {
		reason = fmt.Sprintf("embedding not attempted: %v", err)
	} else if vec, err := p.embedder.Embed(ctx, text); err != nil {
		reason = fmt.Sprintf("embedding failed: %v", err)
	} else if len(vec) == 0 {
		reason = "embedding failed: empty vector"
	} else {
		embedding = vec
	}
	if reason != "" {
		log.Printf("Warning: %s: %s", source, reason)
	}

	err := p.corpus.Add(store.Chunk{ID: id, Text: text, Embedding: embedding})
	switch {
	case errors.Is(err, store.ErrDimensionMismatch):
		// Keep the text for diagnostics without the inconsistent vector.
		log.Printf("Warning: %s: %v", source, err)
		reason = err.Error()
		if addErr := p.corpus.Add(store.Chunk{ID: id, Text: text}); addErr != nil {
			return skipped(source, "", addErr.Error())
		}
		return skipped(source, id, reason)
	case err != nil:
		log.Printf("Warning: skipping %s: %v", source, err)
		return skipped(source, "", err.Error())
	}

	if reason != "" {
		return skipped(source, id, reason)
	}
	return store.IngestionItem{Source: source, ChunkID: id, Status: store.ItemIngested}
}

func skipped(source, chunkID, reason string) store.IngestionItem {
	return store.IngestionItem{Source: source, ChunkID: chunkID, Status: store.ItemSkipped, Reason: reason}
}

func newRun(source string) *store.IngestionRun {
	return &store.IngestionRun{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
		Items:     []store.IngestionItem{},
	}
}

func finishRun(run *store.IngestionRun) {
	run.FinishedAt = time.Now().UTC()
	log.Printf("Ingestion run %s (%s) finished: %d ingested, %d skipped, %d ignored",
		run.ID, run.Source, run.Count(store.ItemIngested), run.Count(store.ItemSkipped), run.Count(store.ItemIgnored))
}
