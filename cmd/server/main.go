package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/rag-chat/internal/api"
	"gwi.com/rag-chat/internal/cache"
	"gwi.com/rag-chat/internal/config"
	"gwi.com/rag-chat/internal/core"
	"gwi.com/rag-chat/internal/ingest"
	"gwi.com/rag-chat/internal/store"
	"gwi.com/rag-chat/internal/watch"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for a dry ingestion run
	ingestOnlyFlag := flag.Bool("ingest-only", false, "Ingest the corpus, report the result and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize LLM service
	llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, core.LLMOptions{
		ChatModel:       cfg.Tuning.Models.Chat,
		EmbeddingModel:  cfg.Tuning.Models.Embedding,
		Temperature:     *cfg.Tuning.Generation.Temperature,
		MaxOutputTokens: cfg.Tuning.Generation.MaxOutputTokens,
		Timeout:         cfg.ProviderTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	// Ingestion embeds through the on-disk cache when enabled. Query
	// embeddings always go straight to the provider.
	var ingestEmbedder ingest.Embedder = llmService
	if cfg.EmbeddingCachePath != "" {
		embeddingCache, err := cache.NewEmbeddingCache(cfg.EmbeddingCachePath, llmService, llmService.EmbeddingModel())
		if err != nil {
			log.Fatalf("Failed to open embedding cache: %v", err)
		}
		defer func() {
			hits, misses := embeddingCache.Stats()
			log.Printf("Embedding cache: %d hits, %d misses", hits, misses)
			embeddingCache.Close()
		}()
		ingestEmbedder = embeddingCache
	}

	var auditStore *store.AuditStore
	if cfg.AuditDBPath != "" {
		auditStore, err = store.NewAuditStore(cfg.AuditDBPath)
		if err != nil {
			log.Fatalf("Failed to initialize audit database: %v", err)
		}
		defer auditStore.Close()
	}

	// Build the corpus before accepting requests
	corpus := store.NewCorpus()
	pipeline := ingest.NewPipeline(corpus, ingestEmbedder, ingest.Options{EmbedRatePerMinute: cfg.EmbedRatePerMinute})
	runs := []*store.IngestionRun{}
	if len(cfg.Tuning.Seed) > 0 {
		runs = append(runs, pipeline.IngestSeed(ctx, cfg.Tuning.Seed))
	}
	runs = append(runs, pipeline.IngestDir(ctx, cfg.CorpusDir))
	recordRuns(ctx, auditStore, runs, cfg.AuditRetention)
	log.Printf("Corpus ready: %d chunks, %d searchable, dimension %d", corpus.Len(), corpus.EmbeddedLen(), corpus.Dimension())

	if *ingestOnlyFlag {
		log.Println("Ingestion complete. Exiting.")
		return
	}
	if corpus.EmbeddedLen() == 0 {
		log.Println("Warning: no searchable chunks, answers will not be augmented.")
	}

	if cfg.WatchCorpus {
		watcher, err := watch.NewCorpusWatcher(ingest.SupportedExtensions())
		if err != nil {
			log.Printf("Warning: corpus watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
			events, err := watcher.Watch(ctx, cfg.CorpusDir)
			if err != nil {
				log.Printf("Warning: cannot watch %s: %v", cfg.CorpusDir, err)
			} else {
				go watch.LogChanges(events)
			}
		}
	}

	retriever := core.NewRetriever(corpus, llmService, core.RetrieverOptions{
		TopN:            cfg.Tuning.Retrieval.TopN,
		SimilarityFloor: cfg.Tuning.Retrieval.SimilarityFloor,
	})
	chatService := core.NewChatService(retriever, llmService, core.ChatServiceOptions{
		Persona: cfg.Tuning.Persona,
		Timeout: cfg.ProviderTimeout,
	})

	// Initialize API Handler and Router
	var runLister api.RunLister
	if auditStore != nil {
		runLister = auditStore
	}
	apiHandler := api.NewAPIHandler(chatService, corpus, runLister)
	router := api.NewRouter(apiHandler, cfg.AllowedOrigins)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout*2 + 10*time.Second, // Embedding and chat calls run back to back
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	<-ctx.Done() // Block until a signal is received
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting gracefully")
}

// recordRuns writes ingestion runs to the audit log and prunes old ones.
// Audit failures are logged and never stop startup.
func recordRuns(ctx context.Context, audit *store.AuditStore, runs []*store.IngestionRun, retention time.Duration) {
	if audit == nil {
		return
	}
	for _, run := range runs {
		if err := audit.SaveRun(ctx, run); err != nil {
			log.Printf("Warning: failed to record ingestion run %s: %v", run.ID, err)
		}
	}
	if retention > 0 {
		pruned, err := audit.PruneRuns(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			log.Printf("Warning: failed to prune ingestion runs: %v", err)
		} else if pruned > 0 {
			log.Printf("Pruned %d ingestion runs older than %s", pruned, retention)
		}
	}
}
