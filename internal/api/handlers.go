package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"gwi.com/rag-chat/internal/core"
	"gwi.com/rag-chat/internal/store"
)

const maxRequestBodyBytes = 1 << 20

type Answerer interface {
	Answer(ctx context.Context, history []store.Message) (*core.AnswerResult, error)
}

type CorpusStats interface {
	Len() int
	EmbeddedLen() int
	Dimension() int
}

type RunLister interface {
	LatestRun(ctx context.Context) (*store.IngestionRun, error)
}

type APIHandler struct {
	chat   Answerer
	corpus CorpusStats
	runs   RunLister // nil when the audit log is disabled
}

func NewAPIHandler(chat Answerer, corpus CorpusStats, runs RunLister) *APIHandler {
	return &APIHandler{chat: chat, corpus: corpus, runs: runs}
}

type ChatRequest struct {
	History json.RawMessage `json:"history"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	raw := bytes.TrimSpace(req.History)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		http.Error(w, "history is required", http.StatusBadRequest)
		return
	}
	if raw[0] != '[' {
		http.Error(w, "history must be an array", http.StatusBadRequest)
		return
	}
	var history []store.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		http.Error(w, "Invalid history: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(history) == 0 {
		http.Error(w, "history must not be empty", http.StatusBadRequest)
		return
	}

	result, err := h.chat.Answer(r.Context(), history)
	if err != nil {
		var invalid *core.InvalidInputError
		var provider *core.ProviderError
		reqID := middleware.GetReqID(r.Context())
		switch {
		case errors.As(err, &invalid):
			http.Error(w, invalid.Error(), http.StatusBadRequest)
		case errors.As(err, &provider):
			log.Printf("[%s] Error generating reply: %v", reqID, err)
			http.Error(w, "Failed to generate a reply", http.StatusInternalServerError)
		default:
			log.Printf("[%s] Unexpected error answering chat: %v", reqID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type CorpusResponse struct {
	Chunks    int                 `json:"chunks"`
	Embedded  int                 `json:"embedded"`
	Dimension int                 `json:"dimension"`
	LastRun   *store.IngestionRun `json:"lastRun,omitempty"`
}

func (h *APIHandler) CorpusHandler(w http.ResponseWriter, r *http.Request) {
	resp := CorpusResponse{
		Chunks:    h.corpus.Len(),
		Embedded:  h.corpus.EmbeddedLen(),
		Dimension: h.corpus.Dimension(),
	}
	if h.runs != nil {
		run, err := h.runs.LatestRun(r.Context())
		if err != nil {
			log.Printf("Error loading latest ingestion run: %v", err)
			http.Error(w, "Failed to load ingestion status", http.StatusInternalServerError)
			return
		}
		resp.LastRun = run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
