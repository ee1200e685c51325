package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gwi.com/rag-chat/internal/core"
	"gwi.com/rag-chat/internal/store"
)

type mockAnswerer struct {
	result  *core.AnswerResult
	err     error
	called  bool
	history []store.Message
}

func (m *mockAnswerer) Answer(ctx context.Context, history []store.Message) (*core.AnswerResult, error) {
	m.called = true
	m.history = history
	return m.result, m.err
}

type mockCorpus struct{ chunks, embedded, dim int }

func (m mockCorpus) Len() int         { return m.chunks }
func (m mockCorpus) EmbeddedLen() int { return m.embedded }
func (m mockCorpus) Dimension() int   { return m.dim }

type mockRuns struct {
	run *store.IngestionRun
	err error
}

func (m mockRuns) LatestRun(ctx context.Context) (*store.IngestionRun, error) {
	return m.run, m.err
}

func newTestServer(chat Answerer, runs RunLister) http.Handler {
	return NewRouter(NewAPIHandler(chat, mockCorpus{chunks: 3, embedded: 2, dim: 768}, runs), []string{"*"})
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler_Success(t *testing.T) {
	chat := &mockAnswerer{result: &core.AnswerResult{
		Reply: "Hello!",
		History: []store.Message{
			{Role: store.RoleUser, Content: "Hi"},
			{Role: store.RoleModel, Content: "Hello!"},
		},
	}}
	rec := postChat(t, newTestServer(chat, nil), `{"history":[{"role":"user","content":"Hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var resp struct {
		Reply          string          `json:"reply"`
		NewChatHistory []store.Message `json:"newChatHistory"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "Hello!" || len(resp.NewChatHistory) != 2 || resp.NewChatHistory[1].Role != "model" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(chat.history) != 1 || chat.history[0].Content != "Hi" {
		t.Errorf("history not passed through: %+v", chat.history)
	}
}

func TestChatHandler_BadRequests(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"history":`,
		"missing":       `{}`,
		"null":          `{"history":null}`,
		"not an array":  `{"history":{"role":"user"}}`,
		"string":        `{"history":"hi"}`,
		"empty":         `{"history":[]}`,
		"bad message":   `{"history":[1,2]}`,
		"top-level arr": `[{"role":"user","content":"hi"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			chat := &mockAnswerer{}
			rec := postChat(t, newTestServer(chat, nil), body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if chat.called {
				t.Error("chat service must not be called")
			}
		})
	}
}

func TestChatHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid input", &core.InvalidInputError{Reason: "last message must be from the user"}, http.StatusBadRequest},
		{"provider", &core.ProviderError{Op: "send", Err: errors.New("boom")}, http.StatusInternalServerError},
		{"provider timeout", &core.ProviderError{Op: "send", Err: context.DeadlineExceeded}, http.StatusInternalServerError},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &mockAnswerer{err: tc.err}
			rec := postChat(t, newTestServer(chat, nil), `{"history":[{"role":"model","content":"hi"}]}`)
			if rec.Code != tc.code {
				t.Errorf("expected %d, got %d", tc.code, rec.Code)
			}
			if strings.Contains(rec.Body.String(), "boom") {
				t.Error("provider details leaked to the caller")
			}
		})
	}
}

func TestChatHandler_BodyTooLarge(t *testing.T) {
	chat := &mockAnswerer{}
	body := `{"history":[{"role":"user","content":"` + strings.Repeat("a", maxRequestBodyBytes) + `"}]}`
	rec := postChat(t, newTestServer(chat, nil), body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if chat.called {
		t.Error("chat service must not be called")
	}
}

func TestCorpusHandler(t *testing.T) {
	run := &store.IngestionRun{ID: "run-1", Source: "data", StartedAt: time.Now(), FinishedAt: time.Now(),
		Items: []store.IngestionItem{{Source: "bio.md", ChunkID: "bio.md", Status: store.ItemIngested}}}
	h := newTestServer(&mockAnswerer{}, mockRuns{run: run})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/corpus", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp CorpusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Chunks != 3 || resp.Embedded != 2 || resp.Dimension != 768 {
		t.Errorf("unexpected stats: %+v", resp)
	}
	if resp.LastRun == nil || resp.LastRun.ID != "run-1" || len(resp.LastRun.Items) != 1 {
		t.Errorf("unexpected last run: %+v", resp.LastRun)
	}
}

func TestCorpusHandler_WithoutAuditLog(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&mockAnswerer{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/corpus/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "lastRun") {
		t.Errorf("lastRun should be omitted: %s", rec.Body.String())
	}
}

func TestCorpusHandler_AuditError(t *testing.T) {
	rec := httptest.NewRecorder()
	h := newTestServer(&mockAnswerer{}, mockRuns{err: errors.New("db locked")})
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/corpus", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&mockAnswerer{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := NewRouter(NewAPIHandler(&mockAnswerer{}, mockCorpus{}, nil), []string{"https://app.example"})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("expected allowed origin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin for unknown caller: %q", got)
	}
}
