package core

import (
	"context"
	"errors"
	"sync"

	"gwi.com/rag-chat/internal/store"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return v, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeProvider echoes the seed plus the new exchange, the way the Gemini SDK
// extends its session history.
type fakeProvider struct {
	reply    string
	startErr error
	sendErr  error
	// block makes Send wait for ctx to finish.
	block bool
	// transcript overrides the echoed transcript when non-nil.
	transcript []store.Message

	seed     []store.Message
	liveText string
	sends    int
}

func (f *fakeProvider) StartSession(ctx context.Context, seed []store.Message) (ChatSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.seed = append([]store.Message(nil), seed...)
	return &fakeSession{p: f}, nil
}

type fakeSession struct {
	p *fakeProvider
}

func (s *fakeSession) Send(ctx context.Context, text string) (*Completion, error) {
	s.p.sends++
	s.p.liveText = text
	if s.p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.p.sendErr != nil {
		return nil, s.p.sendErr
	}
	transcript := s.p.transcript
	if transcript == nil {
		transcript = append(append([]store.Message(nil), s.p.seed...),
			store.Message{Role: store.RoleUser, Content: text},
			store.Message{Role: store.RoleModel, Content: s.p.reply},
		)
	}
	return &Completion{Text: s.p.reply, Transcript: transcript}, nil
}
