package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gwi.com/rag-chat/internal/config"
	"gwi.com/rag-chat/internal/store"
)

// ChatProvider opens a provider-side conversation seeded with history.
type ChatProvider interface {
	StartSession(ctx context.Context, seed []store.Message) (ChatSession, error)
}

// ChatSession sends one live user turn on a seeded conversation.
type ChatSession interface {
	Send(ctx context.Context, text string) (*Completion, error)
}

// Completion is the provider's reply and its full transcript of the session,
// including the seed it was started with.
type Completion struct {
	Text       string
	Transcript []store.Message
}

type AnswerResult struct {
	Reply   string          `json:"reply"`
	History []store.Message `json:"newChatHistory"`
}

type ChatServiceOptions struct {
	Persona config.PersonaConfig
	Timeout time.Duration // Per provider call, zero means none
}

// ChatService answers a caller-owned conversation. It keeps no state between
// requests.
type ChatService struct {
	retriever *Retriever
	provider  ChatProvider
	persona   config.PersonaConfig
	timeout   time.Duration
}

func NewChatService(retriever *Retriever, provider ChatProvider, opts ChatServiceOptions) *ChatService {
	if opts.Persona.Instruction == "" {
		opts.Persona.Instruction = config.DefaultPersonaInstruction
	}
	if opts.Persona.Ack == "" {
		opts.Persona.Ack = config.DefaultPersonaAck
	}
	return &ChatService{
		retriever: retriever,
		provider:  provider,
		persona:   opts.Persona,
		timeout:   opts.Timeout,
	}
}

// Answer generates the next model turn for history, whose last message must be
// a non-empty user message. The returned history holds only real turns.
func (s *ChatService) Answer(ctx context.Context, history []store.Message) (*AnswerResult, error) {
	if err := validateHistory(history); err != nil {
		return nil, err
	}

	current := history[len(history)-1]
	prior := history[:len(history)-1]

	relevant := s.retriever.FindRelevant(ctx, current.Content, s.retriever.TopN())
	seed := s.composeSeed(AssembleContext(relevant), prior)
	if config.AppConfig.Debug() {
		log.Printf("Composed seed of %d messages (%d retrieved chunks, %d prior turns)", len(seed), len(relevant), len(prior))
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	session, err := s.provider.StartSession(callCtx, seed)
	if err != nil {
		return nil, &ProviderError{Op: "start session", Err: err}
	}
	completion, err := session.Send(callCtx, current.Content)
	if err != nil {
		return nil, &ProviderError{Op: "send", Err: err}
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, &ProviderError{Op: "send", Err: errors.New("empty reply")}
	}

	newHistory := stripSynthetic(completion.Transcript)
	if len(newHistory) == 0 {
		return nil, &ProviderError{Op: "send", Err: errors.New("empty transcript")}
	}
	if last := newHistory[len(newHistory)-1]; last.Role != store.RoleModel {
		return nil, &ProviderError{Op: "send", Err: errors.New("transcript does not end with a model turn")}
	}
	if !extendsHistory(newHistory, history) {
		return nil, &ProviderError{Op: "send", Err: errors.New("transcript does not extend the request history")}
	}
	if len(newHistory) != len(history)+1 {
		log.Printf("Warning: provider transcript has %d turns, expected %d", len(newHistory), len(history)+1)
	}

	return &AnswerResult{Reply: completion.Text, History: newHistory}, nil
}

// composeSeed builds persona pair, optional context turn, then prior history.
// The current question is not included; it is sent as the live turn.
func (s *ChatService) composeSeed(contextBlock string, prior []store.Message) []store.Message {
	seed := make([]store.Message, 0, len(prior)+3)
	seed = append(seed,
		store.Message{Role: store.RoleUser, Content: s.persona.Instruction, Synthetic: true},
		store.Message{Role: store.RoleModel, Content: s.persona.Ack, Synthetic: true},
	)
	if contextBlock != "" {
		seed = append(seed, store.Message{Role: store.RoleUser, Content: contextBlock, Synthetic: true})
	}
	for _, msg := range prior {
		msg.Synthetic = false
		seed = append(seed, msg)
	}
	return seed
}

func validateHistory(history []store.Message) error {
	if len(history) == 0 {
		return &InvalidInputError{Reason: "history is empty"}
	}
	for i, msg := range history {
		if msg.Role != store.RoleUser && msg.Role != store.RoleModel {
			return &InvalidInputError{Reason: fmt.Sprintf("message %d has unknown role %q", i, msg.Role)}
		}
	}
	last := history[len(history)-1]
	if last.Role != store.RoleUser {
		return &InvalidInputError{Reason: "last message must be from the user"}
	}
	if strings.TrimSpace(last.Content) == "" {
		return &InvalidInputError{Reason: "last message content is empty"}
	}
	return nil
}

// extendsHistory reports whether transcript starts with every turn of history
// unchanged and adds at least one turn after it.
func extendsHistory(transcript, history []store.Message) bool {
	if len(transcript) <= len(history) {
		return false
	}
	for i, msg := range history {
		if transcript[i].Role != msg.Role || transcript[i].Content != msg.Content {
			return false
		}
	}
	return true
}

func stripSynthetic(transcript []store.Message) []store.Message {
	out := make([]store.Message, 0, len(transcript))
	for _, msg := range transcript {
		if !msg.Synthetic {
			out = append(out, msg)
		}
	}
	return out
}
