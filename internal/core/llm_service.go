package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gwi.com/rag-chat/internal/config"
	"gwi.com/rag-chat/internal/store"
)

var errEmptyResponse = errors.New("gemini response was empty or had no text parts")

type LLMOptions struct {
	ChatModel       string
	EmbeddingModel  string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration // Applied to each embedding call
}

// LLMService is the Gemini-backed embedding and chat provider.
type LLMService struct {
	client *genai.Client
	opts   LLMOptions
}

func NewLLMService(ctx context.Context, apiKey string, opts LLMOptions) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if opts.ChatModel == "" {
		opts.ChatModel = config.DefaultChatModel
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = config.DefaultEmbeddingModel
	}
	return &LLMService{client: client, opts: opts}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// EmbeddingModel names the model behind Embed, so cached vectors can be keyed by it.
func (s *LLMService) EmbeddingModel() string {
	return s.opts.EmbeddingModel
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	em := s.client.EmbeddingModel(s.opts.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// StartSession opens a chat seeded with history. No network call is made
// until Send.
func (s *LLMService) StartSession(ctx context.Context, seed []store.Message) (ChatSession, error) {
	model := s.client.GenerativeModel(s.opts.ChatModel)
	model.SetTemperature(s.opts.Temperature)
	model.SetMaxOutputTokens(s.opts.MaxOutputTokens)
	model.SafetySettings = permissiveSafetySettings()

	history, origin := toContents(seed)
	cs := model.StartChat()
	cs.History = history
	return &geminiSession{cs: cs, origin: origin}, nil
}

type geminiSession struct {
	cs *genai.ChatSession
	// origin maps each seeded Content back to the message it came from, so
	// synthetic tags survive the round trip through the SDK.
	origin map[*genai.Content]store.Message
}

func (g *geminiSession) Send(ctx context.Context, text string) (*Completion, error) {
	resp, err := g.cs.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	reply := responseText(resp)
	if reply == "" {
		return nil, errEmptyResponse
	}
	return &Completion{Text: reply, Transcript: fromContents(g.cs.History, g.origin)}, nil
}

func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockNone})
	}
	return settings
}

func toContents(messages []store.Message) ([]*genai.Content, map[*genai.Content]store.Message) {
	contents := make([]*genai.Content, 0, len(messages))
	origin := make(map[*genai.Content]store.Message, len(messages))
	for _, msg := range messages {
		c := &genai.Content{
			Role:  msg.Role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		}
		contents = append(contents, c)
		origin[c] = msg
	}
	return contents, origin
}

// fromContents relies on ChatSession.SendMessage appending to History in place,
// which keeps the seeded *Content pointers. Recheck after SDK upgrades.
func fromContents(contents []*genai.Content, origin map[*genai.Content]store.Message) []store.Message {
	messages := make([]store.Message, 0, len(contents))
	for _, c := range contents {
		if c == nil {
			continue
		}
		if msg, ok := origin[c]; ok {
			messages = append(messages, msg)
			continue
		}
		messages = append(messages, store.Message{Role: c.Role, Content: partsText(c.Parts)})
	}
	return messages
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	return partsText(resp.Candidates[0].Content.Parts)
}

func partsText(parts []genai.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return b.String()
}
