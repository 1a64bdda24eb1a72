package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultChatModelName = "gemini-2.5-pro"

// ChunkStream yields incremental response text. Next returns iterator.Done
// once the stream has ended normally.
type ChunkStream interface {
	Next() (string, error)
}

// CompletionClient starts a streaming completion over an ordered
// conversation whose last entry is the user turn being answered.
type CompletionClient interface {
	StreamChat(ctx context.Context, systemInstruction string, history []*genai.Content) (ChunkStream, error)
}

// ClientFactory builds a CompletionClient for an API key. The manager calls
// it again whenever the key changes.
type ClientFactory func(ctx context.Context, apiKey string) (CompletionClient, error)

type LLMService struct {
	client    *genai.Client
	modelName string
}

func NewLLMService(ctx context.Context, apiKey, modelName string) (*LLMService, error) {
	if modelName == "" {
		modelName = defaultChatModelName
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &LLMService{
		client:    client,
		modelName: modelName,
	}, nil
}

// NewLLMServiceFactory returns a ClientFactory producing LLMServices for modelName.
func NewLLMServiceFactory(modelName string) ClientFactory {
	return func(ctx context.Context, apiKey string) (CompletionClient, error) {
		return NewLLMService(ctx, apiKey, modelName)
	}
}

func (s *LLMService) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		log.Printf("Error closing GenAI client: %v", err)
		return err
	}
	log.Println("GenAI client closed.")
	return nil
}

func (s *LLMService) StreamChat(ctx context.Context, systemInstruction string, history []*genai.Content) (ChunkStream, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("prompt history is empty for chat completion")
	}

	lastUserMessage := history[len(history)-1]
	if lastUserMessage.Role != "user" {
		return nil, fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := s.client.GenerativeModel(s.modelName)
	if systemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemInstruction)},
		}
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	return &genaiStream{iter: chatSession.SendMessageStream(ctx, lastUserMessage.Parts...)}, nil
}

type genaiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (g *genaiStream) Next() (string, error) {
	resp, err := g.iter.Next()
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return text.String()
}
