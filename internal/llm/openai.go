package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/af-corp/hearth/internal/config"
)

const defaultMaxTokens = 1024

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenAI, vLLM, Ollama).
type OpenAIClient struct {
	client         *openai.Client
	maxTokens      int
	embeddingModel string
}

// NewOpenAIClient creates a client for cfg.BaseURL.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base_url is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(oc),
		maxTokens:      maxTokens,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

func (c *OpenAIClient) chatRequest(req Request) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Generate sends a completion request. With req.Stream and a non-nil onToken
// it streams and forwards every delta.
func (c *OpenAIClient) Generate(ctx context.Context, req Request, onToken TokenFunc) (string, error) {
	if req.Stream && onToken != nil {
		return c.generateStream(ctx, req, onToken)
	}

	resp, err := c.client.CreateChatCompletion(ctx, c.chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) generateStream(ctx context.Context, req Request, onToken TokenFunc) (string, error) {
	chat := c.chatRequest(req)
	chat.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("chat completion stream: %w", err)
		}
		if len(response.Choices) > 0 {
			if delta := response.Choices[0].Delta.Content; delta != "" {
				content.WriteString(delta)
				onToken(delta)
			}
		}
	}
	return content.String(), nil
}

// Embed returns the embedding of text using the configured embedding model.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embeddingModel == "" {
		return nil, errors.New("no embedding model configured")
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embeddings response was empty")
	}
	return resp.Data[0].Embedding, nil
}
