package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
	// ImageURL attaches an image (http(s) or data URL) to a user message.
	ImageURL string
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, messages []Message) (string, error)
}

type llmService struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	maxRetries  int
}

var defaultBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"openai":      "https://api.openai.com/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"ollama":      "http://localhost:11434/v1",
}

// NewLLMService creates a new LLMService for an OpenAI-compatible endpoint.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	defaultURL, ok := defaultBaseURLs[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	apiKey := cfg.APIKey
	if cfg.Provider == "ollama" && apiKey == "" {
		// Ollama ignores the key but the client requires one.
		apiKey = "ollama"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = defaultURL
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &llmService{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
	}, nil
}

func (s *llmService) Chat(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := s.doWithRetry(ctx, func() error {
		req := openai.ChatCompletionRequest{
			Model:       s.model,
			Messages:    convertMessages(messages),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		}

		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return result, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (s *llmService) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < s.maxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			slog.Debug("LLM request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}

		if m.ImageURL == "" {
			out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, 2)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL, Detail: openai.ImageURLDetailAuto},
		})
		out[i] = openai.ChatCompletionMessage{Role: role, MultiContent: parts}
	}
	return out
}

// Helper for creating system prompts
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// Helper for creating user messages
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Helper for creating user messages carrying an image
func ImageMessage(content, imageURL string) Message {
	return Message{Role: "user", Content: content, ImageURL: imageURL}
}
