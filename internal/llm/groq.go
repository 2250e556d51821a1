package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"recipe-box/internal/config"
	"recipe-box/internal/shared"
)

const (
	groqAPIURL      = "https://api.groq.com/openai/v1/chat/completions"
	groqModel       = "llama-3.3-70b-versatile"
	groqTimeout     = 60 * time.Second
	groqTemperature = 0.2
	groqSystem      = "You are a careful cooking assistant. Answer with a single JSON object and nothing else."
)

// groqClient talks to Groq's OpenAI-compatible chat completions API.
type groqClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

func NewGroqClient(cfg *config.Config) TextGenerator {
	return &groqClient{
		apiKey:     cfg.GroqAPIKey,
		apiURL:     groqAPIURL,
		model:      groqModel,
		httpClient: &http.Client{Timeout: groqTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateContent asks the model for a JSON answer to prompt.
func (c *groqClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: groqSystem},
			{Role: "user", Content: prompt},
		},
		Temperature:    groqTemperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create groq request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("groq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ContentResponse{}, groqStatusError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode groq response: %w", err)
	}
	if len(out.Choices) == 0 {
		return ContentResponse{}, errors.New("groq returned no choices")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return ContentResponse{
		Content: out.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
			Model:            model,
		},
	}, nil
}

func groqStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e chatError
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("groq api error (status %d, %s): %s", resp.StatusCode, e.Error.Type, e.Error.Message)
	}
	return fmt.Errorf("groq api error (status %d): %s", resp.StatusCode, bytes.TrimSpace(raw))
}
