package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/infrastructure/llm/classification"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (c Config) normalize() Config {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com/v1"
	}
	if out.Model == "" {
		out.Model = "gpt-4o-mini"
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.1
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 1000
	}
	if out.Timeout <= 0 {
		out.Timeout = 60 * time.Second
	}
	return out
}

// Classifier calls an OpenAI-compatible /chat/completions endpoint in JSON mode.
type Classifier struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	now        func() time.Time
}

func NewClassifier(cfg Config, executor *resilience.Executor) *Classifier {
	cfg = cfg.normalize()
	return &Classifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
		now:        time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Classifier) Classify(ctx context.Context, text string, visual domain.VisualSignal) (domain.ClassificationResult, error) {
	system, user := classification.BuildPrompt(text, visual)
	request := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var content string
	call := func(callCtx context.Context) error {
		var response chatResponse
		if err := c.postJSON(callCtx, "/chat/completions", request, &response); err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			return errors.New("openai chat completions: no choices in response")
		}
		content = response.Choices[0].Message.Content
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "llm.openai.chat_completions", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ClassificationResult{}, resilience.WrapTemporaryIfNeeded("openai classify", err)
	}

	return classification.Parse(content, c.now().Year())
}

func (c *Classifier) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("openai", "chat completions", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	return nil
}
