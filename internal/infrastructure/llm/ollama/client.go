package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/infrastructure/llm/classification"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// Classifier is the Ollama-backed AI classifier (format=json generation).
type Classifier struct {
	client      *Client
	temperature float64
	maxTokens   int
	now         func() time.Time
}

func NewClassifier(client *Client, temperature float64, maxTokens int) *Classifier {
	if temperature <= 0 {
		temperature = 0.1
	}
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Classifier{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		now:         time.Now,
	}
}

func (c *Classifier) Classify(ctx context.Context, text string, visual domain.VisualSignal) (domain.ClassificationResult, error) {
	system, user := classification.BuildPrompt(text, visual)
	respText, err := c.client.generateJSON(ctx, system, user, c.temperature, c.maxTokens)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return classification.Parse(respText, c.now().Year())
}

func (c *Client) generateJSON(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"system": system,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "llm.ollama.generate", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporaryIfNeeded("ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}
