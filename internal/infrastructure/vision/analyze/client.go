package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

const (
	analyzePath    = "/vision/v3.2/analyze"
	visualFeatures = "Objects,Tags,Description,Categories"
	// MinTagConfidence is exclusive.
	MinTagConfidence = 0.5
)

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client requests objects, tags, caption and categories for one image in a single round trip.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type analyzeResponse struct {
	Objects []struct {
		Object     string  `json:"object"`
		Confidence float64 `json:"confidence"`
	} `json:"objects"`
	Tags []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"tags"`
	Description struct {
		Captions []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"captions"`
	} `json:"description"`
}

func (c *Client) Analyze(ctx context.Context, imageURL string) (domain.VisualSignal, error) {
	var response analyzeResponse
	call := func(callCtx context.Context) error {
		return c.post(callCtx, imageURL, &response)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "vision.analyze", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.VisualSignal{}, resilience.WrapTemporaryIfNeeded("vision analyze", err)
	}
	return response.signal(), nil
}

func (r analyzeResponse) signal() domain.VisualSignal {
	out := domain.VisualSignal{
		DetectedObjects: make([]domain.DetectedObject, 0, len(r.Objects)),
		SemanticTags:    make([]string, 0, len(r.Tags)),
	}
	for _, obj := range r.Objects {
		name := strings.TrimSpace(obj.Object)
		if name == "" {
			continue
		}
		out.DetectedObjects = append(out.DetectedObjects, domain.DetectedObject{
			Name:       name,
			Confidence: domain.ClampConfidence(obj.Confidence),
		})
	}
	for _, tag := range r.Tags {
		name := strings.TrimSpace(tag.Name)
		if name == "" || tag.Confidence <= MinTagConfidence {
			continue
		}
		out.SemanticTags = append(out.SemanticTags, name)
	}
	if len(r.Description.Captions) > 0 {
		out.ImageDescription = strings.TrimSpace(r.Description.Captions[0].Text)
	}
	return out
}

func (c *Client) post(ctx context.Context, imageURL string, out *analyzeResponse) error {
	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return fmt.Errorf("marshal vision request: %w", err)
	}
	endpoint := c.endpoint + analyzePath + "?visualFeatures=" + visualFeatures
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("vision", "analyze", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode vision response: %w", err)
	}
	return nil
}
