// Package readapi is a text extractor for Read-style OCR services: a POST either answers with the
// text directly or returns an Operation-Location that is polled until the operation settles.
package readapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
)

const (
	analyzePath      = "/vision/v3.2/read/analyze"
	subscriptionKey  = "Ocp-Apim-Subscription-Key"
	operationHeader  = "Operation-Location"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	defaultPollEvery = time.Second
	defaultMaxPolls  = 10
)

var (
	ErrOperationFailed = errors.New("ocr operation failed")
	ErrPollExhausted   = errors.New("ocr operation did not complete")
)

type Config struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollEvery
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
	}
}

type line struct {
	Text string `json:"text"`
}

type analyzeResult struct {
	ReadResults []struct {
		Page  int    `json:"page"`
		Lines []line `json:"lines"`
	} `json:"readResults"`
}

// operation covers both the synchronous answer and a poll response.
type operation struct {
	Status        string         `json:"status"`
	Text          string         `json:"text"`
	Lines         []line         `json:"lines"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
}

func (o operation) text() string {
	if strings.TrimSpace(o.Text) != "" {
		return strings.TrimSpace(o.Text)
	}
	lines := make([]string, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, l.Text)
	}
	if o.AnalyzeResult != nil {
		for _, page := range o.AnalyzeResult.ReadResults {
			for _, l := range page.Lines {
				lines = append(lines, l.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RecognizeText returns the text of the image at imageURL. An image without text yields "".
func (c *Client) RecognizeText(ctx context.Context, imageURL string) (string, error) {
	var (
		syncResult   *operation
		operationURL string
	)
	call := func(callCtx context.Context) error {
		result, location, err := c.submit(callCtx, imageURL)
		if err != nil {
			return err
		}
		syncResult, operationURL = result, location
		return nil
	}
	if err := c.execute(ctx, "ocr.analyze", call); err != nil {
		return "", resilience.WrapTemporaryIfNeeded("ocr analyze", err)
	}

	if syncResult != nil {
		return syncResult.text(), nil
	}
	return c.poll(ctx, operationURL)
}

func (c *Client) submit(ctx context.Context, imageURL string) (*operation, string, error) {
	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return nil, "", fmt.Errorf("marshal analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+analyzePath, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("ocr analyze request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		location := strings.TrimSpace(resp.Header.Get(operationHeader))
		if location == "" {
			return nil, "", errors.New("ocr analyze: accepted without Operation-Location")
		}
		return nil, location, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result operation
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, "", fmt.Errorf("decode analyze response: %w", err)
		}
		return &result, "", nil
	default:
		return nil, "", resilience.NewHTTPStatusError("ocr", "analyze", resp)
	}
}

// poll waits PollInterval before each of at most MaxPolls status checks. Transient check
// failures use up an attempt; permanent ones end polling.
func (c *Client) poll(ctx context.Context, operationURL string) (string, error) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("ocr poll: %w", ctx.Err())
		case <-timer.C:
		}

		var result operation
		err := c.execute(ctx, "ocr.poll", func(callCtx context.Context) error {
			var fetchErr error
			result, fetchErr = c.fetchOperation(callCtx, operationURL)
			return fetchErr
		})
		switch {
		case err != nil:
			if !resilience.ClassifyHTTPError(err).Retryable {
				return "", err
			}
			lastErr = err
		case strings.EqualFold(result.Status, statusSucceeded):
			return result.text(), nil
		case strings.EqualFold(result.Status, statusFailed):
			return "", ErrOperationFailed
		}
		timer.Reset(c.cfg.PollInterval)
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w after %d polls: %v", ErrPollExhausted, c.cfg.MaxPolls, lastErr)
	}
	return "", fmt.Errorf("%w after %d polls", ErrPollExhausted, c.cfg.MaxPolls)
}

func (c *Client) fetchOperation(ctx context.Context, operationURL string) (operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return operation{}, fmt.Errorf("create poll request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return operation{}, fmt.Errorf("ocr poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return operation{}, resilience.NewHTTPStatusError("ocr", "poll", resp)
	}
	var result operation
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return operation{}, fmt.Errorf("decode poll response: %w", err)
	}
	return result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set(subscriptionKey, c.cfg.APIKey)
	}
}

func (c *Client) execute(ctx context.Context, name string, call func(context.Context) error) error {
	if c.executor != nil {
		return c.executor.Execute(ctx, name, call, resilience.ClassifyHTTPError)
	}
	return call(ctx)
}
