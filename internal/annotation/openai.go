package annotation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/observability"
)

// Default values for the chat completions provider.
const (
	defaultBaseURL     = "https://api.x.ai/v1"
	defaultModel       = "grok-3-mini"
	defaultMaxTokens   = 200
	defaultTemperature = 0.3
	defaultRetryDelay  = time.Second
	maxRetryDelay      = 30 * time.Second
	defaultTimeout     = 20 * time.Second

	defaultSummaryTimeout = 2 * time.Minute

	summaryMaxTokens   = 3000
	summaryTemperature = 0.4
	trendsMaxTokens    = 1000
	trendsTemperature  = 0.3
)

// chatRequest represents the Chat Completions API request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat specifies the output format for the API response.
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents the Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ProviderConfig holds the parameters needed to create a Provider.
// This is defined here to keep the annotation package free of the config
// package.
type ProviderConfig struct {
	// Name labels errors and metrics (e.g., "xai").
	Name string
	// APIKey is the bearer token.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
	// Languages are the summary languages requested from the model.
	Languages   []string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// SummaryTimeout bounds one summary or trends request (empty means
	// defaultSummaryTimeout).
	SummaryTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	// Metrics may be nil.
	Metrics *observability.Metrics
}

// Compile-time interface verification.
var (
	_ Annotator  = (*Provider)(nil)
	_ Summarizer = (*Provider)(nil)
)

// Provider implements Annotator and Summarizer against an OpenAI-compatible Chat
// Completions endpoint.
type Provider struct {
	httpClient    *http.Client
	summaryClient *http.Client
	name          string
	apiKey        string
	model         string
	baseURL       string
	languages     []string
	maxTokens     int
	temperature   float64
	maxRetries    int
	retryDelay    time.Duration
	metrics       *observability.Metrics
}

// NewProvider creates a new chat completions annotation provider.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Name == "" {
		cfg.Name = "xai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Provider{
		httpClient:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		summaryClient: &http.Client{Timeout: cfg.SummaryTimeout, Transport: transport},
		name:          cfg.Name,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		languages:     cfg.Languages,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		metrics:       cfg.Metrics,
	}
}

// Annotate asks the model for the main findings and key terms of text.
//
// Transient errors (5xx and 429) are retried up to maxRetries times with
// exponential backoff starting at retryDelay.
func (p *Provider) Annotate(ctx context.Context, text string) (*domain.Annotation, error) {
	systemPrompt, userPrompt := BuildPrompt(text, p.languages)

	chatReq := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    p.temperature,
		MaxTokens:      p.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	start := time.Now()
	var (
		ann   *domain.Annotation
		usage chatUsage
	)
	err := p.retry(ctx, func() error {
		content, u, err := p.complete(ctx, p.httpClient, chatReq)
		if err != nil {
			return err
		}
		usage = u
		ann, err = ParseAnnotation(content, p.languages)
		if err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		ann.Model = p.model
		return nil
	})
	if err != nil {
		p.metrics.RecordAnnotation(p.model, "failure", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}
	p.metrics.RecordAnnotation(p.model, "success", time.Since(start).Seconds(), usage.PromptTokens, usage.CompletionTokens)
	return ann, nil
}

// Summarize writes a research summary in req.Language and extracts the
// research trends. A failed trend extraction leaves the trends empty and is
// reported in SummaryDraft.TrendsErr.
func (p *Provider) Summarize(ctx context.Context, req SummaryRequest) (*SummaryDraft, error) {
	systemPrompt, userPrompt := BuildSummaryPrompt(req)

	summaryReq := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	}

	start := time.Now()
	var (
		content string
		usage   chatUsage
	)
	err := p.retry(ctx, func() error {
		var err error
		content, usage, err = p.complete(ctx, p.summaryClient, summaryReq)
		if err == nil && strings.TrimSpace(content) == "" {
			return backoff.Permanent(fmt.Errorf("%s: %w", p.name, ErrEmptySummary))
		}
		return err
	})
	if err != nil {
		p.metrics.RecordAnnotation(p.model, "failure", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}
	p.metrics.RecordAnnotation(p.model, "success", time.Since(start).Seconds(), usage.PromptTokens, usage.CompletionTokens)

	draft := &SummaryDraft{Content: strings.TrimSpace(content), Model: p.model}

	trendsSystem, trendsUser := BuildTrendsPrompt(req.Papers)
	trendsReq := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: trendsSystem},
			{Role: "user", Content: trendsUser},
		},
		Temperature:    trendsTemperature,
		MaxTokens:      trendsMaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	draft.TrendsErr = p.retry(ctx, func() error {
		raw, _, err := p.complete(ctx, p.summaryClient, trendsReq)
		if err != nil {
			return err
		}
		draft.Trends, err = ParseTrends(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		return nil
	})
	return draft, nil
}

// retry runs op until it succeeds, fails with a non-transient error or the
// backoff gives up.
func (p *Provider) retry(ctx context.Context, op func() error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := op()
		if err != nil && !isTransientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx))
	if err != nil && isTransientError(err) && attempts > 1 {
		return fmt.Errorf("%s: exhausted %d retries: %w", p.name, attempts-1, err)
	}
	return err
}

func (p *Provider) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.retryDelay
	exp.MaxInterval = maxRetryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.maxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(exp, uint64(retries))
}

// Model returns the model identifier being used.
func (p *Provider) Model() string {
	return p.model
}

// complete performs a single API request to the Chat Completions endpoint
// and returns the content of the first choice.
func (p *Provider) complete(ctx context.Context, client *http.Client, chatReq chatRequest) (string, chatUsage, error) {
	var usage chatUsage

	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", usage, fmt.Errorf("%s: failed to marshal request: %w", p.name, err)
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", usage, fmt.Errorf("%s: failed to create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", usage, fmt.Errorf("%s: request failed: %w", p.name, ctx.Err())
		}
		return "", usage, &APIError{Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", usage, fmt.Errorf("%s: failed to read response body: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", usage, parseAPIError(p.name, resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", usage, fmt.Errorf("%s: failed to unmarshal response: %w: %w", p.name, domain.ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", usage, fmt.Errorf("%s: empty choices in response: %w", p.name, domain.ErrMalformedResponse)
	}
	return chatResp.Choices[0].Message.Content, chatResp.Usage, nil
}

// parseAPIError parses an API error from the response status code and body.
func parseAPIError(provider string, statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
