package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

var ErrEmptyReply = errors.New("ai: empty reply")

type Message struct {
	Role    string
	Content string
}

// RetryConfig — параметры повторов с экспоненциальной задержкой.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	RPS         float64
	MaxTokens   int
	Temperature float32
	Retry       RetryConfig
	HTTPClient  *http.Client
}

// GeminiClient ходит в Gemini через OpenAI-совместимый эндпоинт.
type GeminiClient struct {
	api     *openai.Client
	cfg     Config
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewGeminiClient(cfg Config, log logrus.FieldLogger) *GeminiClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Retry.BackoffMultiplier <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &GeminiClient{
		api:     openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		log:     log.WithField("component", "ai"),
	}
}

// Chat отправляет диалог и возвращает текст первого варианта ответа.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	delay := c.cfg.Retry.InitialDelay
	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("retrying chat completion")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.cfg.Retry.BackoffMultiplier)
			if delay > c.cfg.Retry.MaxDelay {
				delay = c.cfg.Retry.MaxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyReply
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", ErrEmptyReply
		}
		return text, nil
	}
	return "", fmt.Errorf("chat completion: %w", lastErr)
}

// retryable — 429 и 5xx повторяем, остальные ошибки API нет.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
