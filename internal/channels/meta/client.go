package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultGraphURL = "https://graph.facebook.com/v19.0"

type Config struct {
	GraphURL      string
	AccessToken   string
	PhoneNumberID string
	// Исходящих сообщений в секунду; у Cloud API жёсткие лимиты на номер.
	RPS        float64
	HTTPClient *http.Client
}

// Client отправляет ответы в WhatsApp Cloud API и Instagram Messaging через Graph API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		log:     log.WithField("component", "meta"),
	}
}

type whatsappText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type instagramText struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendText отправляет сообщение в WhatsApp; to — номер в международном формате без "+".
func (c *Client) SendText(ctx context.Context, to, text string) error {
	if c.cfg.PhoneNumberID == "" {
		return fmt.Errorf("meta: phone number id is not configured")
	}
	var payload whatsappText
	payload.MessagingProduct = "whatsapp"
	payload.To = to
	payload.Type = "text"
	payload.Text.Body = text
	return c.post(ctx, "/"+c.cfg.PhoneNumberID+"/messages", payload)
}

func (c *Client) SendInstagram(ctx context.Context, recipientID, text string) error {
	var payload instagramText
	payload.Recipient.ID = recipientID
	payload.Message.Text = text
	return c.post(ctx, "/me/messages", payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("meta: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GraphURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("meta: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meta: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Warn("graph api error")
		return fmt.Errorf("meta: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
