// Package llm asks an OpenAI-compatible chat completions endpoint to clean up
// fields the rule-based normalizer could not read.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the OpenAI chat completions URL.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

const systemPrompt = "Отвечай строго валидным JSON без пояснений."

// Result is either a parsed value or the reason none is available.
type Result[T any] struct {
	Value  T
	OK     bool
	Reason string
}

// Parsed wraps a successfully decoded value.
func Parsed[T any](v T) Result[T] {
	return Result[T]{Value: v, OK: true}
}

// Unavailable reports why no value could be produced.
func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

// Number decodes a JSON number, a numeric string or null.
type Number struct {
	Value *float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	n.Value = nil
	text := strings.TrimSpace(string(data))
	if text == "null" || text == "" {
		return nil
	}
	if unq, err := strconv.Unquote(text); err == nil {
		text = strings.ReplaceAll(strings.TrimSpace(unq), ",", ".")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		// Unreadable values are treated as absent.
		return nil
	}
	n.Value = &v
	return nil
}

// Price is the reply to NormalizePrice.
type Price struct {
	Value    Number `json:"price_value"`
	Currency string `json:"currency"`
}

// VolumeABV is the reply to ParseVolumeABV.
type VolumeABV struct {
	VolumeL Number `json:"volume_l"`
	ABV     Number `json:"abv"`
}

// SectionText is the reply to ExtractSection.
type SectionText struct {
	Text string `json:"text"`
	List []any  `json:"list"`
}

// Config configures the client.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Client calls the chat completions API. A nil Client is valid and reports
// every result as unavailable.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns a client, or nil when no API key is configured.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		logger.Info("llm disabled: no api key")
		return nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Enabled reports whether calls will be attempted.
func (c *Client) Enabled() bool {
	return c != nil
}

// NormalizePrice reads a price and currency from free text.
func (c *Client) NormalizePrice(ctx context.Context, text string) Result[Price] {
	prompt := "Верни JSON {price_value:number, currency:string} из строки цены: " + text
	return ask[Price](ctx, c, prompt)
}

// ParseVolumeABV reads volume in litres and strength in percent.
func (c *Client) ParseVolumeABV(ctx context.Context, text string) Result[VolumeABV] {
	prompt := "Извлеки объём и крепость. Верни JSON {volume_l:number|null, abv:number|null}. Вход: " + text
	return ask[VolumeABV](ctx, c, prompt)
}

// ExtractSection turns a section's HTML into plain text and an optional list.
func (c *Client) ExtractSection(ctx context.Context, title, htmlFragment string) Result[SectionText] {
	prompt := fmt.Sprintf("Из HTML-фрагмента под заголовком «%s» извлеки чистый текст; "+
		"верни JSON {text:string, list?:string[]}. HTML: ```%s```", title, htmlFragment)
	return ask[SectionText](ctx, c, prompt)
}

func ask[T any](ctx context.Context, c *Client, prompt string) Result[T] {
	if c == nil {
		return Unavailable[T]("llm disabled")
	}
	content, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("llm request failed", zap.Error(err))
		return Unavailable[T](err.Error())
	}
	var out T
	if err := json.Unmarshal([]byte(stripFence(content)), &out); err != nil {
		return Unavailable[T]("decode llm json: " + err.Error())
	}
	return Parsed(out)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty llm response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// stripFence removes a surrounding ```json code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
