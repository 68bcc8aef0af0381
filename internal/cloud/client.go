// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Configuration defaults for the completion service.
const (
	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTopP        = 1.0
	DefaultN           = 1

	// DefaultHeaderTimeout bounds the wait for response headers. The body
	// itself is not time limited.
	DefaultHeaderTimeout = 60 * time.Second

	// MaxErrorBodySize caps how much of an error response is read.
	MaxErrorBodySize = 1 << 20

	userAgent = "rigrun-chat/0.1.0"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float32
	MaxTokens     int
	TopP          float32
	N             int
	SystemPrompt  string
	HeaderTimeout time.Duration
}

// DefaultConfig returns the stock request parameters.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Model:         DefaultModel,
		Temperature:   DefaultTemperature,
		MaxTokens:     DefaultMaxTokens,
		TopP:          DefaultTopP,
		N:             DefaultN,
		SystemPrompt:  DefaultSystemPrompt,
		HeaderTimeout: DefaultHeaderTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client sends streaming chat completion requests.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client. Zero config fields take their defaults.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = def.HeaderTimeout
	}

	c := &Client{
		cfg: cfg,
		// No overall timeout: streams last as long as the provider keeps sending.
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          20,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.HeaderTimeout,
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		log: logger.With().Str("component", "cloud").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Params returns request parameters for modelName, falling back to the
// configured model when it is empty.
func (c *Client) Params(modelName string) Params {
	if modelName == "" {
		modelName = c.cfg.Model
	}
	return Params{
		Model:        modelName,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		TopP:         c.cfg.TopP,
		N:            c.cfg.N,
		SystemPrompt: c.cfg.SystemPrompt,
	}
}

// setHeaders sets the headers every completion request carries.
func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)
}

// Stream POSTs req with streaming enabled and returns a Decoder over the
// response body. A non-2xx status is returned as *APIError and no Decoder.
// The caller owns the Decoder and must drain or Close it.
func (c *Client) Stream(ctx context.Context, req openai.ChatCompletionRequest) (*Decoder, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	url := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}

	c.log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("status", resp.StatusCode).
		Dur("ttfb", time.Since(start)).
		Msg("completion response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, parseErrorResponse(resp.StatusCode, data)
	}

	return NewDecoder(resp.Body, c.log), nil
}
