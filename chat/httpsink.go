// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPSink writes messages to a REST-style chat server. Bodies are
// sent both as markdown and as a goldmark HTML rendering.
type HTTPSink struct {
	baseURL    string
	token      string
	maxBody    int
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	// BaseURL of the chat server API, e.g. "https://chat.example.com/api/v1".
	BaseURL string

	// Token is the bearer token for the bridge's bot account.
	Token string

	// MaxBodyLength overrides the surface's per-message size limit.
	// Zero means DefaultMaxBodyLength.
	MaxBodyLength int

	// Logger for request diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// NewHTTPSink validates the configuration and returns the sink.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chat server URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("chat server token is required")
	}
	maxBody := cfg.MaxBodyLength
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSink{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		maxBody:    maxBody,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// messageBody is the wire payload for message create and edit.
type messageBody struct {
	Body string `json:"body"`
	HTML string `json:"html,omitempty"`
}

// doRequest performs one API call. 429 and 404 map to the package
// sentinel errors so callers can branch without status-code checks.
func (s *HTTPSink) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.token)
	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s %s: %w", method, path, err)
	}
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return responseBody, nil
	case response.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrRateLimited)
	case response.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	default:
		return nil, fmt.Errorf("%s %s: chat server returned HTTP %d: %s",
			method, path, response.StatusCode, strings.TrimSpace(string(responseBody)))
	}
}

func (s *HTTPSink) post(ctx context.Context, channel string, message Message) (MessageRef, error) {
	body, err := s.doRequest(ctx, http.MethodPost, "/channels/"+channel+"/messages", messageBody{
		Body: message.Body,
		HTML: RenderHTML(message.Body),
	})
	if err != nil {
		return MessageRef{}, err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return MessageRef{}, fmt.Errorf("decoding message create response: %w", err)
	}
	if created.ID == "" {
		return MessageRef{}, fmt.Errorf("message create response has no id")
	}
	return MessageRef{Channel: channel, ID: created.ID}, nil
}

func (s *HTTPSink) Create(ctx context.Context, channel string, message Message) (MessageRef, error) {
	return s.post(ctx, channel, message)
}

func (s *HTTPSink) Edit(ctx context.Context, ref MessageRef, message Message) error {
	_, err := s.doRequest(ctx, http.MethodPatch,
		"/channels/"+ref.Channel+"/messages/"+ref.ID, messageBody{
			Body: message.Body,
			HTML: RenderHTML(message.Body),
		})
	return err
}

func (s *HTTPSink) Append(ctx context.Context, channel string, message Message) (MessageRef, error) {
	return s.post(ctx, channel, message)
}

func (s *HTTPSink) MaxBodyLength() int { return s.maxBody }

var _ Sink = (*HTTPSink)(nil)
