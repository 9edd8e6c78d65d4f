// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response from the agent server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("agent server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404. A
// 404 on a session path means the server no longer knows the session.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client is a thin typed wrapper over the agent server's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates the server URL and returns a client. The token
// may be empty for unauthenticated servers.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("agent server URL is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// doRequest performs one request. On 2xx the response body is
// returned; anything else becomes an *APIError carrying the server's
// message.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s %s: %w", method, path, err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, &APIError{
		StatusCode: response.StatusCode,
		Message:    strings.TrimSpace(string(responseBody)),
	}
}

// CreateSession creates a server-side session and returns its id.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/session", map[string]any{"title": title})
	if err != nil {
		return "", err
	}
	var info struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("decoding session create response: %w", err)
	}
	if info.ID == "" {
		return "", fmt.Errorf("session create response has no id")
	}
	return info.ID, nil
}

// promptBody is the message submission payload.
type promptBody struct {
	Parts []promptPart `json:"parts"`
	Model *modelRef    `json:"model,omitempty"`
}

type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type modelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// SendMessage submits one prompt to a session. Streaming output
// arrives on the event firehose, not in this response.
func (c *Client) SendMessage(ctx context.Context, sessionID string, body promptBody) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/message", body)
	return err
}

// assistantMessage is one entry of a session's message history.
type assistantMessage struct {
	Role  string `json:"role"`
	Parts []struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content string `json:"content"`
	} `json:"parts"`
}

// FinalAssistantText fetches the session history and returns the
// concatenated text of the last assistant message. Used to reconcile
// streamed deltas against the server's authoritative final content.
func (c *Client) FinalAssistantText(ctx context.Context, sessionID string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/session/"+sessionID+"/message", nil)
	if err != nil {
		return "", err
	}
	var messages []assistantMessage
	if err := json.Unmarshal(body, &messages); err != nil {
		return "", fmt.Errorf("decoding message history: %w", err)
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		var text strings.Builder
		for _, part := range messages[i].Parts {
			if part.Type != "text" {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			} else {
				text.WriteString(part.Content)
			}
		}
		return text.String(), nil
	}
	return "", nil
}

// AbortSession asks the server to cancel the session's running turn.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/abort", nil)
	return err
}

// providerList is the /provider response: every known provider plus
// the subset actually connected.
type providerList struct {
	Connected []string `json:"connected"`
	All       []struct {
		ID     string                     `json:"id"`
		Models map[string]json.RawMessage `json:"models"`
	} `json:"all"`
}

// Providers returns the connected providers and their model ids.
func (c *Client) Providers(ctx context.Context) (providerList, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/provider", nil)
	if err != nil {
		return providerList{}, err
	}
	var providers providerList
	if err := json.Unmarshal(body, &providers); err != nil {
		return providerList{}, fmt.Errorf("decoding provider list: %w", err)
	}
	return providers, nil
}
