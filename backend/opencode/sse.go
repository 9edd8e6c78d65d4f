// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package opencode

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// subscribeEvents opens the server-sent-events firehose and calls
// handle with each event's data payload. It returns when the
// connection drops or ctx is cancelled; the caller owns reconnection.
func (c *Client) subscribeEvents(ctx context.Context, handle func(data []byte)) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	// The firehose is long-lived; the client's request timeout must
	// not apply.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	response, err := streamClient.Do(request)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return &APIError{StatusCode: response.StatusCode, Message: "event stream rejected"}
	}

	// Server-sent events: "data:" lines accumulate until a blank line
	// dispatches the event. Comment lines start with ':'.
	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				handle([]byte(data.String()))
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream closed: %w", err)
	}
	return nil
}
