// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPSinkCreateEdit(t *testing.T) {
	var edited messageBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/channels/chan-1/messages":
			json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
		case r.Method == http.MethodPatch && r.URL.Path == "/channels/chan-1/messages/msg-1":
			json.NewDecoder(r.Body).Decode(&edited)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	sink, err := NewHTTPSink(HTTPSinkConfig{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("NewHTTPSink: %v", err)
	}
	ref, err := sink.Create(context.Background(), "chan-1", Message{Body: "**bold**"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ref.ID != "msg-1" {
		t.Fatalf("ref = %+v", ref)
	}
	if err := sink.Edit(context.Background(), ref, Message{Body: "**bold** more"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Body != "**bold** more" {
		t.Errorf("edited body = %q", edited.Body)
	}
	if !strings.Contains(edited.HTML, "<strong>bold</strong>") {
		t.Errorf("edited HTML = %q, want rendered markdown", edited.HTML)
	}
}

func TestHTTPSinkErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/limited/messages":
			http.Error(w, "slow down", http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	sink, err := NewHTTPSink(HTTPSinkConfig{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("NewHTTPSink: %v", err)
	}
	if _, err := sink.Create(context.Background(), "limited", Message{Body: "x"}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("429 mapped to %v, want ErrRateLimited", err)
	}
	if err := sink.Edit(context.Background(), MessageRef{Channel: "c", ID: "gone"}, Message{Body: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("404 mapped to %v, want ErrNotFound", err)
	}
}

func TestMemorySinkRecordsWrites(t *testing.T) {
	sink := NewMemorySink(100)
	ctx := context.Background()

	ref, err := sink.Create(ctx, "chan-1", Message{Body: "one"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sink.Edit(ctx, ref, Message{Body: "two"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if body, _ := sink.Body(ref); body != "two" {
		t.Errorf("Body = %q, want latest edit", body)
	}
	if sink.WriteCount() != 2 {
		t.Errorf("WriteCount = %d", sink.WriteCount())
	}
}

func TestMemorySinkInjectedFailure(t *testing.T) {
	sink := NewMemorySink(100)
	sink.FailNext(ErrRateLimited)

	_, err := sink.Create(context.Background(), "chan-1", Message{Body: "x"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want injected ErrRateLimited", err)
	}
	// The failure is consumed; the next write succeeds.
	if _, err := sink.Create(context.Background(), "chan-1", Message{Body: "x"}); err != nil {
		t.Fatalf("second Create: %v", err)
	}
}

func TestRenderHTML(t *testing.T) {
	html := RenderHTML("a `code` span")
	if !strings.Contains(html, "<code>code</code>") {
		t.Errorf("RenderHTML = %q", html)
	}
}
