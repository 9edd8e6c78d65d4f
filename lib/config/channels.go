// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
)

// ChannelSettings is one channel's persisted conversational
// configuration, read at turn start and updated by explicit switch
// operations.
type ChannelSettings struct {
	// Backend is the active backend tag. Empty means the daemon
	// default.
	Backend string `json:"backend,omitempty"`

	// Model is the active model, as "provider/id" or a bare id
	// depending on the backend family.
	Model string `json:"model,omitempty"`

	// ThinkingLevel adjusts visible reasoning effort for families
	// that support it.
	ThinkingLevel string `json:"thinking_level,omitempty"`

	// MentionOnly gates turn starts on an explicit mention of the
	// assistant.
	MentionOnly bool `json:"mention_only,omitempty"`

	// AssistantName is the display name a mention must address.
	AssistantName string `json:"assistant_name,omitempty"`

	// SessionKeys holds the persisted backend session identifier per
	// backend tag, so restarts reattach instead of starting fresh.
	SessionKeys map[string]string `json:"session_keys,omitempty"`
}

// SessionKey returns the persisted session key for a backend tag.
func (s ChannelSettings) SessionKey(tag string) string {
	return s.SessionKeys[tag]
}

// Store is the file-backed channel settings registry. The file is
// JSONC (comments and trailing commas tolerated on read) and written
// atomically as plain JSON. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	channels map[string]ChannelSettings
}

// OpenStore loads the settings file at path, or starts empty when the
// file does not exist yet.
func OpenStore(path string) (*Store, error) {
	store := &Store{path: path, channels: make(map[string]ChannelSettings)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading channel settings %q: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &store.channels); err != nil {
		return nil, fmt.Errorf("parsing channel settings %q: %w", path, err)
	}
	return store, nil
}

// Channel returns the settings for one channel. Unknown channels get
// zero-value settings.
func (s *Store) Channel(channel string) ChannelSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

// SetChannel replaces one channel's settings and persists the file.
func (s *Store) SetChannel(channel string, settings ChannelSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = settings
	return s.save()
}

// SetSessionKey records a backend session identifier for one
// (channel, backend tag) pair and persists the file.
func (s *Store) SetSessionKey(channel, tag, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.channels[channel]
	if settings.SessionKeys == nil {
		settings.SessionKeys = make(map[string]string)
	}
	settings.SessionKeys[tag] = key
	s.channels[channel] = settings
	return s.save()
}

// DeleteChannel removes one channel's settings and persists the file.
func (s *Store) DeleteChannel(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return nil
	}
	delete(s.channels, channel)
	return s.save()
}

// Channels returns the known channel identifiers.
func (s *Store) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		channels = append(channels, channel)
	}
	return channels
}

// save writes the settings file atomically: temp file in the same
// directory, fsync, rename. Caller holds the mutex.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.channels, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding channel settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	temp, err := os.CreateTemp(dir, ".channels-*")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	defer os.Remove(temp.Name())
	if _, err := temp.Write(append(data, '\n')); err != nil {
		temp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return fmt.Errorf("syncing settings: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Rename(temp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
