// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parley-foundation/parley/lib/clock"
)

// Kind distinguishes what a grant or token is bound to.
type Kind string

const (
	KindUser    Kind = "user"
	KindChannel Kind = "channel"
)

// tokenTTL is how long a minted token stays redeemable.
const tokenTTL = 5 * time.Minute

// tokenLength is the number of characters in a minted token.
const tokenLength = 6

var (
	// ErrUnknownToken means the token was never minted, was already
	// redeemed, or expired.
	ErrUnknownToken = errors.New("auth: invalid or expired token")

	// ErrNotAuthorized means the target of a settings change is not
	// in the registry.
	ErrNotAuthorized = errors.New("auth: not authorized")
)

// Entry is one durable grant.
type Entry struct {
	AuthorizedAt time.Time `json:"authorized_at"`

	// MentionOnly restricts a channel grant to explicitly addressed
	// messages. Meaningless on user grants.
	MentionOnly bool `json:"mention_only,omitempty"`
}

// PendingToken is an unredeemed grant-in-waiting.
type PendingToken struct {
	Token     string    `json:"token"`
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type registryFile struct {
	Users    map[string]Entry `json:"users"`
	Channels map[string]Entry `json:"channels"`
}

type pendingFile struct {
	Tokens map[string]PendingToken `json:"tokens"`
}

// Manager holds the registry and pending tokens, persisting both to
// JSON files in the state directory. Mutations save before returning.
type Manager struct {
	clk         clock.Clock
	authPath    string
	pendingPath string

	mu       sync.Mutex
	users    map[string]Entry
	channels map[string]Entry
	pending  map[string]PendingToken
}

// Open loads the registry file, starting empty when it does not
// exist yet. Pending tokens live in pending_tokens.json next to it.
// A nil clk uses the real clock.
func Open(path string, clk clock.Clock) (*Manager, error) {
	if clk == nil {
		clk = clock.Real()
	}
	m := &Manager{
		clk:         clk,
		authPath:    path,
		pendingPath: filepath.Join(filepath.Dir(path), "pending_tokens.json"),
		users:       make(map[string]Entry),
		channels:    make(map[string]Entry),
		pending:     make(map[string]PendingToken),
	}

	var reg registryFile
	if err := readJSON(m.authPath, &reg); err != nil {
		return nil, fmt.Errorf("loading auth registry: %w", err)
	}
	for id, entry := range reg.Users {
		m.users[id] = entry
	}
	for id, entry := range reg.Channels {
		m.channels[id] = entry
	}

	var pend pendingFile
	if err := readJSON(m.pendingPath, &pend); err != nil {
		return nil, fmt.Errorf("loading pending tokens: %w", err)
	}
	for token, entry := range pend.Tokens {
		m.pending[token] = entry
	}
	return m, nil
}

// Check reports whether the user may start turns in the channel, and
// whether the grant is mention-only. A user grant is never
// mention-only, even in a mention-only channel.
func (m *Manager) Check(channel, user string) (authorized, mentionOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; ok {
		return true, false
	}
	if entry, ok := m.channels[channel]; ok {
		return true, entry.MentionOnly
	}
	return false, false
}

// Authorized reports whether the user may start turns in the channel.
func (m *Manager) Authorized(channel, user string) bool {
	authorized, _ := m.Check(channel, user)
	return authorized
}

// CreateToken mints a token bound to a user or channel id. Expired
// tokens are pruned as a side effect.
func (m *Manager) CreateToken(kind Kind, id string) (string, error) {
	if kind != KindUser && kind != KindChannel {
		return "", fmt.Errorf("auth: unknown grant kind %q", kind)
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpired()
	m.pending[token] = PendingToken{
		Token:     token,
		Kind:      kind,
		ID:        id,
		ExpiresAt: m.clk.Now().Add(tokenTTL),
	}
	return token, m.savePending()
}

// RedeemToken exchanges a pending token for a durable grant. Channel
// grants start mention-only. Returns what the token was bound to.
func (m *Manager) RedeemToken(token string) (Kind, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpired()

	entry, ok := m.pending[token]
	if !ok {
		return "", "", ErrUnknownToken
	}
	delete(m.pending, token)
	if err := m.savePending(); err != nil {
		return "", "", err
	}

	grant := Entry{
		AuthorizedAt: m.clk.Now(),
		MentionOnly:  entry.Kind == KindChannel,
	}
	switch entry.Kind {
	case KindUser:
		m.users[entry.ID] = grant
	case KindChannel:
		m.channels[entry.ID] = grant
	}
	return entry.Kind, entry.ID, m.saveRegistry()
}

// SetMentionOnly toggles a granted channel's mention-only flag.
func (m *Manager) SetMentionOnly(channel string, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.channels[channel]
	if !ok {
		return fmt.Errorf("channel %s: %w", channel, ErrNotAuthorized)
	}
	entry.MentionOnly = enable
	m.channels[channel] = entry
	return m.saveRegistry()
}

// Revoke removes a grant. Revoking an unknown id is a no-op.
func (m *Manager) Revoke(kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case KindUser:
		delete(m.users, id)
	case KindChannel:
		delete(m.channels, id)
	default:
		return fmt.Errorf("auth: unknown grant kind %q", kind)
	}
	return m.saveRegistry()
}

// pruneExpired drops expired pending tokens. Caller holds the mutex.
func (m *Manager) pruneExpired() {
	now := m.clk.Now()
	for token, entry := range m.pending {
		if !entry.ExpiresAt.After(now) {
			delete(m.pending, token)
		}
	}
}

func (m *Manager) saveRegistry() error {
	return writeJSON(m.authPath, registryFile{Users: m.users, Channels: m.channels})
}

func (m *Manager) savePending() error {
	return writeJSON(m.pendingPath, pendingFile{Tokens: m.pending})
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// writeJSON saves atomically: temp file in the same directory, sync,
// rename over the target.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(temp.Name())
	if _, err := temp.Write(append(data, '\n')); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(temp.Name(), path)
}

// tokenAlphabet matches the characters tokens are drawn from.
const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generating token: %w", err)
	}
	out := make([]byte, tokenLength)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
