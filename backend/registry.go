// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps identity tags to backend families. Multiple tags may
// share one family; the tag (not the family name) is the unit of
// identity everywhere else in the system: channel settings, log
// segregation, and the switch-backend operation all key on tags.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]Backend)}
}

// Register binds a tag to a family, replacing any prior binding.
func (r *Registry) Register(tag string, family Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[tag] = family
}

// Lookup resolves a tag to its family.
func (r *Registry) Lookup(tag string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	family, ok := r.families[tag]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (known: %v)", tag, r.tagsLocked())
	}
	return family, nil
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tagsLocked()
}

func (r *Registry) tagsLocked() []string {
	tags := make([]string, 0, len(r.families))
	for tag := range r.families {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
