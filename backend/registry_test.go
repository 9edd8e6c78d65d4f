// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"strings"
	"testing"
)

type stubFamily struct{ name string }

func (f *stubFamily) Name() string { return f.name }

func (f *stubFamily) Connect(ctx context.Context, cfg SessionConfig) (Handle, error) {
	return nil, ErrUnsupported
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	family := &stubFamily{name: "rpc"}
	registry.Register("pi", family)

	got, err := registry.Lookup("pi")
	if err != nil {
		t.Fatalf("Lookup(pi): %v", err)
	}
	if got != Backend(family) {
		t.Fatal("Lookup returned a different family")
	}
}

func TestRegistryUnknownTag(t *testing.T) {
	registry := NewRegistry()
	registry.Register("pi", &stubFamily{name: "rpc"})

	_, err := registry.Lookup("gpt")
	if err == nil {
		t.Fatal("Lookup of unknown tag succeeded")
	}
	if !strings.Contains(err.Error(), "pi") {
		t.Errorf("error %q does not name the known tags", err)
	}
}

// A fork speaking its ancestor's protocol registers the same family
// under its own tag.
func TestRegistrySharedFamily(t *testing.T) {
	registry := NewRegistry()
	family := &stubFamily{name: "http"}
	registry.Register("opencode", family)
	registry.Register("kilo", family)

	a, _ := registry.Lookup("opencode")
	b, _ := registry.Lookup("kilo")
	if a != b {
		t.Fatal("tags do not share the family")
	}

	tags := registry.Tags()
	if len(tags) != 2 || tags[0] != "kilo" || tags[1] != "opencode" {
		t.Fatalf("Tags() = %v, want sorted [kilo opencode]", tags)
	}
}
