// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package blocklist matches plugin identifiers against operator block-list
// entries.
//
// Entries are exact identifiers or gobwas/glob patterns with '.' as the
// segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "core.protocols.trustping" blocks that identifier only
//   - "core.protocols.*" blocks "core.protocols.trustping" but NOT "core.protocols.a.b"
//   - "acme.**" blocks every identifier under "acme."
package blocklist

import (
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// entry holds a block-list pattern and its compiled glob.
type entry struct {
	pattern string
	glob    glob.Glob
}

// List is an immutable, compiled block-list. The zero value blocks nothing.
//
// List is safe for concurrent use.
type List struct {
	entries []entry
}

// New compiles the given entries. Surrounding whitespace is trimmed and
// duplicates are collapsed; an empty or malformed entry is an error and no
// List is returned.
func New(patterns []string) (*List, error) {
	l := &List{entries: make([]entry, 0, len(patterns))}
	seen := make(map[string]bool, len(patterns))

	for i, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			return nil, oops.Code("CONFIG_INVALID").
				With("index", i).
				Errorf("block-list entry %d is empty", i)
		}
		if seen[pattern] {
			continue
		}
		// '.' separator so '*' doesn't cross identifier segments
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("index", i).
				With("pattern", pattern).
				Wrapf(err, "block-list entry %d (%q)", i, pattern)
		}
		seen[pattern] = true
		l.entries = append(l.entries, entry{pattern: pattern, glob: g})
	}
	return l, nil
}

// MustNew is New for static lists; it panics on error.
func MustNew(patterns ...string) *List {
	l, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return l
}

// Blocked reports whether id matches any entry. The empty identifier is
// never blocked.
func (l *List) Blocked(id string) bool {
	if l == nil || id == "" {
		return false
	}
	for _, e := range l.entries {
		if e.glob.Match(id) {
			return true
		}
	}
	return false
}

// Patterns returns the entries in configuration order.
func (l *List) Patterns() []string {
	if l == nil {
		return []string{}
	}
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.pattern
	}
	return out
}

// Filter returns ids with blocked identifiers removed, preserving order.
func (l *List) Filter(ids []string) []string {
	return slices.DeleteFunc(slices.Clone(ids), l.Blocked)
}
