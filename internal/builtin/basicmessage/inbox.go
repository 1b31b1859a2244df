// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package basicmessage

import (
	"slices"
	"sync"
	"time"
)

// Entry is one received basic message.
type Entry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SentTime   string    `json:"sent_time,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbox is a bounded, oldest-first message buffer. When full, the oldest
// entry is dropped.
//
// Inbox is safe for concurrent use.
type Inbox struct {
	entries  []Entry
	capacity int
	mu       sync.RWMutex
}

// NewInbox creates an inbox holding at most capacity entries. A capacity
// below 1 is raised to 1.
func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{capacity: capacity}
}

// Add stores e, evicting the oldest entry if the inbox is full.
func (in *Inbox) Add(e Entry) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.entries) >= in.capacity {
		in.entries = slices.Delete(in.entries, 0, len(in.entries)-in.capacity+1)
	}
	in.entries = append(in.entries, e)
}

// List returns the stored entries, oldest first.
func (in *Inbox) List() []Entry {
	in.mu.RLock()
	defer in.mu.RUnlock()

	return slices.Clone(in.entries)
}

// Capacity returns the maximum number of entries.
func (in *Inbox) Capacity() int {
	return in.capacity
}
