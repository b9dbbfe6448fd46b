// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAdapter keeps events in memory. It is thread-safe and suitable for
// tests and for the CLI, where events are printed at exit.
type MemoryAdapter struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryAdapter creates an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{events: make([]*Event, 0, 64)}
}

// LogEvent implements Adapter.
func (m *MemoryAdapter) LogEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns recorded events of the given types, or all events if no
// type is given.
func (m *MemoryAdapter) Events(types ...EventType) []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Event, 0, len(m.events))
	for _, ev := range m.events {
		if len(types) == 0 {
			out = append(out, ev)
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Count returns the number of events of type t.
func (m *MemoryAdapter) Count(t EventType) int {
	return len(m.Events(t))
}
