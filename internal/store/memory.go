// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory ResourceStore used by tests and dry-run previews.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, path string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.objects[path]
	return content, ok, nil
}

func (m *Memory) Put(_ context.Context, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = content
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Paths returns every stored path in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored resources.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
