// Package store persists the process blacklist and the attach history.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Blacklist is implemented by every store.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, name string) (bool, error)
	RecordPermanentFailure(ctx context.Context, name string, reason model.Reason) error
	Remove(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]model.BlacklistEntry, error)
	Close() error
}

// Memory is a process-local blacklist. It forgets everything on exit.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.BlacklistEntry
	now     func() time.Time
}

// NewMemory returns an empty in-memory blacklist.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]model.BlacklistEntry),
		now:     time.Now,
	}
}

func (m *Memory) IsBlacklisted(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[model.NormalizeName(name)]
	return ok, nil
}

func (m *Memory) RecordPermanentFailure(_ context.Context, name string, reason model.Reason) error {
	id := model.NormalizeName(name)
	if id == "" {
		return errors.New("store: empty process name")
	}
	m.mu.Lock()
	m.entries[id] = model.BlacklistEntry{Process: id, Reason: reason, RecordedAt: m.now().UTC()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, name string) (bool, error) {
	id := model.NormalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false, nil
	}
	delete(m.entries, id)
	return true, nil
}

func (m *Memory) List(_ context.Context) ([]model.BlacklistEntry, error) {
	m.mu.RLock()
	out := make([]model.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// sortEntries orders entries by recording time, then by name.
func sortEntries(entries []model.BlacklistEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.Before(entries[j].RecordedAt)
		}
		return entries[i].Process < entries[j].Process
	})
}

var (
	_ Blacklist = (*Memory)(nil)
	_ Blacklist = (*File)(nil)
	_ Blacklist = (*SQL)(nil)
)
