package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// File keeps the blacklist in a YAML document and rewrites it on every change.
//
// Older installs wrote a bare list of executable names (as JSON). That form is
// still accepted on load; entries read from it get reason "blacklisted" and a
// zero timestamp.
type File struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]model.BlacklistEntry
}

type fileDocument struct {
	Blacklist []model.BlacklistEntry `yaml:"blacklist"`
}

// OpenFile loads path, creating an empty blacklist when it does not exist yet.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{
		path:    path,
		logger:  logger.With("component", "blacklist", "path", path),
		now:     time.Now,
		entries: make(map[string]model.BlacklistEntry),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading blacklist: %w", err)
	}

	entries, err := decodeBlacklist(data)
	if err != nil {
		return fmt.Errorf("parsing blacklist %s: %w", f.path, err)
	}
	for _, e := range entries {
		id := model.NormalizeName(e.Process)
		if id == "" {
			continue
		}
		e.Process = id
		f.entries[id] = e
	}
	f.logger.Debug("blacklist loaded", "entries", len(f.entries))
	return nil
}

func decodeBlacklist(data []byte) ([]model.BlacklistEntry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind == yaml.SequenceNode {
		var names []string
		if err := doc.Decode(&names); err != nil {
			return nil, err
		}
		out := make([]model.BlacklistEntry, 0, len(names))
		for _, n := range names {
			out = append(out, model.BlacklistEntry{Process: n, Reason: model.ReasonBlacklisted})
		}
		return out, nil
	}

	var fd fileDocument
	if err := doc.Decode(&fd); err != nil {
		return nil, err
	}
	return fd.Blacklist, nil
}

// save writes the document to a temporary file and renames it over path.
// Callers hold f.mu.
func (f *File) save() error {
	doc := fileDocument{Blacklist: make([]model.BlacklistEntry, 0, len(f.entries))}
	for _, e := range f.entries {
		doc.Blacklist = append(doc.Blacklist, e)
	}
	sortEntries(doc.Blacklist)

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding blacklist: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating blacklist directory: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing blacklist: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing blacklist: %w", err)
	}
	return nil
}

func (f *File) IsBlacklisted(_ context.Context, name string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[model.NormalizeName(name)]
	return ok, nil
}

func (f *File) RecordPermanentFailure(_ context.Context, name string, reason model.Reason) error {
	id := model.NormalizeName(name)
	if id == "" {
		return errors.New("store: empty process name")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.entries[id]
	f.entries[id] = model.BlacklistEntry{Process: id, Reason: reason, RecordedAt: f.now().UTC()}
	if err := f.save(); err != nil {
		if had {
			f.entries[id] = prev
		} else {
			delete(f.entries, id)
		}
		return err
	}
	f.logger.Info("process blacklisted", "process", id, "reason", reason)
	return nil
}

func (f *File) Remove(_ context.Context, name string) (bool, error) {
	id := model.NormalizeName(name)

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.entries[id]
	if !ok {
		return false, nil
	}
	delete(f.entries, id)
	if err := f.save(); err != nil {
		f.entries[id] = prev
		return false, err
	}
	f.logger.Info("process removed from blacklist", "process", id)
	return true, nil
}

func (f *File) List(_ context.Context) ([]model.BlacklistEntry, error) {
	f.mu.RLock()
	out := make([]model.BlacklistEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	f.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

// Close is a no-op; every change is already on disk.
func (f *File) Close() error { return nil }
