// Package jsonstore keeps a homogeneous collection of records in memory and
// mirrors it to a single JSON array file.
//
// Every mutation rewrites the whole file: the collection is rendered to a
// temporary file in the same directory, synced and renamed over the target,
// so a crash mid-write leaves the previously committed file intact. All public
// methods hold the store mutex for their full duration, including the rewrite.
package jsonstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spigell/ai-guard/internal/logger"

	"go.uber.org/zap"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// Store is a thread-safe, file-backed collection of records of type T.
type Store[T any] struct {
	mu     sync.Mutex
	path   string
	items  []T
	logger *zap.Logger
}

// New opens the store backed by path. A missing or empty file yields an empty
// collection; undecodable content is logged and also yields an empty
// collection.
func New[T any](path string, l *zap.Logger) *Store[T] {
	s := &Store[T]{
		path:   path,
		logger: logger.OrNop(l).With(zap.String("store", filepath.Base(path))),
	}
	s.items = s.load()
	return s
}

// Path returns the backing file path.
func (s *Store[T]) Path() string {
	return s.path
}

func (s *Store[T]) load() []T {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("reading store file", zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Error("failed to decode store file, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Debug("store loaded", zap.String("path", s.path), zap.Int("records", len(items)))
	return items
}

// Add appends one record and rewrites the backing file. On write failure the
// in-memory collection is left unchanged.
func (s *Store[T]) Add(record T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(slices.Clone(s.items), record)
	if err := s.write(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// All returns a snapshot of the collection.
func (s *Store[T]) All() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.items)
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

// ReplaceAll substitutes the entire collection and rewrites the backing file.
func (s *Store[T]) ReplaceAll(records []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(records)
	if err := s.write(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// Update runs fn over a copy of the collection while holding the lock. When fn
// reports a change the returned slice replaces the collection and the file is
// rewritten; otherwise nothing is written.
func (s *Store[T]) Update(fn func(items []T) ([]T, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := fn(slices.Clone(s.items))
	if !changed {
		return nil
	}

	if err := s.write(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// write must be called with s.mu held.
func (s *Store[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file for %s: %w", s.path, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.logger.Debug("store written", zap.Int("records", len(items)))
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(fileMode); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
