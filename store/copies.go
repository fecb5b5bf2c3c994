package store

import (
	"fmt"

	"github.com/goliatone/go-service-store/merge"
	"github.com/goliatone/go-service-store/record"
)

// Copy returns the working copy of id.
func (s *Store) Copy(id any) (*record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keyOf(id)
	if !ok {
		return nil, false
	}
	c, ok := s.copies[key]
	return c, ok
}

func (s *Store) canonicalLocked(key string) *record.Record {
	if r, ok := s.keyed[key]; ok {
		return r
	}
	return s.temps[key]
}

// Clone returns the working copy of id, creating it from the canonical
// record when none exists. An existing copy is returned as-is so in-progress
// edits are never clobbered.
func (s *Store) Clone(id any) (*record.Record, error) {
	s.mu.Lock()
	key, ok := s.keyOf(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("clone %v: %w", id, ErrRecordNotFound)
	}
	if c, ok := s.copies[key]; ok {
		s.mu.Unlock()
		return c, nil
	}
	src := s.canonicalLocked(key)
	if src == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("clone %v: %w", id, ErrRecordNotFound)
	}
	c := src.Clone()
	c.MarkClone(true)
	c.MarkTemp(src.IsTemp())
	s.copies[key] = c
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeCopies, Keys: []string{key}})
	return c, nil
}

// Commit writes the working copy of id onto the canonical record and
// returns the canonical record. Nested maps and slices are assigned by
// reference, so they are shared with the copy until it is cloned again. The
// copy stays in place.
func (s *Store) Commit(id any) (*record.Record, error) {
	s.mu.Lock()
	c, canonical, key, err := s.pairLocked("commit", id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	merge.Into(canonical, c, merge.Options{
		Mode:     merge.Shallow,
		Observer: s.cfg.Observer,
		Warn: func(field, reason string) {
			s.warn("commit skipped field", "id", key, "field", field, "reason", reason)
		},
	})
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeUpdated, Keys: []string{key}})
	return canonical, nil
}

// Reset overwrites the working copy of id with the canonical record,
// dropping fields that only exist on the copy, and returns the copy.
func (s *Store) Reset(id any) (*record.Record, error) {
	s.mu.Lock()
	c, canonical, key, err := s.pairLocked("reset", id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	merge.Into(c, canonical, merge.Options{
		Mode:    merge.Deep,
		Replace: true,
		Warn: func(field, reason string) {
			s.warn("reset skipped field", "id", key, "field", field, "reason", reason)
		},
	})
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeCopies, Keys: []string{key}})
	return c, nil
}

// ClearCopy discards the working copy of id.
func (s *Store) ClearCopy(id any) bool {
	s.mu.Lock()
	key, ok := s.keyOf(id)
	if ok {
		_, ok = s.copies[key]
		delete(s.copies, key)
	}
	s.mu.Unlock()

	if ok {
		s.emit(Change{Kind: ChangeCopies, Keys: []string{key}})
	}
	return ok
}

func (s *Store) pairLocked(op string, id any) (c, canonical *record.Record, key string, err error) {
	key, ok := s.keyOf(id)
	if !ok {
		return nil, nil, "", fmt.Errorf("%s %v: %w", op, id, ErrRecordNotFound)
	}
	c, ok = s.copies[key]
	if !ok {
		return nil, nil, key, fmt.Errorf("%s %v: %w", op, id, ErrNotCloned)
	}
	canonical = s.canonicalLocked(key)
	if canonical == nil {
		return nil, nil, key, fmt.Errorf("%s %v: %w", op, id, ErrRecordNotFound)
	}
	return c, canonical, key, nil
}
