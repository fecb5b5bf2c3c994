package store

import "sort"

// ChangeKind classifies a change feed notification.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
	ChangePromoted
	ChangeCopies
	ChangeCleared
	ChangeRestored
	ChangeStatus
)

var changeKindNames = [...]string{"added", "updated", "removed", "promoted", "copies", "cleared", "restored", "status"}

func (k ChangeKind) String() string {
	if int(k) < len(changeKindNames) {
		return changeKindNames[k]
	}
	return "unknown"
}

// Change reports the keys touched by one committed batch. For ChangeStatus
// Keys holds the verb.
type Change struct {
	Kind ChangeKind
	Keys []string
}

// Subscribe registers fn for every change. Notifications are delivered after
// the batch is committed, outside the store lock, so fn may read the store.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subsMu.Lock()
	if len(s.subs) == 0 {
		s.subsMu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Change), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// batch groups keys per kind in first-seen order.
type batch struct {
	changes []Change
}

func (b *batch) add(kind ChangeKind, key string) {
	for i := range b.changes {
		if b.changes[i].Kind == kind {
			b.changes[i].Keys = append(b.changes[i].Keys, key)
			return
		}
	}
	b.changes = append(b.changes, Change{Kind: kind, Keys: []string{key}})
}
