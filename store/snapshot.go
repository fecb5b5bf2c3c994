package store

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-service-store/pagination"
	"github.com/goliatone/go-service-store/record"
)

type snapshot struct {
	IDs       []string                     `msgpack:"ids"`
	Records   map[string]map[string]any    `msgpack:"records"`
	TempIDs   []string                     `msgpack:"temp_ids"`
	Temps     map[string]map[string]any    `msgpack:"temps"`
	Copies    map[string]map[string]any    `msgpack:"copies"`
	Aliases   map[string]string            `msgpack:"aliases"`
	Ledger    map[string]*pagination.Entry `msgpack:"ledger"`
	Errors    map[Verb]*ErrorInfo          `msgpack:"errors"`
	CopyTemps []string                     `msgpack:"copy_temps"`
}

// Snapshot encodes the store state with msgpack. Accessors are evaluated and
// nested records are flattened to maps; Restore runs the Setup hook again to
// reinstall them. Pending flags are not part of a snapshot.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	snap := snapshot{
		IDs:     append([]string(nil), s.ids...),
		Records: plainIndex(s.keyed),
		TempIDs: append([]string(nil), s.tempOrder...),
		Temps:   plainIndex(s.temps),
		Copies:  plainIndex(s.copies),
		Aliases: make(map[string]string, len(s.aliases)),
		Ledger:  s.ledger.State(),
		Errors:  make(map[Verb]*ErrorInfo),
	}
	for k, v := range s.aliases {
		snap.Aliases[k] = v
	}
	for key, c := range s.copies {
		if c.IsTemp() {
			snap.CopyTemps = append(snap.CopyTemps, key)
		}
	}
	for verb, st := range s.status {
		if st.err != nil {
			snap.Errors[verb] = st.err
		}
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the store state with a snapshot. Subscribers receive a
// single ChangeRestored.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("store restore: %w", err)
	}

	keyed := s.restoreIndex(snap.Records)
	temps := s.restoreIndex(snap.Temps)
	copies := make(map[string]*record.Record, len(snap.Copies))
	for key, fields := range snap.Copies {
		c := record.New(fields)
		c.MarkClone(true)
		copies[key] = c
	}
	for _, key := range snap.CopyTemps {
		if c, ok := copies[key]; ok {
			c.MarkTemp(true)
		}
	}

	ids := make([]string, 0, len(snap.IDs))
	for _, key := range snap.IDs {
		if _, ok := keyed[key]; ok {
			ids = append(ids, key)
		}
	}
	tempOrder := make([]string, 0, len(snap.TempIDs))
	for _, key := range snap.TempIDs {
		if t, ok := temps[key]; ok {
			t.MarkTemp(true)
			tempOrder = append(tempOrder, key)
		}
	}
	aliases := snap.Aliases
	if aliases == nil {
		aliases = make(map[string]string)
	}

	s.mu.Lock()
	s.ids = ids
	s.keyed = keyed
	s.tempOrder = tempOrder
	s.temps = temps
	s.copies = copies
	s.aliases = aliases
	s.ledger.SetState(snap.Ledger)
	s.status = make(map[Verb]*verbState)
	for verb, info := range snap.Errors {
		s.status[verb] = &verbState{err: info}
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeRestored})
	return nil
}

func (s *Store) restoreIndex(in map[string]map[string]any) map[string]*record.Record {
	out := make(map[string]*record.Record, len(in))
	for key, fields := range in {
		r := record.New(fields)
		if s.cfg.Setup != nil {
			r = s.cfg.Setup(r)
		}
		out[key] = r
	}
	return out
}

func plainIndex(m map[string]*record.Record) map[string]map[string]any {
	out := make(map[string]map[string]any, len(m))
	for k, r := range m {
		out[k] = flatten(r, map[*record.Record]bool{})
	}
	return out
}

// flatten returns the fields of r with nested record references replaced by
// their fields. A reference cycle is cut with nil.
func flatten(r *record.Record, seen map[*record.Record]bool) map[string]any {
	seen[r] = true
	defer delete(seen, r)
	m := r.Map()
	for k, v := range m {
		m[k] = plain(v, seen)
	}
	return m
}

func plain(v any, seen map[*record.Record]bool) any {
	switch t := v.(type) {
	case *record.Record:
		if seen[t] {
			return nil
		}
		return flatten(t, seen)
	case map[string]any:
		for k, e := range t {
			t[k] = plain(e, seen)
		}
		return t
	case []any:
		for i := range t {
			t[i] = plain(t[i], seen)
		}
		return t
	}
	return v
}
