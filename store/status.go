package store

// Verb names one remote operation.
type Verb string

const (
	VerbFind   Verb = "find"
	VerbGet    Verb = "get"
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbPatch  Verb = "patch"
	VerbRemove Verb = "remove"
)

// Verbs lists every verb in a fixed order.
var Verbs = []Verb{VerbFind, VerbGet, VerbCreate, VerbUpdate, VerbPatch, VerbRemove}

// Status is the state of one verb.
type Status struct {
	Pending bool       `json:"pending" msgpack:"pending"`
	Error   *ErrorInfo `json:"error,omitempty" msgpack:"error,omitempty"`
}

type verbState struct {
	inflight int
	err      *ErrorInfo
}

// Begin marks verb as pending. The previous error stays until a call settles.
func (s *Store) Begin(verb Verb) {
	s.mu.Lock()
	s.verb(verb).inflight++
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeStatus, Keys: []string{string(verb)}})
}

// Succeed settles one call of verb and clears its error.
func (s *Store) Succeed(verb Verb) {
	s.settle(verb, nil)
}

// Fail settles one call of verb and records err.
func (s *Store) Fail(verb Verb, err error) *ErrorInfo {
	info := NewErrorInfo(err)
	s.settle(verb, info)
	return info
}

func (s *Store) settle(verb Verb, info *ErrorInfo) {
	s.mu.Lock()
	st := s.verb(verb)
	if st.inflight > 0 {
		st.inflight--
	}
	st.err = info
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeStatus, Keys: []string{string(verb)}})
}

// IsPending reports whether a call of verb is in flight.
func (s *Store) IsPending(verb Verb) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[verb]
	return ok && st.inflight > 0
}

// ErrorOn returns the error recorded by the last settled call of verb.
func (s *Store) ErrorOn(verb Verb) *ErrorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[verb]
	if !ok || st.err == nil {
		return nil
	}
	info := *st.err
	return &info
}

// Status returns the state of every verb.
func (s *Store) Status() map[Verb]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Verb]Status, len(Verbs))
	for _, verb := range Verbs {
		st := Status{}
		if vs, ok := s.status[verb]; ok {
			st.Pending = vs.inflight > 0
			if vs.err != nil {
				info := *vs.err
				st.Error = &info
			}
		}
		out[verb] = st
	}
	return out
}

func (s *Store) verb(v Verb) *verbState {
	st, ok := s.status[v]
	if !ok {
		st = &verbState{}
		s.status[v] = st
	}
	return st
}
