// Package session holds per-browser-session wizard state as explicit
// objects keyed by id, with no module-level mutable state.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mari-ask/api/internal/jobs"
	"mari-ask/api/internal/survey"
)

// State is one in-progress wizard session: the collected answers, the
// uploaded photo, and the in-flight analysis job handle if any. Handlers
// for the same session run on different goroutines, so all mutable fields
// sit behind the state's own mutex; the store's lock guards only the
// registry map.
type State struct {
	ID        string
	CreatedAt time.Time

	mu            sync.Mutex
	step          int
	responses     survey.Responses
	photo         []byte
	behaviorMedia []byte
	job           *jobs.Job
}

// Merge copies answers into the session and, when advance is set, moves the
// wizard one step forward (bounded by steps). Returns the resulting step.
func (st *State) Merge(answers map[string]any, advance bool, steps int) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	for k, v := range answers {
		st.responses[k] = v
	}
	if advance && st.step < steps-1 {
		st.step++
	}
	return st.step
}

func (st *State) Step() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.step
}

func (st *State) SetPhoto(b []byte) {
	st.mu.Lock()
	st.photo = b
	st.mu.Unlock()
}

func (st *State) HasPhoto() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.photo) > 0
}

func (st *State) SetBehaviorMedia(b []byte) {
	st.mu.Lock()
	st.behaviorMedia = b
	st.mu.Unlock()
}

// Snapshot returns a copy of the responses plus the current media payloads.
// The map copy is what keeps a running analysis isolated from later answer
// merges; values inside it are never mutated after decoding, so a top-level
// copy is sufficient. The byte slices are replaced wholesale on upload,
// never appended to, so sharing them is safe.
func (st *State) Snapshot() (survey.Responses, []byte, []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r := make(survey.Responses, len(st.responses))
	for k, v := range st.responses {
		r[k] = v
	}
	return r, st.photo, st.behaviorMedia
}

func (st *State) SetJob(j *jobs.Job) {
	st.mu.Lock()
	st.job = j
	st.mu.Unlock()
}

// Job returns the in-flight analysis handle, or nil when none was started.
func (st *State) Job() *jobs.Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job
}

// Store is an in-memory session registry. Sessions live for one wizard
// run; ExpireOlderThan lets the server shed abandoned ones.
type Store struct {
	mu sync.RWMutex
	m  map[string]*State
}

func NewStore() *Store {
	return &Store{m: map[string]*State{}}
}

func (s *Store) Create() *State {
	st := &State{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		responses: survey.Responses{},
	}
	s.mu.Lock()
	s.m[st.ID] = st
	s.mu.Unlock()
	return st
}

func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[id]
	return st, ok
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// ExpireOlderThan drops sessions created before the cutoff and returns how
// many were removed. Sessions with a still-running job are kept.
func (s *Store) ExpireOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.m {
		if st.CreatedAt.After(cutoff) {
			continue
		}
		if j := st.Job(); j != nil && !j.Done() {
			continue
		}
		delete(s.m, id)
		n++
	}
	return n
}
