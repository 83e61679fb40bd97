package safebrowsing

import (
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// listState is the scratch-store record persisted at updated/<list>:
// when the list was last polled, how long until the next poll is due,
// and the consecutive-error counter driving the backoff schedule.
type listState struct {
	LastUpdate time.Time
	Wait       time.Duration
	Errors     int
}

// prefixState is the scratch-store record persisted at
// full_hash_errors/<hexPrefix>: the resolver's per-prefix backoff state.
type prefixState struct {
	LastError time.Time
	Errors    int
}

// scratchSnapshot is the gob-serializable form of the whole scratch
// store: one file holding every list timer and prefix counter, rather
// than one file per list.
type scratchSnapshot struct {
	Lists    map[string]listState
	Prefixes map[string]prefixState
}

// scratchStore is the engine's private key-value store for per-list
// timers and per-prefix error counters. Every key is read/written
// atomically; callers never see a partial update.
type scratchStore struct {
	mu       sync.Mutex
	path     string
	lists    map[string]listState
	prefixes map[string]prefixState
}

func newScratchStore(path string) *scratchStore {
	return &scratchStore{
		path:     path,
		lists:    make(map[string]listState),
		prefixes: make(map[string]prefixState),
	}
}

// load restores a previously persisted snapshot. A missing file is not
// an error — it just means a cold start.
func (s *scratchStore) load() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "scratchstore: opening %s", s.path)
	}
	defer f.Close()

	var snap scratchSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return errors.Wrapf(err, "scratchstore: decoding %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Lists != nil {
		s.lists = snap.Lists
	}
	if snap.Prefixes != nil {
		s.prefixes = snap.Prefixes
	}
	return nil
}

// save persists the current snapshot, overwriting the previous file.
func (s *scratchStore) save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	snap := scratchSnapshot{Lists: copyListStates(s.lists), Prefixes: copyPrefixStates(s.prefixes)}
	s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return errors.Wrapf(err, "scratchstore: creating %s", s.path)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return errors.Wrapf(err, "scratchstore: encoding %s", s.path)
	}
	return nil
}

func copyListStates(m map[string]listState) map[string]listState {
	out := make(map[string]listState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyPrefixStates(m map[string]prefixState) map[string]prefixState {
	out := make(map[string]prefixState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *scratchStore) getList(name string) listState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists[name]
}

func (s *scratchStore) setList(name string, st listState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[name] = st
}

func (s *scratchStore) getPrefix(hexPrefix string) prefixState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefixes[hexPrefix]
}

func (s *scratchStore) setPrefix(hexPrefix string, st prefixState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes[hexPrefix] = st
}

// anyListUpdatedSince reports whether at least one list's LastUpdate is
// after cutoff — the up-to-date gate backing IsListed.
func (s *scratchStore) anyListUpdatedSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.lists {
		if st.LastUpdate.After(cutoff) {
			return true
		}
	}
	return false
}
