// Package memstore is the pure-Go in-memory ChunkStore backend: native Go
// maps per list, fronted by a Bloom filter so a probe for a prefix that
// was never inserted never touches the map.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/willf/bloom"

	"github.com/nikolo/safebrowsing3/store"
)

// Sized for roughly 500,000 entries at a false-positive probability of
// 1.0E-20.
const (
	bloomFilterBits   = 50000000
	bloomFilterHashes = 66
)

type list struct {
	mu sync.RWMutex

	add map[string][]store.AddChunk // keyed by hex prefix
	sub map[string][]store.SubChunk

	addFilter *bloom.BloomFilter
	subFilter *bloom.BloomFilter

	fullHashes map[string][]store.FullHash // keyed by hex prefix
}

func newList() *list {
	return &list{
		add:        make(map[string][]store.AddChunk),
		sub:        make(map[string][]store.SubChunk),
		addFilter:  bloom.New(bloomFilterBits, bloomFilterHashes),
		subFilter:  bloom.New(bloomFilterBits, bloomFilterHashes),
		fullHashes: make(map[string][]store.FullHash),
	}
}

// Store is an in-memory ChunkStore. The zero value is not usable; use New.
type Store struct {
	mu    sync.Mutex
	lists map[string]*list
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{lists: make(map[string]*list)}
}

func (s *Store) listFor(name string) *list {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[name]
	if !ok {
		l = newList()
		s.lists[name] = l
	}
	return l
}

func (s *Store) Ranges(_ context.Context, listName string) (string, string, error) {
	l := s.listFor(listName)
	l.mu.RLock()
	defer l.mu.RUnlock()

	addNums := make(map[uint32]bool, len(l.add))
	for _, chunks := range l.add {
		for _, c := range chunks {
			addNums[c.ChunkNumber] = true
		}
	}
	subNums := make(map[uint32]bool, len(l.sub))
	for _, chunks := range l.sub {
		for _, c := range chunks {
			subNums[c.ChunkNumber] = true
		}
	}
	return store.BuildChunkRanges(addNums), store.BuildChunkRanges(subNums), nil
}

func (s *Store) DeleteAdd(_ context.Context, listName string, chunkNums []uint32) error {
	l := s.listFor(listName)
	toDelete := make(map[uint32]bool, len(chunkNums))
	for _, n := range chunkNums {
		toDelete[n] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for prefix, chunks := range l.add {
		kept := chunks[:0]
		for _, c := range chunks {
			if !toDelete[c.ChunkNumber] {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(l.add, prefix)
		} else {
			l.add[prefix] = kept
		}
	}
	return nil
}

func (s *Store) DeleteSub(_ context.Context, listName string, chunkNums []uint32) error {
	l := s.listFor(listName)
	toDelete := make(map[uint32]bool, len(chunkNums))
	for _, n := range chunkNums {
		toDelete[n] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for prefix, chunks := range l.sub {
		kept := chunks[:0]
		for _, c := range chunks {
			if !toDelete[c.ChunkNumber] {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(l.sub, prefix)
		} else {
			l.sub[prefix] = kept
		}
	}
	return nil
}

func (s *Store) GetAdd(_ context.Context, prefix string, lists []string) ([]store.AddChunk, error) {
	var out []store.AddChunk
	for _, name := range lists {
		l := s.listFor(name)
		l.mu.RLock()
		if l.addFilter.Test([]byte(prefix)) {
			out = append(out, l.add[prefix]...)
		}
		l.mu.RUnlock()
	}
	return out, nil
}

func (s *Store) GetSub(_ context.Context, prefix string, lists []string) ([]store.SubChunk, error) {
	var out []store.SubChunk
	for _, name := range lists {
		l := s.listFor(name)
		l.mu.RLock()
		if l.subFilter.Test([]byte(prefix)) {
			out = append(out, l.sub[prefix]...)
		}
		l.mu.RUnlock()
	}
	return out, nil
}

func (s *Store) AddBulkAdd(_ context.Context, chunks []store.AddChunk) error {
	for _, c := range chunks {
		l := s.listFor(c.List)
		l.mu.Lock()
		if !containsAdd(l.add[c.Prefix], c) {
			l.add[c.Prefix] = append(l.add[c.Prefix], c)
			l.addFilter.Add([]byte(c.Prefix))
		}
		l.mu.Unlock()
	}
	return nil
}

func (s *Store) AddBulkSub(_ context.Context, chunks []store.SubChunk) error {
	for _, c := range chunks {
		l := s.listFor(c.List)
		l.mu.Lock()
		if !containsSub(l.sub[c.Prefix], c) {
			l.sub[c.Prefix] = append(l.sub[c.Prefix], c)
			l.subFilter.Add([]byte(c.Prefix))
		}
		l.mu.Unlock()
	}
	return nil
}

func (s *Store) GetFullHashes(_ context.Context, prefix, listName string, now time.Time) ([]store.FullHash, error) {
	l := s.listFor(listName)
	l.mu.Lock()
	defer l.mu.Unlock()
	existing := l.fullHashes[prefix]
	kept := existing[:0]
	var out []store.FullHash
	for _, h := range existing {
		if h.Expired(now) {
			continue
		}
		kept = append(kept, h)
		out = append(out, h)
	}
	if len(kept) == 0 {
		delete(l.fullHashes, prefix)
	} else {
		l.fullHashes[prefix] = kept
	}
	return out, nil
}

func (s *Store) AddFullHashes(_ context.Context, hashes []store.FullHash) error {
	for _, h := range hashes {
		l := s.listFor(h.List)
		l.mu.Lock()
		found := false
		for i, existing := range l.fullHashes[h.Prefix] {
			if existing.Hash == h.Hash {
				l.fullHashes[h.Prefix][i] = h
				found = true
				break
			}
		}
		if !found {
			l.fullHashes[h.Prefix] = append(l.fullHashes[h.Prefix], h)
		}
		l.mu.Unlock()
	}
	return nil
}

func (s *Store) Reset(_ context.Context, listName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[listName] = newList()
	return nil
}

func containsAdd(chunks []store.AddChunk, c store.AddChunk) bool {
	for _, existing := range chunks {
		if existing.ChunkNumber == c.ChunkNumber && existing.Prefix == c.Prefix {
			return true
		}
	}
	return false
}

func containsSub(chunks []store.SubChunk, c store.SubChunk) bool {
	for _, existing := range chunks {
		if existing.ChunkNumber == c.ChunkNumber && existing.AddNumber == c.AddNumber && existing.Prefix == c.Prefix {
			return true
		}
	}
	return false
}

var _ store.ChunkStore = (*Store)(nil)
