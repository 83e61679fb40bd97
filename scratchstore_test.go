package safebrowsing

import (
	"path/filepath"
	"testing"
	"time"
)

func TestScratchStoreGetSetRoundTrip(t *testing.T) {
	s := newScratchStore("")
	s.setList("goog-malware-shavar", listState{Errors: 3, Wait: time.Minute})
	got := s.getList("goog-malware-shavar")
	if got.Errors != 3 || got.Wait != time.Minute {
		t.Errorf("getList = %+v, want Errors=3 Wait=1m", got)
	}
	if got := s.getList("never-set"); got.Errors != 0 {
		t.Errorf("getList of unknown list should be zero value, got %+v", got)
	}
}

func TestScratchStorePersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.gob")

	s := newScratchStore(path)
	s.setList("goog-malware-shavar", listState{Errors: 2, Wait: 5 * time.Minute})
	s.setPrefix("aabbccdd", prefixState{Errors: 1})
	if err := s.save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := newScratchStore(path)
	if err := reloaded.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reloaded.getList("goog-malware-shavar"); got.Errors != 2 {
		t.Errorf("reloaded list state = %+v, want Errors=2", got)
	}
	if got := reloaded.getPrefix("aabbccdd"); got.Errors != 1 {
		t.Errorf("reloaded prefix state = %+v, want Errors=1", got)
	}
}

func TestScratchStoreLoadMissingFileIsNotAnError(t *testing.T) {
	s := newScratchStore(filepath.Join(t.TempDir(), "does-not-exist.gob"))
	if err := s.load(); err != nil {
		t.Errorf("load of missing file should not error, got %v", err)
	}
}

func TestAnyListUpdatedSince(t *testing.T) {
	s := newScratchStore("")
	cutoff := time.Now().Add(-time.Hour)
	if s.anyListUpdatedSince(cutoff) {
		t.Error("empty scratch store should report no recent updates")
	}
	s.setList("goog-malware-shavar", listState{LastUpdate: time.Now()})
	if !s.anyListUpdatedSince(cutoff) {
		t.Error("expected a recent update to be found")
	}
	if s.anyListUpdatedSince(time.Now().Add(time.Hour)) {
		t.Error("a future cutoff should never be satisfied")
	}
}
