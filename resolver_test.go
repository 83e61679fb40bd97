package safebrowsing

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nikolo/safebrowsing3/store"
	"github.com/nikolo/safebrowsing3/store/memstore"
)

func newTestResolver(t *testing.T, server *httptest.Server) (*Resolver, store.ChunkStore) {
	t.Helper()
	cfg := DefaultConfig()
	if server != nil {
		cfg.Server = server.URL + "/"
	}
	cfg.Key = "test-key"
	cfg.DataFilePath = ""

	st := memstore.New()
	scratch := newScratchStore("")
	return NewResolver(cfg, st, scratch, noopLogger{}, NopRecorder{}), st
}

func TestResolverReturnsLocallyStoredHash(t *testing.T) {
	resolver, st := newTestResolver(t, nil)
	ctx := context.Background()
	now := time.Now()

	hash := store.FullHash{
		List:       "goog-malware-shavar",
		Prefix:     "aabbccdd",
		Hash:       "aabbccdd00000000000000000000000000000000000000000000000000000000",
		ValidUntil: now.Add(time.Hour),
	}
	if err := st.AddFullHashes(ctx, []store.FullHash{hash}); err != nil {
		t.Fatalf("AddFullHashes: %v", err)
	}

	got, err := resolver.Resolve(ctx, "goog-malware-shavar", "aabbccdd", now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Hash != hash.Hash {
		t.Errorf("Resolve = %v, want [%v]", got, hash)
	}
}

func TestResolverOfflineSkipsRemoteCall(t *testing.T) {
	resolver, _ := newTestResolver(t, nil)
	resolver.cfg.Offline = true

	got, err := resolver.Resolve(context.Background(), "goog-malware-shavar", "deadbeef", time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nil {
		t.Errorf("Resolve in offline mode = %v, want nil", got)
	}
}

func TestResolverFetchesRemoteFullHash(t *testing.T) {
	fullHashHex := "aabbccdd" + strings.Repeat("00", 28) // 4-byte prefix + 28 zero bytes = 32 bytes total
	raw, err := hex.DecodeString(fullHashHex)
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("300\ngoog-malware-shavar:32:1\n"))
		w.Write(raw)
	}))
	defer server.Close()

	resolver, _ := newTestResolver(t, server)
	got, err := resolver.Resolve(context.Background(), "goog-malware-shavar", "aabbccdd", time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Hash != fullHashHex {
		t.Errorf("Resolve = %v, want one hash %s", got, fullHashHex)
	}
}

func TestResolverSuppressesAfterRepeatedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver, _ := newTestResolver(t, server)
	now := time.Now()

	// Each attempt advances the clock far enough past the previous
	// error's own backoff window that it still reaches the network,
	// so all 3 attempts land on the 500 server rather than being
	// suppressed by an earlier recorded error.
	for i := 0; i < 3; i++ {
		attemptNow := now.Add(time.Duration(i) * time.Hour)
		if _, err := resolver.Resolve(context.Background(), "goog-malware-shavar", "aabbccdd", attemptNow); err == nil {
			t.Fatalf("expected resolve attempt %d to fail against a 500 server", i)
		}
	}

	// After 3 recorded errors the per-prefix backoff table suppresses
	// further remote attempts until 30 minutes have passed since the
	// last one; Resolve should return (nil, nil) rather than hitting
	// the network again.
	lastAttempt := now.Add(2 * time.Hour)
	got, err := resolver.Resolve(context.Background(), "goog-malware-shavar", "aabbccdd", lastAttempt)
	if err != nil {
		t.Fatalf("Resolve while suppressed should not error, got %v", err)
	}
	if got != nil {
		t.Errorf("Resolve while suppressed = %v, want nil", got)
	}
}
