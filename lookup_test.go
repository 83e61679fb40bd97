package safebrowsing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolo/safebrowsing3/store"
	"github.com/nikolo/safebrowsing3/store/memstore"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Offline = true
	cfg.DataFilePath = ""
	c := &Client{
		cfg:     cfg,
		store:   memstore.New(),
		scratch: newScratchStore(""),
		logger:  noopLogger{},
		metrics: NopRecorder{},
		lists:   []string{"goog-malware-shavar"},
	}
	c.resolver = NewResolver(cfg, c.store, c.scratch, c.logger, c.metrics)
	c.engine = NewEngine(cfg, c.store, c.scratch, c.logger, c.metrics)
	return c
}

func TestMightBeListedMatchesSeededPrefix(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	url := "http://www.evil-example.com/malware.html"
	hashes := fullHashes(url)
	require.NotEmpty(t, hashes, "expected at least one candidate hash")
	h := hashes[0]

	require.NoError(t, c.store.AddBulkAdd(ctx, []store.AddChunk{
		{List: "goog-malware-shavar", ChunkNumber: 1, Prefix: h.PrefixHex()},
	}))

	lists, err := c.MightBeListed(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []string{"goog-malware-shavar"}, lists)
}

func TestMightBeListedNoMatch(t *testing.T) {
	c := newTestClient(t)
	lists, err := c.MightBeListed(context.Background(), "http://www.totally-fine.example/")
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestMatchPrefixListsSubCancelsAdd(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	prefix := "aabbccdd"
	require.NoError(t, c.store.AddBulkAdd(ctx, []store.AddChunk{
		{List: "goog-malware-shavar", ChunkNumber: 42, Prefix: prefix},
	}))

	lists, err := c.matchPrefixLists(ctx, prefix, c.lists)
	require.NoError(t, err)
	require.Len(t, lists, 1, "expected a match before cancellation")

	require.NoError(t, c.store.AddBulkSub(ctx, []store.SubChunk{
		{List: "goog-malware-shavar", ChunkNumber: 99, AddNumber: 42, Prefix: prefix},
	}))

	lists, err = c.matchPrefixLists(ctx, prefix, c.lists)
	require.NoError(t, err)
	assert.Empty(t, lists, "sub-chunk should have canceled the add-chunk")
}

func TestIsListedRequiresUpToDateLists(t *testing.T) {
	c := newTestClient(t)
	c.cfg.Offline = false
	_, err := c.IsListed(context.Background(), "http://www.example.com/")
	assert.Equal(t, ErrOutOfDateHashes, err)
}

func TestIsListedOfflineRefuses(t *testing.T) {
	c := newTestClient(t)
	_, err := c.IsListed(context.Background(), "http://www.example.com/")
	assert.Error(t, err)
}

func TestIsListedConfirmsExactHash(t *testing.T) {
	c := newTestClient(t)
	c.cfg.Offline = false
	c.scratch.setList("goog-malware-shavar", listState{LastUpdate: time.Now()})
	ctx := context.Background()

	url := "http://www.evil-example.com/malware.html"
	hashes := fullHashes(url)
	h := hashes[0]

	require.NoError(t, c.store.AddBulkAdd(ctx, []store.AddChunk{
		{List: "goog-malware-shavar", ChunkNumber: 1, Prefix: h.PrefixHex()},
	}))
	require.NoError(t, c.store.AddFullHashes(ctx, []store.FullHash{
		{List: "goog-malware-shavar", Prefix: h.PrefixHex(), Hash: h.Hex(), ValidUntil: time.Now().Add(time.Hour)},
	}))

	lists, err := c.IsListed(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []string{"goog-malware-shavar"}, lists)
}

func TestIsListedPrefixCollisionWithoutMatchingHashIsNotListed(t *testing.T) {
	c := newTestClient(t)
	c.cfg.Offline = false
	c.scratch.setList("goog-malware-shavar", listState{LastUpdate: time.Now()})
	ctx := context.Background()

	url := "http://www.safe-example.com/"
	hashes := fullHashes(url)
	h := hashes[0]

	// Seed only a prefix match, with a full hash that doesn't agree --
	// simulating another URL sharing the same 4-byte prefix.
	require.NoError(t, c.store.AddBulkAdd(ctx, []store.AddChunk{
		{List: "goog-malware-shavar", ChunkNumber: 1, Prefix: h.PrefixHex()},
	}))
	require.NoError(t, c.store.AddFullHashes(ctx, []store.FullHash{
		{List: "goog-malware-shavar", Prefix: h.PrefixHex(), Hash: "00", ValidUntil: time.Now().Add(time.Hour)},
	}))

	lists, err := c.IsListed(ctx, url)
	require.NoError(t, err)
	assert.Empty(t, lists, "a prefix collision without a matching full hash must not confirm")
}
