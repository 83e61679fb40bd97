package safebrowsing

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/nikolo/safebrowsing3/store"
)

// Resolver is the full-hash cache and resolver: local lookups against
// the chunk store's persisted full-hash table, a process-local read
// cache on top of it, and remote resolution (with per-prefix backoff)
// for prefixes neither knows about.
type Resolver struct {
	cfg     Config
	store   store.ChunkStore
	scratch *scratchStore
	http    *httpClient
	logger  Logger
	metrics Recorder

	// local is a process-local read-through cache over the store's own
	// full-hash table: always a subset of what GetFullHashes would
	// return, never the sole home of a hash.
	local *gocache.Cache
}

// NewResolver builds a Resolver. Entries in the process-local cache are
// stored with a TTL that runs until their ValidUntil; go-cache sweeps
// expired entries every 10 minutes.
func NewResolver(cfg Config, chunkStore store.ChunkStore, scratch *scratchStore, logger Logger, metrics Recorder) *Resolver {
	return &Resolver{
		cfg:     cfg,
		store:   chunkStore,
		scratch: scratch,
		http:    newHTTPClient(cfg, logger),
		logger:  logger,
		metrics: metrics,
		local:   gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// resolveRequest names one (list, prefix) pair a caller wants resolved.
type resolveRequest struct {
	list      string
	prefixHex string
}

// Resolve returns the full hashes known (locally, or after a remote
// round trip) for prefixHex on list, as of now. It is a convenience
// wrapper around ResolveBatch for callers with a single candidate.
func (r *Resolver) Resolve(ctx context.Context, list, prefixHex string, now time.Time) ([]store.FullHash, error) {
	out, err := r.ResolveBatch(ctx, []resolveRequest{{list: list, prefixHex: prefixHex}}, now)
	if err != nil {
		return nil, err
	}
	return out[r.localCacheKey(list, prefixHex)], nil
}

// ResolveBatch resolves every (list, prefix) candidate from a single
// lookup in as few remote round trips as possible: each candidate is
// first checked against the process-local cache and then the persisted
// store; whatever remains unresolved is sent as one gethash request per
// prefix-size class, concatenating every still-unknown prefix of that
// size into a single request body rather than issuing one request per
// prefix. The result is keyed by localCacheKey(list, prefixHex).
func (r *Resolver) ResolveBatch(ctx context.Context, reqs []resolveRequest, now time.Time) (map[string][]store.FullHash, error) {
	out := make(map[string][]store.FullHash, len(reqs))
	var pending []resolveRequest
	for _, req := range reqs {
		key := r.localCacheKey(req.list, req.prefixHex)
		if cached, ok := r.localLookup(req.list, req.prefixHex, now); ok {
			out[key] = cached
			continue
		}

		hashes, err := r.store.GetFullHashes(ctx, req.prefixHex, req.list, now)
		if err != nil {
			return nil, errors.Wrap(err, "resolver: store lookup")
		}
		if len(hashes) > 0 {
			r.cacheLocally(hashes)
			out[key] = hashes
			continue
		}
		pending = append(pending, req)
	}

	if r.cfg.Offline || len(pending) == 0 {
		return out, nil
	}

	bySize := make(map[int][]resolveRequest)
	for _, req := range pending {
		if !prefixResolverAllowed(r.scratch.getPrefix(req.prefixHex), now) {
			continue
		}
		bySize[len(req.prefixHex)/2] = append(bySize[len(req.prefixHex)/2], req)
	}

	for prefixSize, group := range bySize {
		resolved, err := r.resolveRemoteBatch(ctx, group, prefixSize, now)
		if err != nil {
			for _, req := range group {
				st := r.scratch.getPrefix(req.prefixHex)
				st.Errors++
				st.LastError = now
				r.scratch.setPrefix(req.prefixHex, st)
			}
			r.metrics.IncFullHashRequest("error")
			return nil, err
		}
		r.metrics.IncFullHashRequest("ok")
		for _, req := range group {
			r.scratch.setPrefix(req.prefixHex, prefixState{})
		}
		for key, hashes := range resolved {
			out[key] = hashes
		}
	}
	return out, nil
}

func (r *Resolver) localCacheKey(list, prefixHex string) string {
	return list + "|" + prefixHex
}

func (r *Resolver) localLookup(list, prefixHex string, now time.Time) ([]store.FullHash, bool) {
	v, ok := r.local.Get(r.localCacheKey(list, prefixHex))
	if !ok {
		return nil, false
	}
	hashes := v.([]store.FullHash)
	live := make([]store.FullHash, 0, len(hashes))
	for _, h := range hashes {
		if !h.Expired(now) {
			live = append(live, h)
		}
	}
	return live, len(live) > 0
}

func (r *Resolver) cacheLocally(hashes []store.FullHash) {
	byKey := make(map[string][]store.FullHash)
	for _, h := range hashes {
		key := r.localCacheKey(h.List, h.Prefix)
		byKey[key] = append(byKey[key], h)
	}
	for key, group := range byKey {
		ttl := time.Until(group[0].ValidUntil)
		if ttl <= 0 {
			continue
		}
		r.local.Set(key, group, ttl)
	}
}

// resolveRemoteBatch issues a single gethash request carrying every
// distinct prefix in reqs (all of the same byte width, prefixSize),
// concatenated in the body with a leading "<prefixSize>:<totalBytes>"
// header, and distributes the response back across the (list, prefix)
// pairs that asked for it.
func (r *Resolver) resolveRemoteBatch(ctx context.Context, reqs []resolveRequest, prefixSize int, now time.Time) (map[string][]store.FullHash, error) {
	wanted := make(map[string]map[string]bool) // prefixHex -> set of lists
	var rawPrefixes []byte
	seen := make(map[string]bool)
	for _, req := range reqs {
		if wanted[req.prefixHex] == nil {
			wanted[req.prefixHex] = make(map[string]bool)
		}
		wanted[req.prefixHex][req.list] = true
		if seen[req.prefixHex] {
			continue
		}
		seen[req.prefixHex] = true
		raw, err := hex.DecodeString(req.prefixHex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolver: bad prefix hex %q", req.prefixHex)
		}
		rawPrefixes = append(rawPrefixes, raw...)
	}

	body := strings.Builder{}
	body.WriteString(strconv.Itoa(prefixSize))
	body.WriteByte(':')
	body.WriteString(strconv.Itoa(len(rawPrefixes)))
	body.WriteByte('\n')
	body.Write(rawPrefixes)

	endpoint := fullHashEndpoint(r.cfg.Server, r.cfg.Key, "api", libraryVersion, r.cfg.Version)
	respBody, err := r.http.postForm(ctx, endpoint, body.String())
	if err != nil {
		return nil, errors.Wrap(err, "resolver: posting gethash request")
	}

	cacheLifetime, groups, err := parseFullHashResponse(respBody)
	if err != nil {
		return nil, errors.Wrap(err, "resolver: parsing gethash response")
	}
	ttl := cacheLifetime
	if r.cfg.CacheTime > 0 {
		ttl = r.cfg.CacheTime
	}

	out := make(map[string][]store.FullHash)
	var toPersist []store.FullHash
	for _, g := range groups {
		for _, h := range g.Hashes {
			if len(h) < prefixSize*2 {
				continue
			}
			prefixHex := h[:prefixSize*2]
			if !wanted[prefixHex][g.List] {
				continue
			}
			fh := store.FullHash{List: g.List, Prefix: prefixHex, Hash: h, ValidUntil: now.Add(ttl)}
			toPersist = append(toPersist, fh)
			key := r.localCacheKey(g.List, prefixHex)
			out[key] = append(out[key], fh)
		}
	}
	if len(toPersist) > 0 {
		if err := r.store.AddFullHashes(ctx, toPersist); err != nil {
			return nil, errors.Wrap(err, "resolver: persisting resolved hashes")
		}
		r.cacheLocally(toPersist)
	}
	return out, nil
}
