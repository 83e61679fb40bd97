package safebrowsing

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// upToDateWindow bounds how stale a list's last successful update may be
// before IsListed refuses to return an authoritative answer.
const upToDateWindow = 45 * time.Minute

// MightBeListed runs the fast half of the lookup pipeline: it
// canonicalizes url, hashes every candidate form, and reports every
// configured list whose add/sub chunk records match a candidate's
// 4-byte prefix. A non-empty result is a *possible* match only — prefix
// collisions mean the caller must still resolve full hashes (IsListed)
// before treating it as authoritative.
func (c *Client) MightBeListed(ctx context.Context, url string) ([]string, error) {
	matched := make(map[string]bool)
	for _, prefixHex := range prefixSet(url) {
		lists, err := c.matchPrefixLists(ctx, prefixHex, c.lists)
		if err != nil {
			return nil, err
		}
		for _, l := range lists {
			matched[l] = true
		}
	}
	return listKeys(matched), nil
}

// IsListed runs the full Lookup Pipeline: a MightBeListed prefix match,
// followed by full-hash resolution (local store, then the Resolver's
// remote round trip) to confirm or refute each candidate collision. It
// refuses to answer at all — ErrOutOfDateHashes — unless at least one
// configured list has completed a successful update within
// upToDateWindow, since a stale local store can neither confirm nor
// deny safely.
func (c *Client) IsListed(ctx context.Context, url string) ([]string, error) {
	if c.cfg.Offline {
		return nil, errors.Wrap(ErrOffline, "lookup: IsListed requires network resolution")
	}
	if !c.scratch.anyListUpdatedSince(time.Now().Add(-upToDateWindow)) {
		c.metrics.IncLookup(false)
		return nil, ErrOutOfDateHashes
	}

	hashes := fullHashes(url)
	byPrefix := make(map[string]fullHash, len(hashes))
	for _, h := range hashes {
		byPrefix[h.PrefixHex()] = h
	}

	var reqs []resolveRequest
	prefixLists := make(map[string][]string, len(byPrefix))
	for prefixHex := range byPrefix {
		candidateLists, err := c.matchPrefixLists(ctx, prefixHex, c.lists)
		if err != nil {
			return nil, err
		}
		if len(candidateLists) == 0 {
			continue
		}
		prefixLists[prefixHex] = candidateLists
		for _, list := range candidateLists {
			reqs = append(reqs, resolveRequest{list: list, prefixHex: prefixHex})
		}
	}

	matchedLists := make(map[string]bool)
	if len(reqs) > 0 {
		resolved, err := c.resolver.ResolveBatch(ctx, reqs, time.Now())
		if err != nil {
			return nil, errors.Wrap(err, "lookup: resolving full hashes")
		}
		for prefixHex, lists := range prefixLists {
			h := byPrefix[prefixHex]
			for _, list := range lists {
				for _, fh := range resolved[c.resolver.localCacheKey(list, prefixHex)] {
					if fh.Hash == h.Hex() {
						matchedLists[list] = true
					}
				}
			}
		}
	}

	out := listKeys(matchedLists)
	c.metrics.IncLookup(len(out) > 0)
	return out, nil
}

// matchPrefixLists returns the subset of lists whose store still holds a
// live add-record for prefixHex, once every matching sub-record has
// canceled its corresponding add-record. A sub-record (list, chunkNumber,
// addNumber, prefix) cancels the add-record (list, addNumber, prefix);
// the sub's own chunkNumber plays no part in the cancellation match.
func (c *Client) matchPrefixLists(ctx context.Context, prefixHex string, lists []string) ([]string, error) {
	adds, err := c.store.GetAdd(ctx, prefixHex, lists)
	if err != nil {
		return nil, errors.Wrap(err, "lookup: fetching add records")
	}
	if len(adds) == 0 {
		return nil, nil
	}
	subs, err := c.store.GetSub(ctx, prefixHex, lists)
	if err != nil {
		return nil, errors.Wrap(err, "lookup: fetching sub records")
	}

	canceled := make(map[string]map[uint32]bool)
	for _, s := range subs {
		if canceled[s.List] == nil {
			canceled[s.List] = make(map[uint32]bool)
		}
		canceled[s.List][s.AddNumber] = true
	}

	matched := make(map[string]bool)
	for _, a := range adds {
		if canceled[a.List][a.ChunkNumber] {
			continue
		}
		matched[a.List] = true
	}
	return listKeys(matched), nil
}

func listKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
