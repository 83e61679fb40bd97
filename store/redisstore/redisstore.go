// Package redisstore is a replicated ChunkStore backend over Redis,
// realizing the "replicated key-value store" half of the backing-store
// choice named in the client design (as opposed to memstore's in-memory
// map). Several client processes pointed at the same Redis instance share
// one mirror.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/nikolo/safebrowsing3/store"
)

// Store is a Redis-backed ChunkStore.
type Store struct {
	pool *redis.Pool
}

// New wraps an existing *redis.Pool. The caller owns the pool's lifecycle.
func New(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromAddr dials addr (host:port) lazily through a small connection
// pool, in the same shape as redigo's own documented examples.
func NewFromAddr(addr string) *Store {
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
	return New(pool)
}

func addKey(list string) string      { return "sb3:add:" + list }
func subKey(list string) string      { return "sb3:sub:" + list }
func addRangeKey(list string) string { return "sb3:addnums:" + list }
func subRangeKey(list string) string { return "sb3:subnums:" + list }
func hashKey(list string) string     { return "sb3:fullhash:" + list }

// Several distinct chunk numbers routinely share the same 4-byte prefix,
// so each hash field (keyed by prefix) holds a ";"-joined list of encoded
// records rather than a single one.
const entrySep = ";"

func encodeAdd(c store.AddChunk) string {
	return fmt.Sprintf("%d|%s", c.ChunkNumber, c.Prefix)
}

func encodeSub(c store.SubChunk) string {
	return fmt.Sprintf("%d|%d|%s", c.ChunkNumber, c.AddNumber, c.Prefix)
}

func (s *Store) Ranges(ctx context.Context, list string) (string, string, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()

	addNums, err := redis.Strings(conn.Do("SMEMBERS", addRangeKey(list)))
	if err != nil {
		return "", "", err
	}
	subNums, err := redis.Strings(conn.Do("SMEMBERS", subRangeKey(list)))
	if err != nil {
		return "", "", err
	}
	return store.BuildChunkRanges(toNumSet(addNums)), store.BuildChunkRanges(toNumSet(subNums)), nil
}

func toNumSet(strs []string) map[uint32]bool {
	out := make(map[uint32]bool, len(strs))
	for _, s := range strs {
		n, err := strconv.ParseUint(s, 10, 32)
		if err == nil {
			out[uint32(n)] = true
		}
	}
	return out
}

func (s *Store) DeleteAdd(ctx context.Context, list string, chunkNums []uint32) error {
	return s.deleteByChunkNumbers(ctx, addKey(list), addRangeKey(list), chunkNums, func(v string) (uint32, bool) {
		n, _, ok := splitFirstUint(v)
		return n, ok
	})
}

func (s *Store) DeleteSub(ctx context.Context, list string, chunkNums []uint32) error {
	return s.deleteByChunkNumbers(ctx, subKey(list), subRangeKey(list), chunkNums, func(v string) (uint32, bool) {
		n, _, ok := splitFirstUint(v)
		return n, ok
	})
}

// deleteByChunkNumbers scans every field of the hash at key, removing any
// whose encoded chunk number (as extracted by chunkNumOf) is in toDelete,
// and removes those numbers from the companion range set.
func (s *Store) deleteByChunkNumbers(
	ctx context.Context,
	key, rangeKey string,
	chunkNums []uint32,
	chunkNumOf func(string) (uint32, bool),
) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	toDelete := make(map[uint32]bool, len(chunkNums))
	for _, n := range chunkNums {
		toDelete[n] = true
	}

	fields, err := redis.StringMap(conn.Do("HGETALL", key))
	if err != nil {
		return err
	}
	for field, value := range fields {
		var kept []string
		for _, entry := range strings.Split(value, entrySep) {
			n, ok := chunkNumOf(entry)
			if ok && toDelete[n] {
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			if _, err := conn.Do("HDEL", key, field); err != nil {
				return err
			}
		} else if len(kept) != len(strings.Split(value, entrySep)) {
			if _, err := conn.Do("HSET", key, field, strings.Join(kept, entrySep)); err != nil {
				return err
			}
		}
	}
	for n := range toDelete {
		if _, err := conn.Do("SREM", rangeKey, n); err != nil {
			return err
		}
	}
	return nil
}

func splitFirstUint(v string) (n uint32, rest string, ok bool) {
	i := 0
	for i < len(v) && v[i] != '|' {
		i++
	}
	if i == len(v) {
		return 0, "", false
	}
	parsed, err := strconv.ParseUint(v[:i], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(parsed), v[i+1:], true
}

func (s *Store) GetAdd(ctx context.Context, prefix string, lists []string) ([]store.AddChunk, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []store.AddChunk
	for _, list := range lists {
		raw, err := redis.String(conn.Do("HGET", addKey(list), prefix))
		if err != nil {
			if err == redis.ErrNil {
				continue
			}
			return nil, err
		}
		for _, v := range strings.Split(raw, entrySep) {
			n, p, ok := splitFirstUint(v)
			if !ok {
				continue
			}
			out = append(out, store.AddChunk{List: list, ChunkNumber: n, Prefix: p})
		}
	}
	return out, nil
}

func (s *Store) GetSub(ctx context.Context, prefix string, lists []string) ([]store.SubChunk, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []store.SubChunk
	for _, list := range lists {
		raw, err := redis.String(conn.Do("HGET", subKey(list), prefix))
		if err != nil {
			if err == redis.ErrNil {
				continue
			}
			return nil, err
		}
		for _, v := range strings.Split(raw, entrySep) {
			chunkNum, rest, ok := splitFirstUint(v)
			if !ok {
				continue
			}
			addNum, p, ok := splitFirstUint(rest)
			if !ok {
				continue
			}
			out = append(out, store.SubChunk{List: list, ChunkNumber: chunkNum, AddNumber: addNum, Prefix: p})
		}
	}
	return out, nil
}

func (s *Store) AddBulkAdd(ctx context.Context, chunks []store.AddChunk) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, c := range chunks {
		entry := encodeAdd(c)
		existing, err := redis.String(conn.Do("HGET", addKey(c.List), c.Prefix))
		if err != nil && err != redis.ErrNil {
			return err
		}
		if !containsEntry(existing, entry) {
			if _, err := conn.Do("HSET", addKey(c.List), c.Prefix, appendEntry(existing, entry)); err != nil {
				return err
			}
		}
		if _, err := conn.Do("SADD", addRangeKey(c.List), c.ChunkNumber); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddBulkSub(ctx context.Context, chunks []store.SubChunk) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, c := range chunks {
		entry := encodeSub(c)
		existing, err := redis.String(conn.Do("HGET", subKey(c.List), c.Prefix))
		if err != nil && err != redis.ErrNil {
			return err
		}
		if !containsEntry(existing, entry) {
			if _, err := conn.Do("HSET", subKey(c.List), c.Prefix, appendEntry(existing, entry)); err != nil {
				return err
			}
		}
		if _, err := conn.Do("SADD", subRangeKey(c.List), c.ChunkNumber); err != nil {
			return err
		}
	}
	return nil
}

func containsEntry(existing, entry string) bool {
	for _, v := range strings.Split(existing, entrySep) {
		if v == entry {
			return true
		}
	}
	return false
}

func appendEntry(existing, entry string) string {
	if existing == "" {
		return entry
	}
	return existing + entrySep + entry
}

// GetFullHashes relies on Redis's own per-key expiry (set with PEXPIRE at
// AddFullHashes time) to realize "expire on read" without a sweeper: an
// expired field is simply gone from the hash by the time this runs.
func (s *Store) GetFullHashes(ctx context.Context, prefix, list string, _ time.Time) ([]store.FullHash, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	field := prefix
	raw, err := redis.String(conn.Do("HGET", hashFieldKey(list, field), "hashes"))
	if err != nil {
		if err == redis.ErrNil {
			return nil, nil
		}
		return nil, err
	}
	return decodeFullHashes(list, prefix, raw), nil
}

func hashFieldKey(list, prefix string) string {
	return hashKey(list) + ":" + prefix
}

func encodeFullHashes(hashes []store.FullHash) string {
	out := ""
	for i, h := range hashes {
		if i > 0 {
			out += ","
		}
		out += h.Hash
	}
	return out
}

func decodeFullHashes(list, prefix, raw string) []store.FullHash {
	if raw == "" {
		return nil
	}
	var out []store.FullHash
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, store.FullHash{List: list, Prefix: prefix, Hash: raw[start:i]})
			}
			start = i + 1
		}
	}
	return out
}

func (s *Store) AddFullHashes(ctx context.Context, hashes []store.FullHash) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	byKey := make(map[string][]store.FullHash)
	for _, h := range hashes {
		k := hashFieldKey(h.List, h.Prefix)
		byKey[k] = append(byKey[k], h)
	}
	for key, group := range byKey {
		ttl := time.Until(group[0].ValidUntil)
		if ttl <= 0 {
			continue
		}
		if _, err := conn.Do("HSET", key, "hashes", encodeFullHashes(group)); err != nil {
			return err
		}
		if _, err := conn.Do("PEXPIRE", key, ttl.Milliseconds()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Reset(ctx context.Context, list string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	keys := []interface{}{addKey(list), subKey(list), addRangeKey(list), subRangeKey(list)}
	if _, err := conn.Do("DEL", keys...); err != nil {
		return err
	}
	prefixes, err := redis.Strings(conn.Do("KEYS", hashKey(list)+":*"))
	if err != nil {
		return err
	}
	for _, k := range prefixes {
		if _, err := conn.Do("DEL", k); err != nil {
			return err
		}
	}
	return nil
}

var _ store.ChunkStore = (*Store)(nil)
