package safebrowsing

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nikolo/safebrowsing3/store"
	"github.com/nikolo/safebrowsing3/store/memstore"
	"github.com/nikolo/safebrowsing3/store/redisstore"
)

// Client is the public entry point: it owns the chunk store, the update
// engine, the full-hash resolver, and the lookup pipeline, wiring them
// together behind a small set of methods (Update, MightBeListed,
// IsListed) so callers never touch the collaborators directly.
type Client struct {
	cfg     Config
	store   store.ChunkStore
	scratch *scratchStore
	engine  *Engine
	resolver *Resolver
	logger  Logger
	metrics Recorder
	lists   []string
}

// NewClient builds a Client from cfg and the set of list names it should
// track (e.g. "goog-malware-shavar", "googpub-phish-shavar"). Pass a nil
// registerer to fall back to prometheus.DefaultRegisterer.
func NewClient(cfg Config, lists []string, registerer prometheus.Registerer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	logger := NewZapLogger()
	metrics := NewPromRecorder(registerer, cfg.MetricsNamespace)

	chunkStore, err := newChunkStore(cfg)
	if err != nil {
		return nil, err
	}

	scratch := newScratchStore(cfg.DataFilePath)
	if err := scratch.load(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		store:    chunkStore,
		scratch:  scratch,
		engine:   NewEngine(cfg, chunkStore, scratch, logger, metrics),
		resolver: NewResolver(cfg, chunkStore, scratch, logger, metrics),
		logger:   logger,
		metrics:  metrics,
		lists:    lists,
	}
	return c, nil
}

// newChunkStore picks the ChunkStore backend named by cfg.Storage:
// "memory", the default, or "redis", which requires cfg.RedisAddr.
func newChunkStore(cfg Config) (store.ChunkStore, error) {
	switch cfg.Storage {
	case "", "memory":
		return memstore.New(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.Wrap(ErrFatalConfig, "redis storage selected but redisAddr is empty")
		}
		return redisstore.NewFromAddr(cfg.RedisAddr), nil
	default:
		return nil, errors.Wrap(ErrFatalConfig, "unrecognized storage backend "+cfg.Storage)
	}
}

// Update runs one poll cycle across every configured list. It is safe to
// call repeatedly (e.g. from a ticker goroutine in the caller); each
// list's own in-flight guard and poll_due gate keep overlapping calls
// from doing redundant work.
func (c *Client) Update(ctx context.Context) error {
	if c.cfg.Offline {
		return ErrOffline
	}
	return c.engine.Update(ctx, c.lists, false)
}

// ForceUpdate behaves like Update but bypasses each list's poll_due gate,
// for manual/administrative refresh (e.g. a debug HTTP endpoint).
func (c *Client) ForceUpdate(ctx context.Context) error {
	if c.cfg.Offline {
		return ErrOffline
	}
	return c.engine.Update(ctx, c.lists, true)
}

// Close flushes scratch state to disk. Callers should invoke it during
// graceful shutdown.
func (c *Client) Close() error {
	return c.scratch.save()
}

// Lists returns the list names this Client was configured to track.
func (c *Client) Lists() []string {
	out := make([]string, len(c.lists))
	copy(out, c.lists)
	return out
}

// lastUpdateAge reports how long it has been since any configured list
// last completed a successful update, or -1 if none has.
func (c *Client) lastUpdateAge() time.Duration {
	oldest := time.Duration(-1)
	now := time.Now()
	for _, l := range c.lists {
		st := c.scratch.getList(l)
		if st.LastUpdate.IsZero() {
			continue
		}
		age := now.Sub(st.LastUpdate)
		if oldest < 0 || age < oldest {
			oldest = age
		}
	}
	return oldest
}
