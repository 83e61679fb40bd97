package safebrowsing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nikolo/safebrowsing3/store"
)

const (
	maxUpdateRequestBody = 4096
	maxBulkInsertBatch   = 1000
	maxBulkDeleteBatch   = 500
)

// Engine drives each tracked list through the
// Idle -> BuildRequest -> PostDownloads -> ParseHeader -> FetchRedirect
// -> ApplyChunks -> Idle state machine, polling lists concurrently
// (bounded by sem and limiter) rather than one at a time.
type Engine struct {
	cfg     Config
	store   store.ChunkStore
	scratch *scratchStore
	http    *httpClient
	logger  Logger
	metrics Recorder

	mu       sync.Mutex
	inFlight map[string]bool
	sem      chan struct{}
	limiter  *rate.Limiter
}

// NewEngine builds an Engine. sem is sized by cfg.MaxConcurrentUpdates
// (1 if that is not positive); the rate limiter allows a burst of up to
// cfg.MaxConcurrentUpdates update dial-outs and then one more per 100ms,
// so a large set of simultaneously due lists doesn't open every socket
// at once.
func NewEngine(cfg Config, chunkStore store.ChunkStore, scratch *scratchStore, logger Logger, metrics Recorder) *Engine {
	if cfg.MaxConcurrentUpdates <= 0 {
		cfg.MaxConcurrentUpdates = 1
	}
	return &Engine{
		cfg:      cfg,
		store:    chunkStore,
		scratch:  scratch,
		http:     newHTTPClient(cfg, logger),
		logger:   logger,
		metrics:  metrics,
		inFlight: make(map[string]bool),
		sem:      make(chan struct{}, cfg.MaxConcurrentUpdates),
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), cfg.MaxConcurrentUpdates),
	}
}

// Update runs one poll cycle across lists, honoring each list's poll_due
// guard and backoff state. Lists are updated concurrently, bounded by
// Engine.sem; the call returns once every list's attempt (or skip) has
// completed.
func (e *Engine) Update(ctx context.Context, lists []string, force bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, list := range lists {
		list := list
		g.Go(func() error {
			return e.updateOne(ctx, list, force)
		})
	}
	return g.Wait()
}

func (e *Engine) updateOne(ctx context.Context, list string, force bool) error {
	if !e.tryMarkInFlight(list) {
		e.logger.Debug("update: %s already in flight, yielding defaultRetry", list)
		return nil
	}
	defer e.unmarkInFlight(list)

	state := e.scratch.getList(list)
	if !force && !state.LastUpdate.IsZero() && time.Now().Before(state.LastUpdate.Add(state.Wait)) {
		return nil // not poll_due
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	err := e.runUpdate(ctx, list)
	e.metrics.ObserveUpdateDuration(list, time.Since(start))

	newState := e.scratch.getList(list)
	if err != nil {
		newState.Errors++
		newState.Wait = listBackoffWait(newState.Errors)
		newState.LastUpdate = time.Now()
		e.scratch.setList(list, newState)
		e.metrics.IncUpdate(list, "error")
		e.logger.Warn("update: %s failed: %v (backing off %s)", list, err, newState.Wait)
		return nil // errors are recoverable; never escape to the caller
	}

	e.metrics.IncUpdate(list, "ok")
	_ = e.scratch.save()
	return nil
}

func (e *Engine) tryMarkInFlight(list string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[list] {
		return false
	}
	e.inFlight[list] = true
	return true
}

func (e *Engine) unmarkInFlight(list string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, list)
}

// runUpdate executes BuildRequest..ApplyChunks for a single list once.
func (e *Engine) runUpdate(ctx context.Context, list string) error {
	body, err := e.buildRequestBody(ctx, list)
	if err != nil {
		return errors.Wrap(err, "update: building request")
	}

	endpoint := updateEndpoint(e.cfg.Server, e.cfg.Key, "api", libraryVersion, e.cfg.Version)
	respBody, err := e.http.postForm(ctx, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "update: posting downloads request")
	}

	wait := e.cfg.DefaultRetry
	if len(respBody) == 0 {
		e.scratch.setList(list, listState{LastUpdate: time.Now(), Wait: wait, Errors: 0})
		return nil
	}

	directives, err := parseUpdateHeader(string(respBody))
	if err != nil {
		return errors.Wrap(err, "update: parsing header")
	}

	for _, d := range directives {
		switch d.kind {
		case directiveWait:
			if secs, perr := parseUint(d.value); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
		case directiveReset:
			if err := e.store.Reset(ctx, list); err != nil {
				return errors.Wrap(err, "update: resetting list")
			}
			e.scratch.setList(list, listState{LastUpdate: time.Now(), Wait: 10 * time.Second, Errors: 0})
			return nil
		case directiveDeleteAdd:
			nums, perr := store.ParseChunkRange(d.value)
			if perr != nil {
				return errors.Wrap(perr, "update: parsing ad: range")
			}
			if err := e.batchDeleteAdd(ctx, list, nums); err != nil {
				return err
			}
		case directiveDeleteSub:
			nums, perr := store.ParseChunkRange(d.value)
			if perr != nil {
				return errors.Wrap(perr, "update: parsing sd: range")
			}
			if err := e.batchDeleteSub(ctx, list, nums); err != nil {
				return err
			}
		case directiveRedirect:
			if err := e.fetchAndApply(ctx, list, d.value); err != nil {
				return errors.Wrap(err, "update: applying redirect payload")
			}
		}
	}

	e.scratch.setList(list, listState{LastUpdate: time.Now(), Wait: wait, Errors: 0})
	return nil
}

func (e *Engine) batchDeleteAdd(ctx context.Context, list string, nums map[uint32]bool) error {
	batch := make([]uint32, 0, maxBulkDeleteBatch)
	for n := range nums {
		batch = append(batch, n)
		if len(batch) == maxBulkDeleteBatch {
			if err := e.store.DeleteAdd(ctx, list, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return e.store.DeleteAdd(ctx, list, batch)
	}
	return nil
}

func (e *Engine) batchDeleteSub(ctx context.Context, list string, nums map[uint32]bool) error {
	batch := make([]uint32, 0, maxBulkDeleteBatch)
	for n := range nums {
		batch = append(batch, n)
		if len(batch) == maxBulkDeleteBatch {
			if err := e.store.DeleteSub(ctx, list, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return e.store.DeleteSub(ctx, list, batch)
	}
	return nil
}

// fetchAndApply fetches a u: redirect payload and bulk-applies its
// chunks to the store in batches of at most maxBulkInsertBatch.
func (e *Engine) fetchAndApply(ctx context.Context, list, redirect string) error {
	data, err := e.http.getRedirect(ctx, redirect)
	if err != nil {
		return err
	}
	chunks, err := readBinaryChunks(strings.NewReader(string(data)))
	if err != nil {
		return err
	}

	var adds []store.AddChunk
	var subs []store.SubChunk
	for _, c := range chunks {
		switch c.Kind {
		case chunkKindAdd:
			for _, p := range c.Prefixes {
				adds = append(adds, store.AddChunk{List: list, ChunkNumber: c.ChunkNumber, Prefix: p})
			}
			if len(c.Prefixes) == 0 {
				adds = append(adds, store.AddChunk{List: list, ChunkNumber: c.ChunkNumber})
			}
		case chunkKindSub:
			for i, p := range c.Prefixes {
				subs = append(subs, store.SubChunk{List: list, ChunkNumber: c.ChunkNumber, AddNumber: c.AddNumbers[i], Prefix: p})
			}
			if len(c.Prefixes) == 0 {
				subs = append(subs, store.SubChunk{List: list, ChunkNumber: c.ChunkNumber})
			}
		default:
			return fmt.Errorf("update: %w: %d", ErrUnsupportedChunkType, c.Kind)
		}
	}

	for i := 0; i < len(adds); i += maxBulkInsertBatch {
		end := min(i+maxBulkInsertBatch, len(adds))
		if err := e.store.AddBulkAdd(ctx, adds[i:end]); err != nil {
			return err
		}
	}
	for i := 0; i < len(subs); i += maxBulkInsertBatch {
		end := min(i+maxBulkInsertBatch, len(subs))
		if err := e.store.AddBulkSub(ctx, subs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// buildRequestBody composes the "<list>;[a:aRange][:s:sRange]\n" body,
// truncating the trailing portion of whichever range would push the
// body past the 4096-byte cap.
func (e *Engine) buildRequestBody(ctx context.Context, list string) (string, error) {
	aRange, sRange, err := e.store.Ranges(ctx, list)
	if err != nil {
		return "", err
	}

	body := composeRequestLine(list, aRange, sRange)
	if len(body) <= maxUpdateRequestBody {
		return body, nil
	}

	overflow := len(body) - maxUpdateRequestBody
	if sRange != "" {
		sRange = truncateRangeTail(sRange, len(sRange)-overflow)
	} else if aRange != "" {
		aRange = truncateRangeTail(aRange, len(aRange)-overflow)
	}
	body = composeRequestLine(list, aRange, sRange)
	if len(body) > maxUpdateRequestBody {
		body = body[:maxUpdateRequestBody-1] + "\n"
	}
	return body, nil
}

// truncateRangeTail shrinks a comma-separated chunk-range string (as
// produced by store.BuildChunkRanges, so its segments are sorted and
// non-overlapping) to at most targetLen bytes by dropping whole trailing
// segments, never splitting one. Earlier segments are left untouched;
// whatever segment remains last is widened so its upper bound still
// reaches the original string's overall maximum, so the server still
// learns the highest chunk number the client holds even though the
// chunks between the retained segments and that maximum are no longer
// listed individually.
func truncateRangeTail(s string, targetLen int) string {
	segments := strings.Split(s, ",")
	maxID := rangeUpperBound(segments[len(segments)-1])

	for n := len(segments); n >= 1; n-- {
		widened := widenLastSegment(strings.Join(segments[:n], ","), maxID)
		if len(widened) <= targetLen || n == 1 {
			return widened
		}
	}
	return widenLastSegment(segments[0], maxID)
}

// widenLastSegment replaces kept's final segment's upper bound with
// maxID, preserving its lower bound and every earlier segment.
func widenLastSegment(kept, maxID string) string {
	prefix := ""
	last := kept
	if comma := strings.LastIndexByte(kept, ','); comma >= 0 {
		prefix, last = kept[:comma+1], kept[comma+1:]
	}
	lo := last
	if dash := strings.IndexByte(last, '-'); dash >= 0 {
		lo = last[:dash]
	}
	return prefix + lo + "-" + maxID
}

func rangeUpperBound(segment string) string {
	if dash := strings.IndexByte(segment, '-'); dash >= 0 {
		return segment[dash+1:]
	}
	return segment
}

func composeRequestLine(list, aRange, sRange string) string {
	var b strings.Builder
	b.WriteString(list)
	b.WriteByte(';')
	if aRange != "" {
		b.WriteString("a:")
		b.WriteString(aRange)
	}
	if sRange != "" {
		if aRange != "" {
			b.WriteByte(':')
		}
		b.WriteString("s:")
		b.WriteString(sRange)
	}
	b.WriteByte('\n')
	return b.String()
}
