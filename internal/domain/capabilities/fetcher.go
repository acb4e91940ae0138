package capabilities

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrFetcherClosed is returned by blocking calls on a closed Fetcher.
var ErrFetcherClosed = errors.New("capabilities fetcher is closed")

// prefetchParallelism bounds concurrent Fetch calls issued by Prefetch.
const prefetchParallelism = 8

// Callback receives the outcome of FetchAvailability. success reports whether
// availability is now known for the origin, not whether the origin supports anything.
type Callback func(success bool)

// Options configures a Fetcher. Zero values select the package defaults.
type Options struct {
	MaxSize          int
	Lifetime         time.Duration
	HashPrefixLength uint32
	Intent           string
	Clock            Clock
	Logger           *zap.Logger
	Recorder         Recorder
}

// Fetcher answers capability queries from a Cache and coalesces concurrent
// lookups for the same origin into a single call to the Service.
//
// Per origin the fetcher is in one of three states: unknown (neither cached
// nor pending), pending (one lookup in flight, one or more waiting callbacks)
// or resolved (cached). Failed lookups return the origin to unknown.
type Fetcher struct {
	service          Service
	hashPrefixLength uint32
	intent           string
	logger           *zap.Logger
	recorder         Recorder

	mu      sync.Mutex
	cache   *Cache
	pending map[Origin][]Callback
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFetcher creates a fetcher backed by service.
func NewFetcher(service Service, opts Options) (*Fetcher, error) {
	if service == nil {
		return nil, fmt.Errorf("capabilities service is required")
	}
	if opts.HashPrefixLength == 0 {
		opts.HashPrefixLength = DefaultHashPrefixLength
	}
	if opts.HashPrefixLength > 64 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHashPrefixLength, opts.HashPrefixLength)
	}
	if opts.Intent == "" {
		opts.Intent = DefaultIntent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		service:          service,
		hashPrefixLength: opts.HashPrefixLength,
		intent:           opts.Intent,
		logger:           opts.Logger.Named("capabilities"),
		recorder:         opts.Recorder,
		cache:            NewCache(opts.MaxSize, opts.Lifetime, opts.Clock),
		pending:          make(map[Origin][]Callback),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// FetchAvailability makes sure availability for origin is known and then runs
// callback. A cached origin completes immediately. Otherwise callback joins the
// waiters of the lookup already in flight for origin, or a new lookup is issued.
//
// Waiters run in registration order on the goroutine that completes the lookup.
func (f *Fetcher) FetchAvailability(origin Origin, callback Callback) {
	if origin.IsZero() {
		callback(false)
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		callback(false)
		return
	}
	if f.cache.ContainsOrigin(origin) {
		f.mu.Unlock()
		f.recorder.RecordCacheHit()
		callback(true)
		return
	}
	if waiters, ok := f.pending[origin]; ok {
		f.pending[origin] = append(waiters, callback)
		f.mu.Unlock()
		f.recorder.RecordCoalesced()
		return
	}

	prefix, err := HashPrefix(origin, f.hashPrefixLength)
	if err != nil {
		f.mu.Unlock()
		f.logger.Error("Failed to compute hash prefix", zap.Stringer("origin", origin), zap.Error(err))
		callback(false)
		return
	}
	f.pending[origin] = []Callback{callback}
	f.wg.Add(1)
	f.mu.Unlock()

	go f.lookup(origin, prefix)
}

// lookup runs on its own goroutine. It leaves the WaitGroup before notifying
// waiters so a waiter may close the fetcher.
func (f *Fetcher) lookup(origin Origin, prefix uint64) {
	start := time.Now()
	resp, err := f.service.GetCapabilitiesByHashPrefix(f.ctx, LookupRequest{
		HashPrefixLength: f.hashPrefixLength,
		HashPrefixes:     []uint64{prefix},
		Intent:           f.intent,
	})
	if err != nil {
		f.logger.Warn("Capabilities lookup failed",
			zap.Stringer("origin", origin),
			zap.Error(err),
		)
		resp = LookupResponse{}
	}
	f.recorder.RecordLookup(resp.StatusCode, time.Since(start))

	waiters, success, ok := f.resolve(origin, resp.StatusCode, resp.Capabilities)
	f.wg.Done()
	if ok {
		f.notify(origin, resp.StatusCode, waiters, success)
	}
}

// OnGetCapabilitiesInformationReceived completes the lookup pending for origin.
// On an OK status the matching record (or an empty result when none matches)
// is cached before every waiter is told the lookup succeeded. Any other status
// leaves the cache untouched and fails every waiter.
func (f *Fetcher) OnGetCapabilitiesInformationReceived(origin Origin, statusCode int, infos []Info) {
	if waiters, success, ok := f.resolve(origin, statusCode, infos); ok {
		f.notify(origin, statusCode, waiters, success)
	}
}

// resolve removes the pending entry for origin and caches the result of an OK
// lookup, both under the lock. ok is false when nothing was pending.
func (f *Fetcher) resolve(origin Origin, statusCode int, infos []Info) (waiters []Callback, success, ok bool) {
	f.mu.Lock()
	waiters, ok = f.pending[origin]
	if !ok {
		f.mu.Unlock()
		f.logger.Error("Received capabilities for origin without a pending request",
			zap.Stringer("origin", origin),
			zap.Int("status", statusCode),
		)
		f.recorder.RecordProtocolViolation()
		return nil, false, false
	}
	delete(f.pending, origin)

	success = statusCode == http.StatusOK
	if success {
		f.cache.AddToCache(origin, resultFor(origin, infos))
	}
	f.mu.Unlock()
	return waiters, success, true
}

func (f *Fetcher) notify(origin Origin, statusCode int, waiters []Callback, success bool) {
	f.logger.Debug("Capabilities lookup completed",
		zap.Stringer("origin", origin),
		zap.Int("status", statusCode),
		zap.Int("waiters", len(waiters)),
	)
	for _, cb := range waiters {
		cb(success)
	}
}

// resultFor picks the record whose URL has exactly origin as its origin.
// Hash prefix collisions bring back records for unrelated origins; those are ignored.
func resultFor(origin Origin, infos []Info) Result {
	for _, info := range infos {
		candidate, err := ParseOrigin(info.URL)
		if err != nil || candidate != origin {
			continue
		}
		if info.Bundle == nil {
			break
		}
		return NewResult(info.Bundle.TriggerFormSignatures, info.Bundle.SupportsConsentlessExecution)
	}
	return NewResult(nil, false)
}

// IsTriggerFormSupported reports whether sig may trigger fast checkout on origin.
// It never issues a lookup: origins that were not fetched, are still being
// fetched or failed to fetch all report false.
func (f *Fetcher) IsTriggerFormSupported(origin Origin, sig FormSignature) bool {
	f.mu.Lock()
	supported := f.cache.ContainsTriggerForm(origin, sig)
	var state CacheState
	switch {
	case supported:
		state = CacheStateFormSupported
	case f.pending[origin] != nil:
		state = CacheStateFetchOngoing
	case f.cache.ContainsOrigin(origin):
		state = CacheStateFormNotSupported
	default:
		state = CacheStateNeverFetched
	}
	f.mu.Unlock()

	f.recorder.RecordCacheState(state)
	return supported
}

// SupportsConsentlessExecution reports the cached consentless flag for origin.
func (f *Fetcher) SupportsConsentlessExecution(origin Origin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.SupportsConsentlessExecution(origin)
}

// Cached returns the cached result for origin, if any.
func (f *Fetcher) Cached(origin Origin) (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Get(origin)
}

// Fetch is a blocking form of FetchAvailability. ctx bounds only the wait;
// the shared lookup keeps running for the other waiters.
func (f *Fetcher) Fetch(ctx context.Context, origin Origin) (bool, error) {
	if f.Closed() {
		return false, ErrFetcherClosed
	}

	done := make(chan bool, 1)
	f.FetchAvailability(origin, func(success bool) {
		done <- success
	})

	select {
	case success := <-done:
		return success, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Prefetch fetches availability for every origin concurrently.
func (f *Fetcher) Prefetch(ctx context.Context, origins []Origin) (map[Origin]bool, error) {
	results := make(map[Origin]bool, len(origins))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchParallelism)
	for _, origin := range origins {
		origin := origin
		g.Go(func() error {
			success, err := f.Fetch(gCtx, origin)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", origin, err)
			}
			mu.Lock()
			results[origin] = success
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Stats is a point-in-time view of the fetcher.
type Stats struct {
	CachedOrigins  int
	PendingOrigins int
	Closed         bool
}

// Stats returns the number of cached and pending origins.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.RemoveStaleEntries()
	return Stats{
		CachedOrigins:  f.cache.Len(),
		PendingOrigins: len(f.pending),
		Closed:         f.closed,
	}
}

// Closed reports whether Close has been called.
func (f *Fetcher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close cancels in-flight lookups and waits until each has resolved its
// pending entry. Waiters are notified by the lookup goroutine, possibly after
// Close returns, and may themselves call Close. Later calls to
// FetchAvailability complete immediately with false.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
}
