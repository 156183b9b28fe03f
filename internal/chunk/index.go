// Package chunk implements the availability index and store-and-forward
// cache for small encrypted content units. Its core optimization is the
// multicast pull: the first waiter triggers one upload from a source and
// every waiter registered before the push shares the result.
package chunk

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
)

// ServerCacheID marks source entries owned by the coordinator's own
// cache rather than a peer.
const ServerCacheID = "__server_cache__"

// Connectivity lets the index check whether a claimed source is still
// attached. The dispatch core's connection table implements it.
type Connectivity interface {
	IsConnected(peerID string) bool
}

// ConnectivityFunc adapts a function to the Connectivity interface.
type ConnectivityFunc func(peerID string) bool

func (f ConnectivityFunc) IsConnected(peerID string) bool { return f(peerID) }

// SourceEntry asserts that a peer claims to hold a chunk.
type SourceEntry struct {
	PeerID       string
	RoutingHash  string
	IsCache      bool
	RegisteredAt time.Time
	Expires      time.Time
}

// Outcome of a chunk request.
type Outcome int

const (
	// OutcomeCached: payload served directly from the cache.
	OutcomeCached Outcome = iota
	// OutcomeNotFound: no live connected source; requester parked as
	// pending in case the chunk is announced later.
	OutcomeNotFound
	// OutcomePullDispatched: first waiter; a pull must go to PullTarget.
	OutcomePullDispatched
	// OutcomePending: a pull is already in flight; requester joined the
	// waiter set and gets the payload on push.
	OutcomePending
)

// RequestResult carries the outcome plus the data the dispatch core
// needs to act on it.
type RequestResult struct {
	Outcome    Outcome
	Payload    json.RawMessage // OutcomeCached only
	PullTarget string          // OutcomePullDispatched only
}

// Stats summarizes the index for observability.
type Stats struct {
	Chunks  int          `json:"chunks"`
	Sources int          `json:"sources"`
	Pending int          `json:"pending"`
	Cache   CacheMetrics `json:"cache"`
}

// Options configure an Index.
type Options struct {
	SourceTTL  time.Duration
	PendingTTL time.Duration
	CacheTTL   time.Duration
	CacheCap   int
	// Rand drives source selection for pulls. Nil seeds from the wall
	// clock.
	Rand *rand.Rand
}

// Index owns the three chunk maps: sources, cache and pending waiters.
type Index struct {
	mu sync.Mutex

	// chunk id -> peer id -> source entry
	sources map[string]map[string]*SourceEntry
	// chunk id -> peer id -> requested at
	pending map[string]map[string]time.Time
	cache   *Cache

	sourceTTL  time.Duration
	pendingTTL time.Duration

	connectivity Connectivity
	rng          *rand.Rand
	clock        clock.Clock
	logger       *slog.Logger
}

// NewIndex creates a chunk index.
func NewIndex(opts Options, connectivity Connectivity, clk clock.Clock, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Index{
		sources:      make(map[string]map[string]*SourceEntry),
		pending:      make(map[string]map[string]time.Time),
		cache:        NewCache(opts.CacheCap, opts.CacheTTL, clk),
		sourceTTL:    opts.SourceTTL,
		pendingTTL:   opts.PendingTTL,
		connectivity: connectivity,
		rng:          rng,
		clock:        clk,
		logger:       logger.With("component", "chunk_index"),
	}
}

// Announce upserts one source entry per chunk and returns the number
// registered plus the chunks the announcer should upload immediately:
// those with parked waiters and no cached copy.
func (x *Index) Announce(peerID string, chunks []protocol.ChunkRef) (registered int, pulls []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.Now()
	for _, ref := range chunks {
		bucket := x.sources[ref.ChunkID]
		if bucket == nil {
			bucket = make(map[string]*SourceEntry)
			x.sources[ref.ChunkID] = bucket
		}
		bucket[peerID] = &SourceEntry{
			PeerID:       peerID,
			RoutingHash:  ref.RoutingHash,
			IsCache:      false,
			RegisteredAt: now,
			Expires:      now.Add(x.sourceTTL),
		}
		registered++

		if x.livePending(ref.ChunkID, now) > 0 && !x.cache.Contains(ref.ChunkID) {
			pulls = append(pulls, ref.ChunkID)
		}
	}
	return registered, pulls
}

// Request resolves a chunk for the requester: cache first, then live
// connected sources, parking the requester as a waiter when an upload is
// needed. At most one pull is ever outstanding per chunk.
func (x *Index) Request(requesterID, chunkID string) RequestResult {
	x.mu.Lock()
	defer x.mu.Unlock()

	if payload, ok := x.cache.Get(chunkID); ok {
		return RequestResult{Outcome: OutcomeCached, Payload: payload}
	}

	now := x.clock.Now()
	live := x.liveSources(chunkID, now)

	if len(live) == 0 {
		x.addPending(requesterID, chunkID, now)
		return RequestResult{Outcome: OutcomeNotFound}
	}

	hadWaiters := x.livePending(chunkID, now) > 0
	x.addPending(requesterID, chunkID, now)
	if hadWaiters {
		return RequestResult{Outcome: OutcomePending}
	}

	target := live[x.rng.Intn(len(live))]
	return RequestResult{Outcome: OutcomePullDispatched, PullTarget: target}
}

// Push inserts the uploaded payload into the cache, records the
// coordinator itself as a cache source, and drains the waiter set. The
// returned peer ids are every waiter parked at the moment of the push
// whose wait has not passed the pending TTL; older waiters are dropped
// without being returned. The caller fans the payload out to the ones
// still connected. The
// drain is atomic with the insertion: no request dispatched after this
// returns can both see the cache and miss the fan-out.
func (x *Index) Push(sourceID, chunkID string, payload json.RawMessage) (waiters []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.Now()
	x.cache.Put(chunkID, payload)

	bucket := x.sources[chunkID]
	if bucket == nil {
		bucket = make(map[string]*SourceEntry)
		x.sources[chunkID] = bucket
	}
	bucket[ServerCacheID] = &SourceEntry{
		PeerID:       ServerCacheID,
		IsCache:      true,
		RegisteredAt: now,
		Expires:      now.Add(x.sourceTTL),
	}

	for peerID, requestedAt := range x.pending[chunkID] {
		if now.Sub(requestedAt) < x.pendingTTL {
			waiters = append(waiters, peerID)
		}
	}
	delete(x.pending, chunkID)
	return waiters
}

// UnregisterPeer removes every source entry and pending request for the
// peer. Empty chunk keys disappear with it.
func (x *Index) UnregisterPeer(peerID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for chunkID, bucket := range x.sources {
		delete(bucket, peerID)
		if len(bucket) == 0 {
			delete(x.sources, chunkID)
		}
	}
	for chunkID, bucket := range x.pending {
		delete(bucket, peerID)
		if len(bucket) == 0 {
			delete(x.pending, chunkID)
		}
	}
}

// Cleanup sweeps all three maps. Pending requests older than the pending
// TTL are discarded; their requesters hear nothing further.
func (x *Index) Cleanup() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.Now()
	removed := 0

	for chunkID, bucket := range x.sources {
		for peerID, entry := range bucket {
			if !now.Before(entry.Expires) {
				delete(bucket, peerID)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(x.sources, chunkID)
		}
	}

	for chunkID, bucket := range x.pending {
		for peerID, requestedAt := range bucket {
			if now.Sub(requestedAt) >= x.pendingTTL {
				delete(bucket, peerID)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(x.pending, chunkID)
		}
	}

	removed += x.cache.Cleanup()
	if removed > 0 {
		x.logger.Debug("swept chunk index", "removed", removed)
	}
	return removed
}

// Stats reports index occupancy.
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := Stats{Chunks: len(x.sources), Cache: x.cache.Metrics()}
	for _, bucket := range x.sources {
		stats.Sources += len(bucket)
	}
	for _, bucket := range x.pending {
		stats.Pending += len(bucket)
	}
	return stats
}

// CacheMetricsSnapshot exposes the cache counters for the node gauges.
func (x *Index) CacheMetricsSnapshot() CacheMetrics {
	return x.cache.Metrics()
}

// liveSources returns connected, unexpired, non-cache source peers.
func (x *Index) liveSources(chunkID string, now time.Time) []string {
	var live []string
	for peerID, entry := range x.sources[chunkID] {
		if entry.IsCache || peerID == ServerCacheID {
			continue
		}
		if !now.Before(entry.Expires) {
			continue
		}
		if x.connectivity != nil && !x.connectivity.IsConnected(peerID) {
			continue
		}
		live = append(live, peerID)
	}
	return live
}

func (x *Index) livePending(chunkID string, now time.Time) int {
	n := 0
	for _, requestedAt := range x.pending[chunkID] {
		if now.Sub(requestedAt) < x.pendingTTL {
			n++
		}
	}
	return n
}

func (x *Index) addPending(peerID, chunkID string, now time.Time) {
	bucket := x.pending[chunkID]
	if bucket == nil {
		bucket = make(map[string]time.Time)
		x.pending[chunkID] = bucket
	}
	// Re-requests refresh the waiter's park time.
	bucket[peerID] = now
}
