// Package relay tracks peers advertising spare capacity to carry other
// peers' traffic and answers load-balanced selection queries.
package relay

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
)

// Offer is one peer's standing offer to relay traffic.
type Offer struct {
	PeerID         string
	MaxConnections int
	ConnectedCount int
	PublicKey      string
	RegisteredAt   time.Time
	LastUpdate     time.Time
}

// Stats summarizes the registry for observability.
type Stats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// Options configure a Registry.
type Options struct {
	// TTL evicts offers whose LastUpdate is older than this.
	TTL time.Duration
	// LoadThreshold marks an offer unavailable once
	// connected/max >= threshold. The comparison is strict: a relay
	// sitting exactly at the threshold is not selectable.
	LoadThreshold float64
	// Rand drives the selection shuffle. Nil seeds from the wall clock.
	Rand *rand.Rand
}

// Registry is the relay offer index. All methods are safe for concurrent
// use, though the dispatch core serializes access anyway.
type Registry struct {
	mu     sync.Mutex
	offers map[string]*Offer

	ttl       time.Duration
	threshold float64
	rng       *rand.Rand
	clock     clock.Clock
	logger    *slog.Logger
}

// NewRegistry creates a relay registry.
func NewRegistry(opts Options, clk clock.Clock, logger *slog.Logger) *Registry {
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
	if opts.LoadThreshold == 0 {
		opts.LoadThreshold = 0.5
	}
	return &Registry{
		offers:    make(map[string]*Offer),
		ttl:       opts.TTL,
		threshold: opts.LoadThreshold,
		rng:       rng,
		clock:     clk,
		logger:    logger.With("component", "relay_registry"),
	}
}

// Register upserts an offer. Re-registration preserves the current load
// and the original registration time; only capacity, key and freshness
// are replaced.
func (r *Registry) Register(peerID string, maxConnections int, publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxConnections <= 0 {
		maxConnections = protocol.DefaultMaxConnections
	}

	now := r.clock.Now()
	if offer, ok := r.offers[peerID]; ok {
		offer.MaxConnections = maxConnections
		offer.PublicKey = publicKey
		offer.LastUpdate = now
		return
	}

	r.offers[peerID] = &Offer{
		PeerID:         peerID,
		MaxConnections: maxConnections,
		PublicKey:      publicKey,
		RegisteredAt:   now,
		LastUpdate:     now,
	}
}

// UpdateLoad replaces the offer's connection count. Unknown peers are a
// no-op.
func (r *Registry) UpdateLoad(peerID string, connectedCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offer, ok := r.offers[peerID]
	if !ok {
		return
	}
	offer.ConnectedCount = connectedCount
	offer.LastUpdate = r.clock.Now()
}

// Touch refreshes the offer's freshness without changing load.
func (r *Registry) Touch(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offer, ok := r.offers[peerID]; ok {
		offer.LastUpdate = r.clock.Now()
	}
}

// Unregister drops the offer. Idempotent.
func (r *Registry) Unregister(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.offers, peerID)
}

// AvailableRelays returns up to count live offers below the load
// threshold, excluding the requester, shuffled uniformly before
// truncation so clients do not stampede the least-loaded relay.
func (r *Registry) AvailableRelays(excludePeerID string, count int) []protocol.RelayInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count <= 0 {
		count = protocol.DefaultRelayCount
	}

	now := r.clock.Now()
	candidates := make([]protocol.RelayInfo, 0, len(r.offers))
	for _, offer := range r.offers {
		if offer.PeerID == excludePeerID {
			continue
		}
		if r.expired(offer, now) || !r.available(offer) {
			continue
		}
		candidates = append(candidates, protocol.RelayInfo{
			PeerID:         offer.PeerID,
			PublicKey:      offer.PublicKey,
			MaxConnections: offer.MaxConnections,
			ConnectedCount: offer.ConnectedCount,
		})
	}

	r.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Stats reports offer totals. Expired offers still count toward Total
// until the next sweep.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	stats := Stats{Total: len(r.offers)}
	for _, offer := range r.offers {
		if !r.expired(offer, now) && r.available(offer) {
			stats.Available++
		}
	}
	return stats
}

// Cleanup sweeps expired offers and returns how many were removed.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for id, offer := range r.offers {
		if r.expired(offer, now) {
			delete(r.offers, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("swept expired relay offers", "removed", removed)
	}
	return removed
}

func (r *Registry) expired(offer *Offer, now time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	return !now.Before(offer.LastUpdate.Add(r.ttl))
}

func (r *Registry) available(offer *Offer) bool {
	if offer.MaxConnections <= 0 {
		return false
	}
	return float64(offer.ConnectedCount)/float64(offer.MaxConnections) < r.threshold
}
