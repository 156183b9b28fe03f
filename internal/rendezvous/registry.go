// Package rendezvous is the time-bucketed meeting-point index. Peers
// sharing a secret derive colliding opaque hashes out of band; the
// registry only stores the hashes, opaque dead drops, and relay hints —
// it never learns the secret.
package rendezvous

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
)

// Notifier delivers asynchronous match events. The dispatch core owns
// the implementation that resolves the target peer's send-handle.
type Notifier interface {
	NotifyMatch(peerID string, match protocol.Match)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(peerID string, match protocol.Match)

func (f NotifierFunc) NotifyMatch(peerID string, match protocol.Match) { f(peerID, match) }

type entry struct {
	peerID       string
	relayID      string
	deadDrop     json.RawMessage // daily points only
	registeredAt time.Time
	expires      time.Time
}

// Stats summarizes bucket occupancy for observability.
type Stats struct {
	DailyPoints   int `json:"dailyPoints"`
	DailyEntries  int `json:"dailyEntries"`
	HourlyTokens  int `json:"hourlyTokens"`
	HourlyEntries int `json:"hourlyEntries"`
}

// Options configure a Registry.
type Options struct {
	DailyTTL  time.Duration
	HourlyTTL time.Duration
}

// Registry holds the daily and hourly buckets.
type Registry struct {
	mu sync.Mutex

	// bucket hash -> peer id -> entry
	daily  map[string]map[string]*entry
	hourly map[string]map[string]*entry

	dailyTTL  time.Duration
	hourlyTTL time.Duration

	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRegistry creates a rendezvous registry. The notifier may be nil
// for deployments that never push match events.
func NewRegistry(opts Options, notifier Notifier, clk clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		daily:     make(map[string]map[string]*entry),
		hourly:    make(map[string]map[string]*entry),
		dailyTTL:  opts.DailyTTL,
		hourlyTTL: opts.HourlyTTL,
		notifier:  notifier,
		clock:     clk,
		logger:    logger.With("component", "rendezvous_registry"),
	}
}

// RegisterDailyPoints returns the non-expired dead drops other peers left
// at each point, then upserts the caller's own entry. The caller never
// sees its own drop.
func (r *Registry) RegisterDailyPoints(peerID string, points []string, deadDrop json.RawMessage, relayID string) []protocol.DeadDrop {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	drops := make([]protocol.DeadDrop, 0)

	for _, point := range points {
		bucket := r.daily[point]
		if bucket == nil {
			bucket = make(map[string]*entry)
			r.daily[point] = bucket
		}

		for _, e := range bucket {
			if e.peerID == peerID || expired(e, now) || len(e.deadDrop) == 0 {
				continue
			}
			drops = append(drops, protocol.DeadDrop{
				PeerID:   e.peerID,
				DeadDrop: e.deadDrop,
				RelayID:  e.relayID,
			})
		}

		bucket[peerID] = &entry{
			peerID:       peerID,
			relayID:      relayID,
			deadDrop:     deadDrop,
			registeredAt: now,
			expires:      now.Add(r.dailyTTL),
		}
	}

	return drops
}

// RegisterHourlyTokens returns other live entries at each token, upserts
// the caller's entry, and notifies every previously registered peer that
// a new arrival shares its token. Matching is bidirectional: the caller
// gets the result list, the prior holders get the notification.
func (r *Registry) RegisterHourlyTokens(peerID string, tokens []string, relayID string) []protocol.Match {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	matches := make([]protocol.Match, 0)
	arrival := protocol.Match{PeerID: peerID, RelayID: relayID}

	for _, token := range tokens {
		bucket := r.hourly[token]
		if bucket == nil {
			bucket = make(map[string]*entry)
			r.hourly[token] = bucket
		}

		for _, e := range bucket {
			if e.peerID == peerID || expired(e, now) {
				continue
			}
			matches = append(matches, protocol.Match{PeerID: e.peerID, RelayID: e.relayID})
			if r.notifier != nil {
				r.notifier.NotifyMatch(e.peerID, arrival)
			}
		}

		bucket[peerID] = &entry{
			peerID:       peerID,
			relayID:      relayID,
			registeredAt: now,
			expires:      now.Add(r.hourlyTTL),
		}
	}

	return matches
}

// UnregisterPeer scrubs every daily and hourly entry for the peer.
func (r *Registry) UnregisterPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scrub(r.daily, peerID)
	scrub(r.hourly, peerID)
}

// Cleanup sweeps expired entries and drops empty buckets. Returns the
// number of entries removed.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := sweep(r.daily, now) + sweep(r.hourly, now)
	if removed > 0 {
		r.logger.Debug("swept expired rendezvous entries", "removed", removed)
	}
	return removed
}

// Stats reports bucket occupancy, counting only live entries.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	stats := Stats{}
	stats.DailyPoints, stats.DailyEntries = tally(r.daily, now)
	stats.HourlyTokens, stats.HourlyEntries = tally(r.hourly, now)
	return stats
}

func expired(e *entry, now time.Time) bool {
	return !now.Before(e.expires)
}

func scrub(buckets map[string]map[string]*entry, peerID string) {
	for key, bucket := range buckets {
		delete(bucket, peerID)
		if len(bucket) == 0 {
			delete(buckets, key)
		}
	}
}

func sweep(buckets map[string]map[string]*entry, now time.Time) int {
	removed := 0
	for key, bucket := range buckets {
		for id, e := range bucket {
			if expired(e, now) {
				delete(bucket, id)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(buckets, key)
		}
	}
	return removed
}

func tally(buckets map[string]map[string]*entry, now time.Time) (keys, entries int) {
	for _, bucket := range buckets {
		live := 0
		for _, e := range bucket {
			if !expired(e, now) {
				live++
			}
		}
		if live > 0 {
			keys++
			entries += live
		}
	}
	return keys, entries
}
