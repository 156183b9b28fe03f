// Package hub is the dispatch core: it demultiplexes inbound framed
// requests into registry operations and marshals outbound frames to the
// connection table. Dispatch is a single-writer event loop — a coarse
// mutex serializes frame handling, disconnect cleanup and maintenance,
// because operations routinely touch several registries at once.
package hub

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/chunk"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/config"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/logging"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/metrics"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/relay"
	"github.com/Hamza-Labs-Core/zajel-sub013/internal/rendezvous"
)

// Sender is the opaque send-handle for one connected peer. It is only
// ever used to push outbound frames.
type Sender interface {
	Send(frame any) error
	Close() error
}

// Session is one attached connection. It has no peer identity until the
// first register frame binds one.
type Session struct {
	id     string
	peerID string
	sender Sender
}

// PeerID returns the bound peer id, empty before registration.
func (s *Session) PeerID() string { return s.peerID }

// Options configure a Hub.
type Options struct {
	Config  *config.Config
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Node
	// Rand drives relay selection and chunk source picks. Nil seeds
	// from the wall clock.
	Rand *rand.Rand
}

// Hub owns the registries and the connection table.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Session // peer id -> bound session

	relays     *relay.Registry
	rendezvous *rendezvous.Registry
	chunks     *chunk.Index // nil when chunk support is not provisioned

	cfg     *config.Config
	clock   clock.Clock
	logger  *slog.Logger
	mask    logging.Masker
	metrics *metrics.Node

	// cacheEvictions is the eviction count already exported, so each
	// tick only adds the delta.
	cacheEvictions uint64
}

// New builds a hub and its registries from the configuration.
func New(opts Options) *Hub {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	node := opts.Metrics
	if node == nil {
		node = metrics.NewNode(prometheus.NewRegistry())
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	h := &Hub{
		conns:   make(map[string]*Session),
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "hub"),
		mask:    logging.NewMasker(cfg.Production()),
		metrics: node,
	}

	h.relays = relay.NewRegistry(relay.Options{
		TTL:           cfg.RelayTTL,
		LoadThreshold: cfg.RelayLoadThreshold,
		Rand:          rng,
	}, clk, logger)

	h.rendezvous = rendezvous.NewRegistry(rendezvous.Options{
		DailyTTL:  cfg.DailyTTL,
		HourlyTTL: cfg.HourlyTTL,
	}, rendezvous.NotifierFunc(h.notifyMatch), clk, logger)

	if cfg.ChunksEnabled {
		h.chunks = chunk.NewIndex(chunk.Options{
			SourceTTL:  cfg.SourceTTL,
			PendingTTL: cfg.PendingTTL,
			CacheTTL:   cfg.CacheTTL,
			CacheCap:   cfg.ChunkCacheCapacity,
			Rand:       rng,
		}, chunk.ConnectivityFunc(h.isConnectedLocked), clk, logger)
	}

	return h
}

// Attach admits a new connection. The session stays unbound until its
// first register frame.
func (h *Hub) Attach(sender Sender) *Session {
	return &Session{id: uuid.NewString(), sender: sender}
}

// HandleFrame decodes and dispatches one inbound frame. Decode and
// validation errors are answered with an error frame; the connection
// stays open so clients can recover.
func (h *Hub) HandleFrame(s *Session, raw []byte) {
	req, ferr := protocol.DecodeRequest(raw)
	if ferr != nil {
		h.logger.Debug("rejected inbound frame", "conn", s.id, "code", ferr.Code)
		h.send(s, protocol.ErrorFrameFor(ferr))
		return
	}

	h.metrics.FramesIn.WithLabelValues(req.RequestType()).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	switch r := req.(type) {
	case *protocol.Register:
		h.handleRegister(s, r)
	case *protocol.UpdateLoad:
		h.relays.UpdateLoad(r.PeerID, r.ConnectedCount)
		h.send(s, protocol.NewLoadUpdated())
	case *protocol.RegisterRendezvous:
		h.handleRendezvous(s, r)
	case *protocol.GetRelays:
		h.send(s, protocol.NewRelays(h.relays.AvailableRelays(r.PeerID, r.Count)))
	case *protocol.Heartbeat:
		h.relays.Touch(r.PeerID)
		h.send(s, protocol.NewHeartbeatAck(h.clock.Now().UnixMilli()))
	case *protocol.Ping:
		h.send(s, protocol.NewPong())
	case *protocol.ChunkAnnounce:
		h.handleChunkAnnounce(s, r)
	case *protocol.ChunkRequest:
		h.handleChunkRequest(s, r)
	case *protocol.ChunkPush:
		h.handleChunkPush(s, r)
	default:
		h.send(s, protocol.ErrorFrameFor(protocol.ErrUnknownType(req.RequestType())))
	}
}

// Disconnect removes the session's peer from every registry, in order:
// relay, rendezvous, chunk index, connection table. Cleanup is
// synchronous under the dispatch lock — no other peer's frame
// interleaves with it.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.peerID == "" {
		return
	}
	// A reconnect may have rebound the peer id to a newer session;
	// only the current owner scrubs.
	if h.conns[s.peerID] != s {
		return
	}

	h.relays.Unregister(s.peerID)
	h.rendezvous.UnregisterPeer(s.peerID)
	if h.chunks != nil {
		h.chunks.UnregisterPeer(s.peerID)
	}
	delete(h.conns, s.peerID)
	h.metrics.ConnectedPeers.Dec()
	h.logger.Info("peer disconnected", "peer", h.mask(s.peerID))
}

// Maintain runs the periodic sweep until stop is closed. A failing tick
// is logged; the next one proceeds.
func (h *Hub) Maintain(stop <-chan struct{}) {
	ticker := h.clock.Ticker(h.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Hub) tick() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("maintenance tick failed", "panic", r)
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := h.relays.Cleanup() + h.rendezvous.Cleanup()
	if h.chunks != nil {
		removed += h.chunks.Cleanup()
		snapshot := h.chunks.CacheMetricsSnapshot()
		h.metrics.ChunkCacheSize.Set(float64(snapshot.Size))
		if delta := snapshot.Evictions - h.cacheEvictions; delta > 0 {
			h.metrics.ChunkCacheEvictions.Add(float64(delta))
			h.cacheEvictions = snapshot.Evictions
		}
	}
	if removed > 0 {
		h.logger.Debug("maintenance sweep", "removed", removed)
	}
}

// Stats aggregates registry stats for the health endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := map[string]any{
		"connectedPeers": len(h.conns),
		"relays":         h.relays.Stats(),
		"rendezvous":     h.rendezvous.Stats(),
	}
	if h.chunks != nil {
		stats["chunks"] = h.chunks.Stats()
	}
	return stats
}

func (h *Hub) handleRegister(s *Session, r *protocol.Register) {
	if s.peerID != "" && s.peerID != r.PeerID {
		h.send(s, protocol.NewErrorFrame("Connection already registered"))
		return
	}

	if s.peerID == "" {
		s.peerID = r.PeerID
		h.metrics.ConnectedPeers.Inc()
	}
	if prev, ok := h.conns[r.PeerID]; ok && prev != s {
		// A newer connection for the same peer wins; the old handle is
		// closed and its eventual disconnect becomes a no-op.
		_ = prev.sender.Close()
		h.metrics.ConnectedPeers.Dec()
	}
	h.conns[r.PeerID] = s

	h.relays.Register(r.PeerID, r.MaxConnections, r.PublicKey)
	h.logger.Info("peer registered", "peer", h.mask(r.PeerID))

	relays := h.relays.AvailableRelays(r.PeerID, protocol.DefaultRelayCount)
	h.send(s, protocol.NewRegistered(r.PeerID, relays))
}

func (h *Hub) handleRendezvous(s *Session, r *protocol.RegisterRendezvous) {
	drops := h.rendezvous.RegisterDailyPoints(r.PeerID, r.DailyPoints, r.DeadDrop, r.RelayID)
	matches := h.rendezvous.RegisterHourlyTokens(r.PeerID, r.HourlyTokens, r.RelayID)
	h.send(s, protocol.NewRendezvousResult(matches, drops))
}

func (h *Hub) handleChunkAnnounce(s *Session, r *protocol.ChunkAnnounce) {
	if h.chunks == nil {
		h.send(s, protocol.ErrorFrameFor(protocol.ErrUnavailable("chunk index")))
		return
	}

	registered, pulls := h.chunks.Announce(r.PeerID, r.Chunks)
	h.send(s, protocol.NewChunkAnnounceAck(registered))
	for _, chunkID := range pulls {
		h.metrics.ChunkPulls.Inc()
		h.send(s, protocol.NewChunkPull(chunkID))
	}
}

func (h *Hub) handleChunkRequest(s *Session, r *protocol.ChunkRequest) {
	if h.chunks == nil {
		h.send(s, protocol.ErrorFrameFor(protocol.ErrUnavailable("chunk index")))
		return
	}

	res := h.chunks.Request(r.PeerID, r.ChunkID)
	switch res.Outcome {
	case chunk.OutcomeCached:
		h.metrics.ChunkCacheHits.Inc()
		h.send(s, protocol.NewChunkData(r.ChunkID, res.Payload, protocol.SourceCache))
	case chunk.OutcomeNotFound:
		h.send(s, protocol.NewChunkNotFound(r.ChunkID))
	case chunk.OutcomePullDispatched:
		h.metrics.ChunkPulls.Inc()
		h.sendToPeerLocked(res.PullTarget, protocol.NewChunkPull(r.ChunkID))
	case chunk.OutcomePending:
		// A pull is already in flight; the requester shares its result.
	}
}

func (h *Hub) handleChunkPush(s *Session, r *protocol.ChunkPush) {
	if h.chunks == nil {
		h.send(s, protocol.ErrorFrameFor(protocol.ErrUnavailable("chunk index")))
		return
	}

	waiters := h.chunks.Push(r.PeerID, r.ChunkID, r.Data)
	h.send(s, protocol.NewChunkPushAck(r.ChunkID))

	data := protocol.NewChunkData(r.ChunkID, r.Data, protocol.SourceRelay)
	for _, waiter := range waiters {
		h.sendToPeerLocked(waiter, data)
	}
}

// notifyMatch resolves the target's send-handle for rendezvous match
// events. It is only invoked from dispatch paths that already hold the
// hub lock.
func (h *Hub) notifyMatch(peerID string, match protocol.Match) {
	h.metrics.RendezvousMatches.Inc()
	h.sendToPeerLocked(peerID, protocol.NewRendezvousMatch(match))
}

// isConnectedLocked backs the chunk index's connectivity checks; like
// notifyMatch it runs under the hub lock.
func (h *Hub) isConnectedLocked(peerID string) bool {
	_, ok := h.conns[peerID]
	return ok
}

func (h *Hub) sendToPeerLocked(peerID string, frame any) {
	target, ok := h.conns[peerID]
	if !ok {
		return
	}
	h.send(target, frame)
}

// send pushes one frame. A failure is logged and swallowed; it never
// aborts dispatch of sends to other peers.
func (h *Hub) send(s *Session, frame any) {
	if err := s.sender.Send(frame); err != nil {
		h.metrics.SendFailures.Inc()
		h.logger.Warn("send failed", "conn", s.id, "peer", h.mask(s.peerID), "err", err)
		return
	}
	h.metrics.FramesOut.WithLabelValues(protocol.FrameType(frame)).Inc()
}
