// Package metrics exposes the coordinator's Prometheus collectors. Each
// node builds one Node set against its own registry so tests can run many
// nodes in a process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Node holds the per-node collectors.
type Node struct {
	ConnectedPeers prometheus.Gauge
	FramesIn       *prometheus.CounterVec
	FramesOut      *prometheus.CounterVec
	SendFailures   prometheus.Counter

	ChunkCacheSize      prometheus.Gauge
	ChunkCacheHits      prometheus.Counter
	ChunkCacheEvictions prometheus.Counter
	ChunkPulls          prometheus.Counter

	RendezvousMatches prometheus.Counter
	DirectoryEntries  prometheus.Gauge
}

// NewNode registers the node collectors on reg. Passing nil uses the
// default registry.
func NewNode(reg prometheus.Registerer) *Node {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Node{
		ConnectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zajel_connected_peers",
			Help: "Peers currently bound to this node.",
		}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zajel_frames_in_total",
			Help: "Inbound frames dispatched, by request type.",
		}, []string{"type"}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zajel_frames_out_total",
			Help: "Outbound frames sent, by response type.",
		}, []string{"type"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "zajel_send_failures_total",
			Help: "Outbound frame sends that failed at the transport.",
		}),
		ChunkCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zajel_chunk_cache_entries",
			Help: "Chunks currently held in the relay cache.",
		}),
		ChunkCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "zajel_chunk_cache_hits_total",
			Help: "Chunk requests served directly from the cache.",
		}),
		ChunkCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "zajel_chunk_cache_evictions_total",
			Help: "Cache entries evicted by TTL or capacity pressure.",
		}),
		ChunkPulls: factory.NewCounter(prometheus.CounterOpts{
			Name: "zajel_chunk_pulls_total",
			Help: "chunk_pull frames dispatched to source peers.",
		}),
		RendezvousMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "zajel_rendezvous_matches_total",
			Help: "Match notifications pushed to previously registered peers.",
		}),
		DirectoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zajel_directory_entries",
			Help: "Live entries in the server directory.",
		}),
	}
}
