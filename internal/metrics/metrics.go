// Package metrics defines the prometheus metrics the core updates as it
// runs, grounded on m-lab-tcp-info/metrics/metrics.go. The core never
// surfaces errors to peers (spec.md section 7 "User-visible failure: none
// by design"); these counters and histograms are the only observable
// record of reliability-layer decisions an operator gets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NumNacksReceived counts ACKNACK submessages with at least one bit set,
	// named directly in spec.md section 7.
	NumNacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_num_nacks_received_total",
			Help: "ACKNACK submessages received carrying at least one requested sequence number.",
		}, []string{"writer"})

	// RexmitCount counts individual retransmitted samples/fragments sent.
	RexmitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_rexmit_total",
			Help: "Samples or fragments retransmitted in response to ACKNACK/NACKFRAG.",
		}, []string{"writer"})

	// RexmitLostCount counts retransmit requests answered with a GAP because
	// the sample had already left the writer history cache.
	RexmitLostCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_rexmit_lost_total",
			Help: "Retransmit requests answered with GAP because the sample was no longer cached.",
		}, []string{"writer"})

	// DiscardedBytes counts payload bytes dropped for any reason: malformed
	// datagram, capacity eviction, duplicate/too-old sample.
	DiscardedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_discarded_bytes_total",
			Help: "Payload bytes discarded by the receiver.",
		}, []string{"reason"})

	// DefragCompleteLatency tracks time from first fragment seen to sample
	// completion.
	DefragCompleteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ddsi_defrag_complete_latency_seconds",
			Help:    "Latency from first fragment received to sample completion.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	// ReorderGapWidth tracks the size of gaps the reorderer has to bridge
	// before it can deliver.
	ReorderGapWidth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ddsi_reorder_gap_width",
			Help:    "Number of sequence numbers spanned by a gap the reorderer bridged.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		})

	// RBPBuffersInUse gauges the number of backing buffers currently owned
	// by a receive thread (not yet fully released to the pool).
	RBPBuffersInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ddsi_rbp_buffers_in_use",
			Help: "Receive-buffer-pool backing buffers currently referenced.",
		}, []string{"pool"})

	// DQueueDepth gauges the current length of a delivery queue.
	DQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ddsi_dqueue_depth",
			Help: "Number of entries currently queued for delivery.",
		}, []string{"queue"})

	// PacketsReceived counts UDP datagrams read off a transport socket,
	// labeled by the locator string of the socket that received them.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_transport_packets_received_total",
			Help: "UDP datagrams received per listening socket.",
		}, []string{"socket"})

	// SendErrors counts failed writes to a transport socket.
	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsi_transport_send_errors_total",
			Help: "Errors returned by the underlying socket write.",
		}, []string{"socket"})
)
