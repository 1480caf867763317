// Package metrics registers the prometheus collectors exposed by the node
// and provides small typed recorders for each component.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btn"

var (
	blocksMinedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "blocks_mined_total",
		Help:      "Count of blocks mined by this node.",
	}, []string{"miner"})
	miningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "state",
		Help:      "Current mining figures: hash_rate, target_hash_rate, difficulty, worker_hash_rate.",
	}, []string{"figure"})
	actionRewardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "action_rewards_total",
		Help:      "Count of user actions processed, by outcome.",
	}, []string{"action", "status"})

	peersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "peers",
		Help:      "Number of known peers, by connection state.",
	}, []string{"state"})
	gossipMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "messages_total",
		Help:      "Count of gossip messages, by type and outcome.",
	}, []string{"type", "outcome"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consensus",
		Name:      "decisions_total",
		Help:      "Count of consensus decisions, by kind and validity.",
	}, []string{"kind", "valid"})
	networkGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "consensus",
		Name:      "network",
		Help:      "Network metrics maintained by the consensus engine.",
	}, []string{"figure"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of HTTP requests served.",
	}, []string{"method", "route", "status"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests served.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// =============================================================================

// Mining records the mining engine figures.
type Mining struct{}

// ObserveBlock records a block mined by the specified miner.
func (Mining) ObserveBlock(miner string) {
	blocksMinedTotal.WithLabelValues(miner).Inc()
}

// ObserveAction records the outcome of a rewarded user action.
func (Mining) ObserveAction(action string, err error) {
	actionRewardsTotal.WithLabelValues(action, status(err)).Inc()
}

// Set records the current mining figures.
func (Mining) Set(hashRate float64, target float64, difficulty int, workerHashRate float64) {
	miningGauge.WithLabelValues("hash_rate").Set(hashRate)
	miningGauge.WithLabelValues("target_hash_rate").Set(target)
	miningGauge.WithLabelValues("difficulty").Set(float64(difficulty))
	miningGauge.WithLabelValues("worker_hash_rate").Set(workerHashRate)
}

// Gossip records the gossip network figures.
type Gossip struct{}

// ObserveMessage records a message of the given type and its outcome, such
// as sent, received, duplicate, dropped or failed.
func (Gossip) ObserveMessage(msgType string, outcome string) {
	gossipMessagesTotal.WithLabelValues(msgType, outcome).Inc()
}

// SetPeers records the number of known and connected peers.
func (Gossip) SetPeers(total int, connected int) {
	peersGauge.WithLabelValues("known").Set(float64(total))
	peersGauge.WithLabelValues("connected").Set(float64(connected))
}

// Consensus records the consensus engine figures.
type Consensus struct{}

// ObserveDecision records a decision of the given kind, block or action.
func (Consensus) ObserveDecision(kind string, valid bool) {
	decisionsTotal.WithLabelValues(kind, strconv.FormatBool(valid)).Inc()
}

// SetNetwork records the named network metric.
func (Consensus) SetNetwork(figure string, value float64) {
	networkGauge.WithLabelValues(figure).Set(value)
}

// HTTP records request figures for the web middleware.
type HTTP struct{}

// ObserveRequest records a single request outcome and duration.
func (HTTP) ObserveRequest(method string, route string, statusCode int, started time.Time) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
