// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	metrics "github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all settlement-engine metrics using luxfi/metric
type Metrics struct {
	metricsInstance metrics.Metrics

	// Lot lifecycle metrics
	LotsCreated   metrics.Counter
	LotsCancelled metrics.Counter
	LotsDecrypted metrics.Counter
	LotsSettled   metrics.Counter
	LotsCleared   metrics.Counter

	// Bid metrics
	BidsSubmitted metrics.Counter
	BidsWithdrawn metrics.Counter
	BidsDecrypted metrics.Counter
	BidsQueued    metrics.Counter
	ClaimsPaid    metrics.Counter

	// API metrics
	RequestsProcessed metrics.CounterVec

	// Performance metrics
	DecryptBatchDuration metrics.Histogram
	SettleBatchDuration  metrics.Histogram
	QueueDepth           metrics.Gauge
}

// NewMetrics creates a new metrics instance using luxfi/metric
func NewMetrics() (*Metrics, error) {
	factory := metrics.NewPrometheusFactory()
	metricsInstance := factory.New("empa")

	m := &Metrics{
		metricsInstance: metricsInstance,
	}

	m.LotsCreated = metricsInstance.NewCounter("lots_created_total", "Total number of lots created")
	m.LotsCancelled = metricsInstance.NewCounter("lots_cancelled_total", "Total number of lots cancelled before start")
	m.LotsDecrypted = metricsInstance.NewCounter("lots_decrypted_total", "Total number of lots fully decrypted")
	m.LotsSettled = metricsInstance.NewCounter("lots_settled_total", "Total number of lots settled")
	m.LotsCleared = metricsInstance.NewCounter("lots_cleared_total", "Total number of settled lots that cleared")

	m.BidsSubmitted = metricsInstance.NewCounter("bids_submitted_total", "Total number of sealed bids submitted")
	m.BidsWithdrawn = metricsInstance.NewCounter("bids_withdrawn_total", "Total number of bids withdrawn before conclusion")
	m.BidsDecrypted = metricsInstance.NewCounter("bids_decrypted_total", "Total number of bids decrypted")
	m.BidsQueued = metricsInstance.NewCounter("bids_queued_total", "Total number of decrypted bids accepted into the queue")
	m.ClaimsPaid = metricsInstance.NewCounter("claims_paid_total", "Total number of bid claims processed")

	m.RequestsProcessed = metricsInstance.NewCounterVec(
		"api_requests_processed_total",
		"Total number of API requests processed",
		[]string{"method", "status"},
	)

	m.DecryptBatchDuration = metricsInstance.NewHistogram(
		"decrypt_batch_duration_seconds",
		"Time to decrypt a batch of sealed bids",
		prometheus.DefBuckets,
	)

	m.SettleBatchDuration = metricsInstance.NewHistogram(
		"settle_batch_duration_seconds",
		"Time to advance the settlement scan by one batch",
		prometheus.DefBuckets,
	)

	m.QueueDepth = metricsInstance.NewGauge("queue_depth", "Decrypted bids awaiting settlement across all lots")

	return m, nil
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	if registry := m.metricsInstance.Registry(); registry != nil {
		return registry
	}
	return prometheus.DefaultGatherer
}

// GetRegisterer returns the prometheus registerer
func (m *Metrics) GetRegisterer() prometheus.Registerer {
	if registry := m.metricsInstance.Registry(); registry != nil {
		return registry
	}
	return prometheus.DefaultRegisterer
}
