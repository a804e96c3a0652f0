// Package metrics exposes Prometheus instrumentation of batch composition.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/hybrid-sched/engine/trace"
)

const (
	// Label names
	LabelCategory = "category"
	LabelReason   = "reason"
	LabelDevice   = "device"

	DeviceGPU = "gpu"
	DeviceCPU = "cpu"
)

// Metrics holds the composition metrics of one scheduler.
type Metrics struct {
	SubBatchesTotal prometheus.Counter
	RequestsTotal   *prometheus.CounterVec // by category
	DeferralsTotal  *prometheus.CounterVec // by reason
	FinishedTotal   prometheus.Counter
	EstimatedTime   *prometheus.HistogramVec // by device
	IterWidth       prometheus.Histogram
	SeqBlockSize    prometheus.Histogram
	FreeSlots       prometheus.Gauge
	UsedBlocks      *prometheus.GaugeVec // by device
}

// NewMetrics creates the composition metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubBatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybrid_sched_sub_batches_total",
			Help: "Number of finalized sub-batches",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_sched_requests_total",
			Help: "Requests placed in finalized sub-batches, by category",
		}, []string{LabelCategory}),
		DeferralsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_sched_deferrals_total",
			Help: "Requests left out of an iteration, by reason",
		}, []string{LabelReason}),
		FinishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybrid_sched_finished_requests_total",
			Help: "Requests that produced their last output token",
		}),
		EstimatedTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybrid_sched_estimated_time",
			Help:    "Predicted per-sub-batch execution time, by device",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{LabelDevice}),
		IterWidth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybrid_sched_iteration_width_tokens",
			Help:    "Iteration width of finalized sub-batches",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		SeqBlockSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybrid_sched_seq_block_size_tokens",
			Help:    "Paged-attention block size chosen for the GPU-decode segment",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048},
		}),
		FreeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybrid_sched_free_request_slots",
			Help: "Unallocated block-table slots",
		}),
		UsedBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybrid_sched_used_kv_blocks",
			Help: "Reserved KV blocks, by device",
		}, []string{LabelDevice}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SubBatchesTotal,
			m.RequestsTotal,
			m.DeferralsTotal,
			m.FinishedTotal,
			m.EstimatedTime,
			m.IterWidth,
			m.SeqBlockSize,
			m.FreeSlots,
			m.UsedBlocks,
		)
	}
	return m
}

// ObserveComposition records one finalized sub-batch. Safe on nil.
func (m *Metrics) ObserveComposition(r trace.CompositionRecord) {
	if m == nil {
		return
	}
	m.SubBatchesTotal.Inc()
	m.RequestsTotal.WithLabelValues("cprf").Add(float64(r.NumCprfs))
	m.RequestsTotal.WithLabelValues("gprf").Add(float64(r.NumGprfs))
	m.RequestsTotal.WithLabelValues("gdec").Add(float64(r.NumGdecs))
	m.RequestsTotal.WithLabelValues("cdec").Add(float64(r.NumCdecs))
	m.EstimatedTime.WithLabelValues(DeviceGPU).Observe(r.GPUTime)
	m.EstimatedTime.WithLabelValues(DeviceCPU).Observe(r.CPUTime)
	m.IterWidth.Observe(float64(r.IterWidth))
	m.SeqBlockSize.Observe(float64(r.SeqBlockSize))
}

// ObserveDeferral records a request left out of an iteration. Safe on nil.
func (m *Metrics) ObserveDeferral(r trace.DeferralRecord) {
	if m == nil {
		return
	}
	m.DeferralsTotal.WithLabelValues(r.Reason).Inc()
}

// ObserveFinished records n finished requests. Safe on nil.
func (m *Metrics) ObserveFinished(n int) {
	if m == nil {
		return
	}
	m.FinishedTotal.Add(float64(n))
}

// SetCapacity records the current slot and block usage. Safe on nil.
func (m *Metrics) SetCapacity(freeSlots, gpuBlocks, cpuBlocks int) {
	if m == nil {
		return
	}
	m.FreeSlots.Set(float64(freeSlots))
	m.UsedBlocks.WithLabelValues(DeviceGPU).Set(float64(gpuBlocks))
	m.UsedBlocks.WithLabelValues(DeviceCPU).Set(float64(cpuBlocks))
}
