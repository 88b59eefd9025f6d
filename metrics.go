package hci

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the command round-trip latency histogram
// buckets in nanoseconds, from 100us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	5_000_000_000,  // 5s
	8_000_000_000,  // 8s (the command watchdog deadline)
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks transport-level counters and command latency.
type Metrics struct {
	CommandsSent               atomic.Uint64
	CommandsCompleted          atomic.Uint64
	CommandsCompletedViaStatus atomic.Uint64
	CommandsFailed             atomic.Uint64
	CommandTimeouts            atomic.Uint64
	CreditExhaustionStalls     atomic.Uint64

	EventsReceived atomic.Uint64
	ACLIn          atomic.Uint64
	ACLOut         atomic.Uint64
	SCOIn          atomic.Uint64
	SCOOut         atomic.Uint64

	ACLInBytes  atomic.Uint64
	ACLOutBytes atomic.Uint64

	ReassemblyAllocFailures atomic.Uint64

	CurrentCommandCredits atomic.Int64

	TotalCommandLatencyNs atomic.Uint64
	CommandLatencyCount   atomic.Uint64
	LatencyBuckets        [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordCommandSent() {
	m.CommandsSent.Add(1)
}

func (m *Metrics) RecordCommandComplete(latencyNs uint64) {
	m.CommandsCompleted.Add(1)
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordCommandCompleteViaStatus(latencyNs uint64) {
	m.CommandsCompletedViaStatus.Add(1)
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordCommandFailed() {
	m.CommandsFailed.Add(1)
}

func (m *Metrics) RecordCommandTimeout() {
	m.CommandTimeouts.Add(1)
}

func (m *Metrics) RecordCreditExhaustionStall() {
	m.CreditExhaustionStalls.Add(1)
}

func (m *Metrics) RecordEvent() {
	m.EventsReceived.Add(1)
}

func (m *Metrics) RecordACLIn(bytes uint64) {
	m.ACLIn.Add(1)
	m.ACLInBytes.Add(bytes)
}

func (m *Metrics) RecordACLOut(bytes uint64) {
	m.ACLOut.Add(1)
	m.ACLOutBytes.Add(bytes)
}

func (m *Metrics) RecordSCOIn() { m.SCOIn.Add(1) }
func (m *Metrics) RecordSCOOut() { m.SCOOut.Add(1) }

func (m *Metrics) RecordReassemblyAllocFailure() {
	m.ReassemblyAllocFailures.Add(1)
}

func (m *Metrics) RecordCommandCredits(n int) {
	m.CurrentCommandCredits.Store(int64(n))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalCommandLatencyNs.Add(latencyNs)
	m.CommandLatencyCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read
// without further synchronization.
type MetricsSnapshot struct {
	CommandsSent               uint64
	CommandsCompleted          uint64
	CommandsCompletedViaStatus uint64
	CommandsFailed             uint64
	CommandTimeouts            uint64
	CreditExhaustionStalls     uint64

	EventsReceived uint64
	ACLIn          uint64
	ACLOut         uint64
	SCOIn          uint64
	SCOOut         uint64
	ACLInBytes     uint64
	ACLOutBytes    uint64

	ReassemblyAllocFailures uint64
	CurrentCommandCredits   int64

	AvgCommandLatencyNs uint64
	LatencyP50Ns        uint64
	LatencyP99Ns        uint64
	LatencyHistogram    [numLatencyBuckets]uint64

	UptimeNs uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CommandsSent:               m.CommandsSent.Load(),
		CommandsCompleted:          m.CommandsCompleted.Load(),
		CommandsCompletedViaStatus: m.CommandsCompletedViaStatus.Load(),
		CommandsFailed:             m.CommandsFailed.Load(),
		CommandTimeouts:            m.CommandTimeouts.Load(),
		CreditExhaustionStalls:     m.CreditExhaustionStalls.Load(),
		EventsReceived:             m.EventsReceived.Load(),
		ACLIn:                      m.ACLIn.Load(),
		ACLOut:                     m.ACLOut.Load(),
		SCOIn:                      m.SCOIn.Load(),
		SCOOut:                     m.SCOOut.Load(),
		ACLInBytes:                 m.ACLInBytes.Load(),
		ACLOutBytes:                m.ACLOutBytes.Load(),
		ReassemblyAllocFailures:    m.ReassemblyAllocFailures.Load(),
		CurrentCommandCredits:      m.CurrentCommandCredits.Load(),
	}

	count := m.CommandLatencyCount.Load()
	if count > 0 {
		snap.AvgCommandLatencyNs = m.TotalCommandLatencyNs.Load() / count
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.CommandLatencyCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection without the collaborator
// importing the Metrics type directly.
type Observer interface {
	ObserveCommandSent()
	ObserveCommandComplete(latencyNs uint64)
	ObserveCommandCompleteViaStatus(latencyNs uint64)
	ObserveCommandTimeout()
	ObserveCreditExhaustionStall()
	ObserveReassemblyAllocFailure()
	ObserveEvent()
	ObserveACLIn(bytes uint64)
	ObserveACLOut(bytes uint64)
}

type NoOpObserver struct{}

func (NoOpObserver) ObserveCommandSent()                    {}
func (NoOpObserver) ObserveCommandComplete(uint64)          {}
func (NoOpObserver) ObserveCommandCompleteViaStatus(uint64) {}
func (NoOpObserver) ObserveCommandTimeout()                 {}
func (NoOpObserver) ObserveCreditExhaustionStall()          {}
func (NoOpObserver) ObserveReassemblyAllocFailure()         {}
func (NoOpObserver) ObserveEvent()                          {}
func (NoOpObserver) ObserveACLIn(uint64)                    {}
func (NoOpObserver) ObserveACLOut(uint64)                   {}

// MetricsObserver implements Observer on top of Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCommandSent() { o.metrics.RecordCommandSent() }
func (o *MetricsObserver) ObserveCommandComplete(ns uint64) {
	o.metrics.RecordCommandComplete(ns)
}
func (o *MetricsObserver) ObserveCommandCompleteViaStatus(ns uint64) {
	o.metrics.RecordCommandCompleteViaStatus(ns)
}
func (o *MetricsObserver) ObserveCommandTimeout()         { o.metrics.RecordCommandTimeout() }
func (o *MetricsObserver) ObserveCreditExhaustionStall()  { o.metrics.RecordCreditExhaustionStall() }
func (o *MetricsObserver) ObserveReassemblyAllocFailure() { o.metrics.RecordReassemblyAllocFailure() }
func (o *MetricsObserver) ObserveEvent()                  { o.metrics.RecordEvent() }
func (o *MetricsObserver) ObserveACLIn(bytes uint64)      { o.metrics.RecordACLIn(bytes) }
func (o *MetricsObserver) ObserveACLOut(bytes uint64)     { o.metrics.RecordACLOut(bytes) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
