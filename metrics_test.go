package hci

import (
	"testing"
	"time"
)

func TestMetricsCommandCounters(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.CommandsSent != 0 || snap.CommandsCompleted != 0 {
		t.Fatalf("expected zero initial counters, got %+v", snap)
	}

	m.RecordCommandSent()
	m.RecordCommandSent()
	m.RecordCommandComplete(1_000_000) // 1ms
	m.RecordCommandTimeout()

	snap = m.Snapshot()
	if snap.CommandsSent != 2 {
		t.Errorf("CommandsSent = %d, want 2", snap.CommandsSent)
	}
	if snap.CommandsCompleted != 1 {
		t.Errorf("CommandsCompleted = %d, want 1", snap.CommandsCompleted)
	}
	if snap.CommandTimeouts != 1 {
		t.Errorf("CommandTimeouts = %d, want 1", snap.CommandTimeouts)
	}
}

func TestMetricsCommandCompleteViaStatusAndStalls(t *testing.T) {
	m := NewMetrics()
	m.RecordCommandCompleteViaStatus(2_000_000) // 2ms
	m.RecordCreditExhaustionStall()
	m.RecordCreditExhaustionStall()
	m.RecordReassemblyAllocFailure()

	snap := m.Snapshot()
	if snap.CommandsCompletedViaStatus != 1 {
		t.Errorf("CommandsCompletedViaStatus = %d, want 1", snap.CommandsCompletedViaStatus)
	}
	if snap.CreditExhaustionStalls != 2 {
		t.Errorf("CreditExhaustionStalls = %d, want 2", snap.CreditExhaustionStalls)
	}
	if snap.ReassemblyAllocFailures != 1 {
		t.Errorf("ReassemblyAllocFailures = %d, want 1", snap.ReassemblyAllocFailures)
	}
	// A status-path completion still feeds the shared latency histogram.
	if snap.AvgCommandLatencyNs != 2_000_000 {
		t.Errorf("AvgCommandLatencyNs = %d, want 2000000", snap.AvgCommandLatencyNs)
	}
}

func TestMetricsACLCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordACLIn(64)
	m.RecordACLIn(128)
	m.RecordACLOut(32)

	snap := m.Snapshot()
	if snap.ACLIn != 2 || snap.ACLInBytes != 192 {
		t.Errorf("ACLIn = %d/%d bytes, want 2/192", snap.ACLIn, snap.ACLInBytes)
	}
	if snap.ACLOut != 1 || snap.ACLOutBytes != 32 {
		t.Errorf("ACLOut = %d/%d bytes, want 1/32", snap.ACLOut, snap.ACLOutBytes)
	}
}

func TestMetricsCommandCredits(t *testing.T) {
	m := NewMetrics()
	m.RecordCommandCredits(3)
	if snap := m.Snapshot(); snap.CurrentCommandCredits != 3 {
		t.Errorf("CurrentCommandCredits = %d, want 3", snap.CurrentCommandCredits)
	}
	m.RecordCommandCredits(1) // credits replace, never accumulate
	if snap := m.Snapshot(); snap.CurrentCommandCredits != 1 {
		t.Errorf("CurrentCommandCredits = %d, want 1 after replacement", snap.CurrentCommandCredits)
	}
}

func TestMetricsLatencyAverage(t *testing.T) {
	m := NewMetrics()
	m.RecordCommandComplete(1_000_000) // 1ms
	m.RecordCommandComplete(3_000_000) // 3ms

	snap := m.Snapshot()
	if snap.AvgCommandLatencyNs != 2_000_000 {
		t.Errorf("AvgCommandLatencyNs = %d, want 2000000", snap.AvgCommandLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("UptimeNs = %d, want >= 10ms", snap.UptimeNs)
	}

	m.Stop()
	frozen := m.Snapshot().UptimeNs
	time.Sleep(5 * time.Millisecond)
	if later := m.Snapshot().UptimeNs; later != frozen {
		t.Errorf("uptime should freeze after Stop: %d -> %d", frozen, later)
	}
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 50; i++ {
		m.RecordCommandComplete(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordCommandComplete(5_000_000) // 5ms
	}
	m.RecordCommandComplete(8_500_000_000) // past the watchdog deadline

	snap := m.Snapshot()
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("P50 out of expected range: %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 {
		t.Errorf("P99 too low: %d ns", snap.LatencyP99Ns)
	}
}

func TestObserverForwardsToMetrics(t *testing.T) {
	var noop Observer = NoOpObserver{}
	noop.ObserveCommandSent()
	noop.ObserveCommandComplete(1000)
	noop.ObserveCommandCompleteViaStatus(1000)
	noop.ObserveCommandTimeout()
	noop.ObserveCreditExhaustionStall()
	noop.ObserveReassemblyAllocFailure()
	noop.ObserveEvent()
	noop.ObserveACLIn(10)
	noop.ObserveACLOut(10)

	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveCommandSent()
	obs.ObserveCommandComplete(2_000_000)
	obs.ObserveCommandCompleteViaStatus(3_000_000)
	obs.ObserveCommandTimeout()
	obs.ObserveCreditExhaustionStall()
	obs.ObserveReassemblyAllocFailure()
	obs.ObserveACLIn(64)

	snap := m.Snapshot()
	if snap.CommandsSent != 1 || snap.CommandsCompleted != 1 {
		t.Errorf("observer did not forward command counters: %+v", snap)
	}
	if snap.CommandsCompletedViaStatus != 1 {
		t.Errorf("observer did not forward status-path counter: %+v", snap)
	}
	if snap.CommandTimeouts != 1 || snap.CreditExhaustionStalls != 1 || snap.ReassemblyAllocFailures != 1 {
		t.Errorf("observer did not forward timeout/stall/alloc-failure counters: %+v", snap)
	}
	if snap.ACLIn != 1 || snap.ACLInBytes != 64 {
		t.Errorf("observer did not forward ACL counters: %+v", snap)
	}
}
