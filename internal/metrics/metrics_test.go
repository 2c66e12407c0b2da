package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.transitions, "transitions counter should be initialized")
	assert.NotNil(t, collector.jobsStarted, "jobsStarted counter should be initialized")
	assert.NotNil(t, collector.jobsCompleted, "jobsCompleted counter should be initialized")
	assert.NotNil(t, collector.jobsFailed, "jobsFailed counter should be initialized")
	assert.NotNil(t, collector.countMismatch, "countMismatch counter should be initialized")
	assert.NotNil(t, collector.messagesDropped, "messagesDropped counter should be initialized")
	assert.NotNil(t, collector.jobDuration, "jobDuration histogram should be initialized")
	assert.NotNil(t, collector.currentState, "currentState gauge should be initialized")
}

func TestRecordTransition(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordTransition(types.StateJobAllocation)
	collector.RecordTransition(types.StateJobAllocation)
	collector.RecordTransition(types.StateError)

	got := testutil.ToFloat64(collector.transitions.WithLabelValues(string(types.StateJobAllocation)))
	assert.Equal(t, 2.0, got, "job_allocation should have been entered twice")

	got = testutil.ToFloat64(collector.transitions.WithLabelValues(string(types.StateError)))
	assert.Equal(t, 1.0, got, "error should have been entered once")

	assert.Equal(t, stateIndex[types.StateError], testutil.ToFloat64(collector.currentState),
		"current state gauge should reflect the last transition")
}

func TestJobCounters(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordJobStarted()
	collector.RecordJobStarted()
	collector.RecordJobCompleted(12.5)
	collector.RecordJobFailed()
	collector.RecordCountMismatch()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.jobsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.countMismatch))
}

func TestRecordDroppedByCause(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordDropped("malformed")
	collector.RecordDropped("malformed")
	collector.RecordDropped("stale_correlation")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.messagesDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.messagesDropped.WithLabelValues("stale_correlation")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordTransition(types.StateIdle)
		collector.RecordJobStarted()
		collector.RecordJobCompleted(1.0)
		collector.RecordJobFailed()
		collector.RecordCountMismatch()
		collector.RecordDropped("malformed")
	}, "nil collector methods should be no-ops")
}

func TestCollectorIsolation(t *testing.T) {
	// Test multiple collector instances work independently
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration
	// This is expected: a process should have only one collector
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestMetricOperationSequence(t *testing.T) {
	// Test a typical job cycle
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	assert.NotPanics(t, func() {
		collector.RecordJobStarted()
		collector.RecordTransition(types.StateJobAllocation)
		collector.RecordTransition(types.StateWaitingRfid)
		collector.RecordTransition(types.StateWaitingWeight)
		collector.RecordTransition(types.StateVerification)
		collector.RecordTransition(types.StateJobCloseout)
		collector.RecordTransition(types.StateDispatch)
		collector.RecordJobCompleted(18.2)
		collector.RecordTransition(types.StateIdle)
	}, "Complete job cycle should not panic")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	// Prometheus metrics are thread-safe
	done := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordJobStarted()
			collector.RecordTransition(types.StateJobAllocation)
			collector.RecordJobCompleted(0.1)
			collector.RecordDropped("wrong_state")
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.jobsStarted))
}
