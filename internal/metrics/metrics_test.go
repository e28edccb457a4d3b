package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRunStarted(t *testing.T) {
	before := testutil.ToFloat64(runs.WithLabelValues(OutcomeTruncated))
	active := testutil.ToFloat64(activeRuns)

	done := RunStarted()
	assert.Equal(t, active+1, testutil.ToFloat64(activeRuns))
	done(OutcomeTruncated)

	assert.Equal(t, active, testutil.ToFloat64(activeRuns))
	assert.Equal(t, before+1, testutil.ToFloat64(runs.WithLabelValues(OutcomeTruncated)))
}

func TestRecordProviderRequest(t *testing.T) {
	ok := testutil.ToFloat64(providerRequests.WithLabelValues("fake", "ok"))
	failed := testutil.ToFloat64(providerRequests.WithLabelValues("fake", "error"))

	RecordProviderRequest("fake", nil)
	RecordProviderRequest("fake", errors.New("503"))
	RecordProviderRetry("fake")

	assert.Equal(t, ok+1, testutil.ToFloat64(providerRequests.WithLabelValues("fake", "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(providerRequests.WithLabelValues("fake", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(providerRetries.WithLabelValues("fake")), 1.0)
}

func TestRecordToolInvocation(t *testing.T) {
	before := testutil.ToFloat64(toolInvocations.WithLabelValues("error"))
	RecordToolInvocation(true, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(toolInvocations.WithLabelValues("error")))
	assert.Positive(t, testutil.CollectAndCount(toolLatency))
}
