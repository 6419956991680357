package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	assert.Equal(t, SchedulerJobReasonDeadlineExceeded, ClassifySchedulerJobReason(context.DeadlineExceeded))
	assert.Equal(t, SchedulerJobReasonLockContention, ClassifySchedulerJobReason(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, SchedulerJobReasonUnknown, ClassifySchedulerJobReason(errors.New("boom")))
	assert.Equal(t, "", ClassifySchedulerJobReason(nil))
}

func TestSchedulerMetricsObserveJob(t *testing.T) {
	m := NewSchedulerMetrics(Config{ServiceName: "railmeter", Environment: "test"})

	m.ObserveJob("rollup_reconcile", 10*time.Millisecond, nil)
	m.ObserveJob("rollup_reconcile", 10*time.Millisecond, context.DeadlineExceeded)
	m.AddDrift("tool_invocation", 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.jobRuns.WithLabelValues("rollup_reconcile")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobErrors.WithLabelValues("rollup_reconcile", SchedulerJobReasonDeadlineExceeded)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.drift.WithLabelValues("tool_invocation")))
}
