package limiter

import "time"

// Metric names one of the three independent per-key quotas.
type Metric string

const (
	MetricRPM  Metric = "rpm"
	MetricITPM Metric = "itpm"
	MetricOTPM Metric = "otpm"
)

// MetricBudget is the per-metric slice of a BudgetSnapshot.
type MetricBudget struct {
	Limit     int64
	Used      int64
	Remaining int64
}

// remaining computes max(0, limit-used).
func remaining(limit, used int64) int64 {
	r := limit - used
	if r < 0 {
		return 0
	}
	return r
}

// BudgetSnapshot is the immutable, per-decision record of limits, current usage,
// and window edges.
type BudgetSnapshot struct {
	RPM         MetricBudget
	ITPM        MetricBudget
	OTPM        MetricBudget
	WindowStart time.Time
	WindowEnd   time.Time
}

// Decision is the outcome of Check: whether to admit, the snapshot it was based on,
// and (if rejected) the metric that first failed and the advisory retry delay.
type Decision struct {
	Admit             bool
	Snapshot          BudgetSnapshot
	RejectedMetric    Metric
	RetryAfterSeconds int
}
