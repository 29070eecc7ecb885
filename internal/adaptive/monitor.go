package adaptive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/health"
)

// ThrottleGauge receives the guard's current throttle factor after each poll.
// Satisfied by a prometheus.Gauge; pass nil to skip exporting it.
type ThrottleGauge interface {
	Set(value float64)
}

// Monitor runs the background poll-and-adjust loop that drives a Guard from a
// health.Source. Run is context-scoped so it shuts down cleanly with the rest of
// the process.
type Monitor struct {
	Guard    *Guard
	Source   health.Source
	Interval time.Duration
	gauge    ThrottleGauge
	log      *zap.Logger
}

// NewMonitor builds a Monitor. gauge may be nil to skip exporting the throttle
// factor.
func NewMonitor(guard *Guard, source health.Source, interval time.Duration, gauge ThrottleGauge, log *zap.Logger) *Monitor {
	return &Monitor{Guard: guard, Source: source, Interval: interval, gauge: gauge, log: log}
}

// Run polls Source every Interval until ctx is cancelled, updating Guard's factor
// each time. A poll error logs and leaves the last-known factor in place — it never
// resets to "unlimited", since that would be the one thing an overload guard must
// not do.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	m.log.Info("adaptive: monitor started", zap.Duration("interval", m.Interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("adaptive: monitor stopped")
			return
		case <-ticker.C:
			data, err := m.Source.FetchMetrics()
			if err != nil {
				m.log.Warn("adaptive: health fetch failed, keeping current throttle factor", zap.Error(err))
				continue
			}
			factor := calculateFactor(data)
			m.Guard.UpdateFactor(factor)
			if m.gauge != nil {
				m.gauge.Set(factor)
			}
		}
	}
}

// Target SLOs the factor is computed against.
const (
	targetCPU       = 0.70
	targetLatencyMs = 500.0
	targetErrorRate = 0.01

	minFactor = 0.1
	maxFactor = 1.0
)

// calculateFactor determines the guard's throttle factor from a health sample:
// the minimum of target/current across CPU, latency and error rate, clamped to
// [minFactor, maxFactor] so the node never throttles to exactly zero.
func calculateFactor(data health.Data) float64 {
	cpuFactor := safeRatio(targetCPU, data.CPUUtilization)
	latencyFactor := safeRatio(targetLatencyMs, data.P95LatencyMs)
	errorFactor := safeRatio(targetErrorRate, data.ErrorRate)

	factor := cpuFactor
	if latencyFactor < factor {
		factor = latencyFactor
	}
	if errorFactor < factor {
		factor = errorFactor
	}

	if factor > maxFactor {
		return maxFactor
	}
	if factor < minFactor {
		return minFactor
	}
	return factor
}

// safeRatio guards against a zero or negative denominator (a metric reporting
// exactly 0, e.g. "no errors at all") producing +Inf or NaN instead of "fully
// healthy".
func safeRatio(target, current float64) float64 {
	if current <= 0 {
		return maxFactor
	}
	return target / current
}
