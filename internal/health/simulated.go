package health

import (
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// SimulatedSource synthesizes health data with small random variance around a
// baseline. Used for local runs and tests where no Prometheus is available.
type SimulatedSource struct {
	rng *rand.Rand
	log *zap.Logger
}

// NewSimulatedSource builds a source seeded from the current time.
func NewSimulatedSource(log *zap.Logger) *SimulatedSource {
	return &SimulatedSource{rng: rand.New(rand.NewSource(time.Now().UnixNano())), log: log}
}

// FetchMetrics implements Source by generating synthetic data around a steady
// baseline: 75% CPU, 600ms P95 latency, 2% error rate.
func (s *SimulatedSource) FetchMetrics() (Data, error) {
	const (
		cpuBase     = 0.75
		latencyBase = 600.0
		errorBase   = 0.02
	)

	cpu := cpuBase + (s.rng.Float64()*0.1 - 0.05)
	latency := latencyBase + (s.rng.Float64()*100 - 50)
	errs := errorBase + (s.rng.Float64()*0.01 - 0.005)

	if cpu < 0.1 {
		cpu = 0.1
	}
	if latency < 1.0 {
		latency = 1.0
	}
	if errs < 0.001 {
		errs = 0.001
	}

	data := Data{CPUUtilization: cpu, P95LatencyMs: latency, ErrorRate: errs}
	s.log.Debug("health: simulated sample",
		zap.Float64("cpu", data.CPUUtilization),
		zap.Float64("p95_ms", data.P95LatencyMs),
		zap.Float64("error_rate", data.ErrorRate))
	return data, nil
}
