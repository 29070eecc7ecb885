package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PromQL queries for the three signals the guard throttles on: standard
// node_exporter / HTTP middleware queries for CPU, request latency and error rate.
const (
	cpuQuery        = `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	p95LatencyQuery = `histogram_quantile(0.95, rate(http_request_duration_seconds_bucket[5m]))`
	errorRateQuery  = `sum(rate(http_requests_total{status_code=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))`
)

// PrometheusSource implements Source by querying a Prometheus server's HTTP API.
type PrometheusSource struct {
	client v1.API
}

// NewPrometheusSource dials the Prometheus API client (no network round trip
// happens until FetchMetrics is first called).
func NewPrometheusSource(promURL string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: promURL})
	if err != nil {
		return nil, fmt.Errorf("health: prometheus client: %w", err)
	}
	return &PrometheusSource{client: v1.NewAPI(client)}, nil
}

// FetchMetrics runs the three PromQL queries and assembles a Data sample.
func (p *PrometheusSource) FetchMetrics() (Data, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	now := time.Now()
	var data Data

	query := func(q string) (float64, error) {
		result, _, err := p.client.Query(ctx, q, now)
		if err != nil {
			return 0, fmt.Errorf("health: prometheus query %q: %w", q, err)
		}
		if v, ok := result.(model.Vector); ok && len(v) > 0 {
			return float64(v[0].Value), nil
		}
		return 0, nil
	}

	cpu, err := query(cpuQuery)
	if err != nil {
		return data, err
	}
	data.CPUUtilization = cpu

	latencySec, err := query(p95LatencyQuery)
	if err != nil {
		return data, err
	}
	data.P95LatencyMs = latencySec * 1000.0

	errRate, err := query(errorRateQuery)
	if err != nil {
		return data, err
	}
	data.ErrorRate = errRate

	return data, nil
}
