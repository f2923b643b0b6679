package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/nowrise/authgate/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	startTime prometheus.Gauge
}

// Attach registers process-level collectors and Go runtime instrumentation.
// Request-level metrics belong to the HTTP middleware; nothing registered
// here may claim names under its namespace+subsystem.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	startTime := promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "authgate",
		Name:      "service_start_time_seconds",
		Help:      "Unix time at which the service attached telemetry.",
	})
	startTime.SetToCurrentTime()

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		return nil, fmt.Errorf("start runtime instrumentation: %w", err)
	}

	return &Provider{
		startTime: startTime,
	}, nil
}
