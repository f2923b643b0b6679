package telemetry

import (
	"context"
	"testing"

	"github.com/nowrise/authgate/internal/infra/config"
	"github.com/nowrise/authgate/internal/transport/http/middleware"
)

// Attach and the HTTP metrics middleware both register on the default
// registerer during application wiring; a name collision between them makes
// the server unable to start.
func TestAttachCoexistsWithHTTPMetrics(t *testing.T) {
	if _, err := Attach(context.Background(), &config.AppConfig{}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err != nil {
		t.Fatalf("http metrics registration after attach: %v", err)
	}
}

func TestAttachRejectsNilConfig(t *testing.T) {
	if _, err := Attach(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
