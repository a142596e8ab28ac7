package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/payflow/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup initializes logging, metrics and tracing. It returns the tracer
// shutdown hook and the handler to mount at /metrics.
func Setup(serviceName string) (func(context.Context) error, http.Handler) {
	observability.InitLogger()
	observability.InitMetrics()
	tracerShutdown := observability.InitTracing(serviceName)
	return tracerShutdown, promhttp.Handler()
}
