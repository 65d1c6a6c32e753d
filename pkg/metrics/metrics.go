// Package metrics provides the Prometheus registry shared by the ghfetch packages.
// All metrics are defined in their respective packages (client, pagination, ratelimit)
// to maintain modularity and avoid circular dependencies.
//
// This package documents the available metrics and renders them as text.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Gatherer is the source WriteText reads from. Every ghfetch metric is
// registered with the default registry via promauto.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteText writes every gathered metric family with the given name prefix in the
// Prometheus text exposition format. An empty prefix writes everything.
func WriteText(w io.Writer, prefix string) error {
	families, err := Gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, family := range families {
		if prefix != "" && !strings.HasPrefix(family.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("write metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ghfetch_requests_total{endpoint, status} (Counter): HTTP attempts by endpoint and status
//   - ghfetch_request_duration_seconds{endpoint} (Histogram): Attempt duration by endpoint
//   - ghfetch_errors_total{class} (Counter): Failed attempts by class (client, server, server_final, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - ghfetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - ghfetch_retry_backoff_seconds{error_class} (Histogram): Wait before a retry by error class
//   - ghfetch_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pagination Metrics (pkg/pagination):
//   - ghfetch_pages_fetched_total (Counter): Pages fetched
//   - ghfetch_items_fetched_total (Counter): Items extracted from fetched pages
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ghfetch_rate_limit_remaining{host} (Gauge): Requests left in the current window
//   - ghfetch_rate_limit_reset_timestamp_seconds{host} (Gauge): Unix time of the next window reset
//   - ghfetch_rate_limit_exhausted_total{host} (Counter): Responses seen with an exhausted quota
//
// Example Prometheus Queries:
//
//   # Retry Rate
//   sum(rate(ghfetch_retries_total[5m])) by (error_class)
//
//   # Quota Headroom
//   ghfetch_rate_limit_remaining < 100
//
//   # P95 Attempt Latency
//   histogram_quantile(0.95, rate(ghfetch_request_duration_seconds_bucket[5m]))
