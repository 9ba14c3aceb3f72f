package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/sitemapgen/internal/crawler"
	"github.com/nao1215/sitemapgen/internal/model"
)

// Namespace prefixes every metric name.
const Namespace = "sitemapgen"

// Fetch error types used as the "type" label.
const (
	ErrorTimeout = "timeout"
	ErrorNetwork = "network"
	ErrorStatus  = "status"
)

// Metrics holds the crawl collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	PagesFetched  *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	URLsSkipped   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	FrontierSize  *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are registered too when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of pages fetched, by status class",
			},
			[]string{"site", "class"},
		),
		FetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "fetch_errors_total",
				Help:      "Total number of failed fetches",
			},
			[]string{"site", "type"},
		),
		URLsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "urls_skipped_total",
				Help:      "Total number of discovered URLs that were not fetched",
			},
			[]string{"site", "reason"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time taken to download a page",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"site"},
		),
		FrontierSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "frontier_size",
				Help:      "Current number of URLs waiting to be fetched",
			},
			[]string{"site"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Site returns a recorder that labels samples with site.
func (m *Metrics) Site(site string) *SiteRecorder {
	return &SiteRecorder{metrics: m, site: site}
}

// SiteRecorder implements crawler.Recorder for one site.
type SiteRecorder struct {
	metrics *Metrics
	site    string
}

var _ crawler.Recorder = (*SiteRecorder)(nil)

// ObserveFetch counts the page and records how long it took.
func (r *SiteRecorder) ObserveFetch(result *crawler.FetchResult) {
	class := model.ClassOf(result.StatusCode)
	r.metrics.PagesFetched.WithLabelValues(r.site, class.String()).Inc()
	r.metrics.FetchDuration.WithLabelValues(r.site).Observe(result.Duration.Seconds())

	if result.Failed() {
		r.metrics.FetchErrors.WithLabelValues(r.site, errorType(result)).Inc()
	}
}

// IncSkipped counts a URL that was not fetched.
func (r *SiteRecorder) IncSkipped(reason string) {
	r.metrics.URLsSkipped.WithLabelValues(r.site, reason).Inc()
}

// SetFrontierSize records the number of pending URLs.
func (r *SiteRecorder) SetFrontierSize(n int) {
	r.metrics.FrontierSize.WithLabelValues(r.site).Set(float64(n))
}

func errorType(result *crawler.FetchResult) string {
	switch {
	case result.TimedOut():
		return ErrorTimeout
	case errors.Is(result.Err, crawler.ErrUnexpectedStatus):
		return ErrorStatus
	default:
		return ErrorNetwork
	}
}
