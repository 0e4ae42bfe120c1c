// Package metrics exports crawl progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements crawler.MetricsRecorder on top of Prometheus collectors
type Recorder struct {
	uris      *prometheus.CounterVec
	responses *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	pending   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewRecorder registers the collectors against reg. A nil reg uses a fresh
// registry that also carries the Go and process collectors.
func NewRecorder(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r := &Recorder{
		uris: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_uris_total",
			Help: "URIs evaluated by the engine partitioned by outcome.",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_responses_total",
			Help: "Responses received partitioned by host and status class.",
		}, []string{"host", "status_class"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_response_bytes_total",
			Help: "Body bytes streamed per host.",
		}, []string{"host"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecrawler_queue_pending",
			Help: "Unprocessed URIs left in the queue of the running job.",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{r.uris, r.responses, r.bytes, r.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveURI counts a finished URI
func (r *Recorder) ObserveURI(outcome string) {
	r.uris.WithLabelValues(outcome).Inc()
}

// ObserveResponse counts a response when statusCode is set and streamed bytes when n > 0
func (r *Recorder) ObserveResponse(host string, statusCode int, n int) {
	if statusCode > 0 {
		r.responses.WithLabelValues(host, statusClass(statusCode)).Inc()
	}
	if n > 0 {
		r.bytes.WithLabelValues(host).Add(float64(n))
	}
}

// SetPending sets the pending queue size
func (r *Recorder) SetPending(n int) {
	r.pending.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
