package prom

import (
	"sync"

	xhttp "github.com/relaytext/campaign-engine/pkg/http"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemJobs     = "jobs"
	SystemMessages = "messages"
)

const (
	MetricJobDuration  = "duration_seconds"
	MetricJobOutcomes  = "outcomes_total"
	MetricMessagesSent = "sent_total"
)

var (
	registerLock sync.Mutex
	namespace    = "none"
	enabled      = false

	counterVecs   = make(map[string]*prometheus.CounterVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)

	defaultLabels prometheus.Labels
)

// Create registers the engine's metric families. Instrumentation calls
// are no-ops until this runs, so library code never has to care whether
// metrics are wired.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace
	enabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	// Background jobs
	hasError(registerHistogramVec(SystemJobs, MetricJobDuration, []string{"kind"}))
	hasError(registerCounterVec(SystemJobs, MetricJobOutcomes, []string{"kind", "outcome"}))

	// Outbound messages
	hasError(registerCounterVec(SystemMessages, MetricMessagesSent, []string{"status"}))

	return err
}

// ListenAndServer exposes /metrics on its own listener, off the main
// API port.
func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Router = xhttp.CreateDefaultRouter()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func registerCounterVec(subsystem, name string, labels []string) error {
	registerLock.Lock()
	defer registerLock.Unlock()
	counterVecs[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(counterVecs[subsystem+name])
}

func registerHistogramVec(subsystem, name string, labels []string) error {
	registerLock.Lock()
	defer registerLock.Unlock()
	histogramVecs[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(histogramVecs[subsystem+name])
}

func incCounterVec(subsystem, name string, labelValues ...string) {
	if !enabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func observeHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !enabled {
		return
	}
	if v, ok := histogramVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func ObserveJobDuration(kind string, seconds float64) {
	observeHistogramVec(SystemJobs, MetricJobDuration, seconds, kind)
}

func IncJobOutcome(kind, outcome string) {
	incCounterVec(SystemJobs, MetricJobOutcomes, kind, outcome)
}

func IncMessageSent(status string) {
	incCounterVec(SystemMessages, MetricMessagesSent, status)
}
