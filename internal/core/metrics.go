package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metric is one series read from a health snapshot.
type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(h HealthStatus) float64
}

// serviceCollector exports the health snapshot at scrape time. Counters
// come from the controller, estimator and emitter, which already count
// monotonically.
type serviceCollector struct {
	s       *Service
	metrics []metric
}

func newServiceCollector(s *Service) *serviceCollector {
	labels := prometheus.Labels{"instance": s.cfg.InstanceID}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("postura", "", name), help, nil, labels)
	}
	counter := func(name, help string, v func(HealthStatus) float64) metric {
		return metric{desc: desc(name, help), kind: prometheus.CounterValue, value: v}
	}
	gauge := func(name, help string, v func(HealthStatus) float64) metric {
		return metric{desc: desc(name, help), kind: prometheus.GaugeValue, value: v}
	}

	return &serviceCollector{s: s, metrics: []metric{
		gauge("uptime_seconds", "Seconds since the service started running.",
			func(h HealthStatus) float64 { return float64(h.UptimeSeconds) }),
		counter("frames_processed_total", "Frames evaluated by the capture loop.",
			func(h HealthStatus) float64 { return float64(h.Capture.FramesProcessed) }),
		counter("frames_discarded_total", "Frames dropped because the loop was busy.",
			func(h HealthStatus) float64 { return float64(h.Capture.FramesDiscarded) }),
		counter("inference_errors_total", "Failed pose inferences.",
			func(h HealthStatus) float64 { return float64(h.Capture.InferenceErrors) }),
		gauge("capture_generation", "Current capture session generation.",
			func(h HealthStatus) float64 { return float64(h.Capture.Generation) }),
		gauge("loop_active", "1 while a capture loop is running.",
			func(h HealthStatus) float64 { return boolValue(h.Capture.LoopActive) }),
		counter("estimator_requests_total", "Frames sent to the pose worker.",
			func(h HealthStatus) float64 { return float64(h.Estimator.Requests) }),
		counter("estimator_failures_total", "Pose worker errors.",
			func(h HealthStatus) float64 { return float64(h.Estimator.Failures) }),
		counter("estimator_abandoned_total", "Pose results that arrived after their request was cancelled.",
			func(h HealthStatus) float64 { return float64(h.Estimator.Abandoned) }),
		gauge("estimator_latency_seconds", "Average pose worker round trip.",
			func(h HealthStatus) float64 { return h.Estimator.AvgLatencyMS / 1000 }),
		gauge("estimator_ready", "1 while the pose model is loaded.",
			func(h HealthStatus) float64 { return boolValue(h.Estimator.ModelReady) }),
		gauge("mqtt_connected", "1 while the MQTT client is connected.",
			func(h HealthStatus) float64 { return boolValue(h.MQTTConnected) }),
		counter("mqtt_errors_total", "Failed MQTT publications.",
			func(h HealthStatus) float64 { return float64(h.Emitter.Errors) }),
		counter("overlays_drawn_total", "Overlays rasterised on the render surface.",
			func(h HealthStatus) float64 { return float64(h.OverlaysDrawn) }),
	}}
}

func (c *serviceCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *serviceCollector) Collect(ch chan<- prometheus.Metric) {
	h := c.s.HealthCheck()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(h))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// metricsHandler serves a private registry so tests can build several
// services in one process.
func (s *Service) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newServiceCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
