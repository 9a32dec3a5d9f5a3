// Package metric provides Prometheus-based metrics collection and an HTTP
// server for DSP runtime observability.
//
// The package offers a centralized registry managing core runtime metrics
// (service status, message flow, errors) alongside interface- and
// handler-specific metrics, plus an HTTP endpoint exposing everything in
// Prometheus format.
//
// Two registration styles are supported. Components that know their metrics up
// front register typed collectors:
//
//	registry := metric.NewMetricsRegistry()
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "dsp", Subsystem: "tcp", Name: "bytes_read_total",
//	})
//	if err := registry.RegisterCounter("tcp-server", "bytes_read_total", counter); err != nil {
//	    return err
//	}
//
// Handlers that mint metric names at runtime use the name-based API; families
// are created lazily on first use:
//
//	_ = registry.Increment("dsp_handler_processed_total", 1, metric.Labels{"subject": subject})
//	_ = registry.Set("dsp_tcp_connection_count", float64(n), nil)
//
// The HTTP server exposes /metrics, /health and a small index page:
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop()
package metric
