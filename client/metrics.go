package client

import (
	"github.com/krau/mlaxios/service"
	"github.com/krau/mlaxios/tensor"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	latency *prometheus.HistogramVec
	errors  prometheus.Counter
}

func newMetrics(r prometheus.Registerer) *metrics {
	m := &metrics{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mlaxios",
				Subsystem: "predict",
				Name:      "inference_duration_seconds",
				Help:      "Duration of model invocation, excluding interceptors",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device"},
		),
		errors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mlaxios",
				Subsystem: "predict",
				Name:      "errors_total",
				Help:      "Total failed predictions",
			},
		),
	}
	live := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mlaxios",
			Subsystem: "tensor",
			Name:      "live_buffers",
			Help:      "Buffers allocated and not yet disposed",
		},
		func() float64 { return float64(tensor.Memory().Live) },
	)
	r.MustRegister(m.latency, m.errors, live)
	return m
}

func (m *metrics) observe(res *service.Result, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.errors.Inc()
		return
	}
	m.latency.WithLabelValues(res.Device).Observe(res.Latency.Seconds())
}
