// Package metrics exposes run counters over an optional Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"upscale-batch/internal/model"
	"upscale-batch/internal/optimize"
	"upscale-batch/internal/pipeline"
	"upscale-batch/internal/upscale"
)

const namespace = "upscale_batch"

type Metrics struct {
	registry *prometheus.Registry

	upscaled   prometheus.Counter
	skipped    prometheus.Counter
	retries    *prometheus.CounterVec
	optimized  prometheus.Counter
	abandoned  prometheus.Counter
	savedBytes prometheus.Counter
	queued     prometheus.Gauge
	active     prometheus.Gauge
	total      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		upscaled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upscaled_total",
			Help:      "Images that finished every upscale pass.",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Images too small to upscale.",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upscale_retries_total",
			Help:      "Upscaler retries, by pass number.",
		}, []string{"pass"}),
		optimized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimized_total",
			Help:      "Images recompressed and marked done.",
		}),
		abandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_total",
			Help:      "Images whose optimization or rename failed.",
		}),
		savedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_bytes_total",
			Help:      "Bytes saved by recompression.",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Upscaled images waiting for a worker.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently optimizing an image.",
		}),
		total: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "images",
			Help:      "Images classified for this run.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpscaleHooks chains the counters in front of next.
func (m *Metrics) UpscaleHooks(next upscale.Hooks) upscale.Hooks {
	return upscale.Hooks{
		OnEnqueue: func(path string) {
			m.upscaled.Inc()
			if next.OnEnqueue != nil {
				next.OnEnqueue(path)
			}
		},
		OnRetry: func(path string, passIndex int, p model.Pass, status int) {
			m.retries.WithLabelValues(strconv.Itoa(passIndex + 1)).Inc()
			if next.OnRetry != nil {
				next.OnRetry(path, passIndex, p, status)
			}
		},
		OnSkip: func(path string) {
			m.skipped.Inc()
			if next.OnSkip != nil {
				next.OnSkip(path)
			}
		},
	}
}

func (m *Metrics) OptimizeHooks(next optimize.Hooks) optimize.Hooks {
	return optimize.Hooks{
		OnOptimized: func(res optimize.Result, final string) {
			m.optimized.Inc()
			if saved := res.Before - res.After; saved > 0 {
				m.savedBytes.Add(float64(saved))
			}
			if next.OnOptimized != nil {
				next.OnOptimized(res, final)
			}
		},
		OnAbandoned: func(path string, err error) {
			m.abandoned.Inc()
			if next.OnAbandoned != nil {
				next.OnAbandoned(path, err)
			}
		},
	}
}

// Reporter updates the gauges from each snapshot before handing it on.
func (m *Metrics) Reporter(next pipeline.Reporter) pipeline.Reporter {
	return pipeline.ReporterFunc(func(s pipeline.Snapshot) {
		m.queued.Set(float64(s.Queued))
		m.active.Set(float64(s.Active))
		m.total.Set(float64(s.Total))
		if next != nil {
			next.Report(s)
		}
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the /metrics endpoint on addr. The returned function shuts
// it down.
func (m *Metrics) Serve(addr string, log *zap.Logger) (func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("starting prometheus metrics server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		log.Info("metrics server shut down")
	}, nil
}
