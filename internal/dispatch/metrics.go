package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chemsim/internal/pipeline"
	"chemsim/internal/shared/model"
)

// Metrics 生成流水线指标
//
// 所有方法对 nil 接收者安全，未启用指标时直接传 nil。
type Metrics struct {
	// 提交与执行
	RunsSubmitted prometheus.Counter
	RunsFinished  *prometheus.CounterVec
	RunsInFlight  prometheus.Gauge
	RunDuration   *prometheus.HistogramVec

	// 模型调用
	ModelCalls        *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec

	// 质量
	Repairs            prometheus.Counter
	ExtractionWarnings prometheus.Counter
}

// NewMetrics 在 reg 上注册流水线指标
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_submitted_total",
				Help:      "Total number of accepted experiment submissions",
			},
		),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of finished runs by final status",
			},
			[]string{"status"},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Number of runs currently executing in this process",
			},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 900},
			},
			[]string{"status"},
		),
		ModelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of generative model calls",
			},
			[]string{"stage", "outcome"},
		),
		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Generative model call latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		Repairs: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repairs_total",
				Help:      "Total number of repair passes",
			},
		),
		ExtractionWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_warnings_total",
				Help:      "Total number of extraction fallbacks",
			},
		),
	}
}

func (m *Metrics) recordSubmitted() {
	if m == nil {
		return
	}
	m.RunsSubmitted.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) runEnded() {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
}

func (m *Metrics) recordModelCall(stage model.Stage, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ModelCalls.WithLabelValues(string(stage), outcome).Inc()
	m.ModelCallDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) recordResult(res *pipeline.Result) {
	if m == nil || res == nil {
		return
	}
	status := string(res.Status)
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(res.Duration.Seconds())
	m.Repairs.Add(float64(res.Repairs))
	m.ExtractionWarnings.Add(float64(len(res.Warnings)))
}

// recordAbandoned 未经流水线即结束的 Run（分发失败、重启中断）
func (m *Metrics) recordAbandoned() {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(string(model.RunStatusFailed)).Inc()
}
