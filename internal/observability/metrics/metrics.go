package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 持有流水线暴露的全部 Prometheus 指标。
// 作业指标按类别打标签，HTTP 指标按处理器与方法打标签。
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued  *prometheus.CounterVec
	jobsClaimed   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsDead      *prometheus.CounterVec
	jobLatency    *prometheus.HistogramVec

	queueDepth *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector 创建并注册全部指标。
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_jobs_enqueued_total",
			Help: "Total number of jobs enqueued.",
		}, []string{"category"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_jobs_claimed_total",
			Help: "Total number of jobs claimed by workers.",
		}, []string{"category"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_jobs_completed_total",
			Help: "Total number of jobs completed successfully.",
		}, []string{"category"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_jobs_retried_total",
			Help: "Total number of job retries scheduled.",
		}, []string{"category"}),
		jobsDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_jobs_dead_total",
			Help: "Total number of jobs moved to the dead letter state.",
		}, []string{"category"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settleflow_job_duration_seconds",
			Help:    "Job processing duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settleflow_queue_depth",
			Help: "Current number of jobs per category and status.",
		}, []string{"category", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settleflow_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settleflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	registry.MustRegister(
		c.jobsEnqueued, c.jobsClaimed, c.jobsCompleted, c.jobsRetried, c.jobsDead,
		c.jobLatency, c.queueDepth, c.httpRequests, c.httpLatency,
	)
	return c
}

// RecordEnqueue 记录作业入队。
func (c *Collector) RecordEnqueue(category string) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(category).Inc()
}

// RecordClaim 记录作业被认领。
func (c *Collector) RecordClaim(category string) {
	if c == nil {
		return
	}
	c.jobsClaimed.WithLabelValues(category).Inc()
}

// RecordCompleted 记录作业完成及其耗时。
func (c *Collector) RecordCompleted(category string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsCompleted.WithLabelValues(category).Inc()
	c.jobLatency.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试调度。
func (c *Collector) RecordRetry(category string) {
	if c == nil {
		return
	}
	c.jobsRetried.WithLabelValues(category).Inc()
}

// RecordDead 记录作业进入死信。
func (c *Collector) RecordDead(category string) {
	if c == nil {
		return
	}
	c.jobsDead.WithLabelValues(category).Inc()
}

// SetQueueDepth 更新类别下某状态的作业数量。
func (c *Collector) SetQueueDepth(category, status string, depth int64) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(category, status).Set(float64(depth))
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式暴露指标。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer 启动独立的 /metrics HTTP 服务并随 ctx 关闭。
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
