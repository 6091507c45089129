package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics 监控接口
type Metrics interface {
	// Start 启动独立的监控服务（仅在配置了独立端口时）
	Start() error

	// Stop 停止监控服务
	Stop() error

	// RegisterGauge 注册仪表盘指标
	RegisterGauge(name, help string, labels []string) (Gauge, error)

	// RegisterCounter 注册计数器指标
	RegisterCounter(name, help string, labels []string) (Counter, error)

	// RegisterHistogram 注册直方图指标
	RegisterHistogram(name, help string, labels []string, buckets []float64) (Histogram, error)

	// GetRegistry 获取 Prometheus 注册表
	GetRegistry() *prometheus.Registry

	// Handler returns the exposition handler for the registry.
	Handler() http.Handler

	// IsRunning 检查服务是否运行
	IsRunning() bool
}

// Gauge 仪表盘接口
type Gauge interface {
	Set(value float64, labels ...string)
	Inc(labels ...string)
	Dec(labels ...string)
	Add(value float64, labels ...string)
}

// Counter 计数器接口
type Counter interface {
	Inc(labels ...string)
	Add(value float64, labels ...string)
}

// Histogram 直方图接口
type Histogram interface {
	Observe(value float64, labels ...string)
}

// metricsImpl Metrics接口的实现
type metricsImpl struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server
	running  bool
	mu       sync.RWMutex
	logger   *logrus.Entry

	gauges     map[string]*prometheus.GaugeVec
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetrics 创建新的监控实例
func NewMetrics(config MetricsConfig) (Metrics, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	if config.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &metricsImpl{
		config:     config,
		registry:   registry,
		logger:     logrus.WithField("component", "metrics"),
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

// Start 启动监控服务
func (m *metricsImpl) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled || m.config.Port == 0 {
		// exposed through the admin web server only
		return nil
	}
	if m.running {
		return ErrServerAlreadyRunning
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.handler())

	m.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", m.config.Host, m.config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	server := m.server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Errorf("Metrics server error: %v", err)
		}
	}()

	m.running = true
	m.logger.Infof("Metrics server listening on %s%s", m.server.Addr, m.config.Path)
	return nil
}

// Stop 停止监控服务
func (m *metricsImpl) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrServerNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}

	m.running = false
	return nil
}

func (m *metricsImpl) fullName(name string) string {
	if m.config.Namespace == "" {
		return name
	}
	return m.config.Namespace + "_" + name
}

// RegisterGauge 注册仪表盘指标
func (m *metricsImpl) RegisterGauge(name, help string, labels []string) (Gauge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gauges[name]; exists {
		return nil, ErrMetricAlreadyRegistered
	}

	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.fullName(name), Help: help}, labels)
	if err := m.registry.Register(gauge); err != nil {
		return nil, err
	}

	m.gauges[name] = gauge
	return &gaugeImpl{gauge: gauge}, nil
}

// RegisterCounter 注册计数器指标
func (m *metricsImpl) RegisterCounter(name, help string, labels []string) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.counters[name]; exists {
		return nil, ErrMetricAlreadyRegistered
	}

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: m.fullName(name), Help: help}, labels)
	if err := m.registry.Register(counter); err != nil {
		return nil, err
	}

	m.counters[name] = counter
	return &counterImpl{counter: counter}, nil
}

// RegisterHistogram 注册直方图指标
func (m *metricsImpl) RegisterHistogram(name, help string, labels []string, buckets []float64) (Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.histograms[name]; exists {
		return nil, ErrMetricAlreadyRegistered
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: m.fullName(name), Help: help, Buckets: buckets},
		labels,
	)
	if err := m.registry.Register(histogram); err != nil {
		return nil, err
	}

	m.histograms[name] = histogram
	return &histogramImpl{histogram: histogram}, nil
}

// GetRegistry 获取 Prometheus 注册表
func (m *metricsImpl) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for the registry.
func (m *metricsImpl) Handler() http.Handler {
	return m.handler()
}

func (m *metricsImpl) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IsRunning 检查服务是否运行
func (m *metricsImpl) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

type gaugeImpl struct {
	gauge *prometheus.GaugeVec
}

func (g *gaugeImpl) Set(value float64, labels ...string) {
	g.gauge.WithLabelValues(labels...).Set(value)
}

func (g *gaugeImpl) Inc(labels ...string) {
	g.gauge.WithLabelValues(labels...).Inc()
}

func (g *gaugeImpl) Dec(labels ...string) {
	g.gauge.WithLabelValues(labels...).Dec()
}

func (g *gaugeImpl) Add(value float64, labels ...string) {
	g.gauge.WithLabelValues(labels...).Add(value)
}

type counterImpl struct {
	counter *prometheus.CounterVec
}

func (c *counterImpl) Inc(labels ...string) {
	c.counter.WithLabelValues(labels...).Inc()
}

func (c *counterImpl) Add(value float64, labels ...string) {
	c.counter.WithLabelValues(labels...).Add(value)
}

type histogramImpl struct {
	histogram *prometheus.HistogramVec
}

func (h *histogramImpl) Observe(value float64, labels ...string) {
	h.histogram.WithLabelValues(labels...).Observe(value)
}
