package metrics

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Port of a standalone exposition server; 0 serves /metrics from the
	// admin web server only.
	Port      int    `yaml:"port" json:"port"`
	Path      string `yaml:"path" json:"path"`
	Host      string `yaml:"host" json:"host"`
	Namespace string `yaml:"namespace" json:"namespace"`

	// RuntimeCollectors registers Go runtime and process collectors.
	RuntimeCollectors bool `yaml:"runtime_collectors" json:"runtime_collectors"`
}

// DefaultMetricsConfig 返回默认监控配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,
		Port:              0,
		Path:              "/metrics",
		Host:              "0.0.0.0",
		Namespace:         "framebridge",
		RuntimeCollectors: true,
	}
}

// Validate 验证配置
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	return nil
}
