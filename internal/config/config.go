package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-beagle/framebridge/internal/metrics"
)

// Config framebridge 配置聚合器
type Config struct {
	// 日志配置
	Logging *LoggingConfig `yaml:"logging" json:"logging"`

	// 桥接流配置，每路流一条独立连接
	Streams []*StreamConfig `yaml:"streams" json:"streams"`

	// 宿主节拍配置
	Host HostConfig `yaml:"host" json:"host"`

	// 骨骼追踪源配置
	Tracking *TrackingConfig `yaml:"tracking" json:"tracking"`

	// 管理接口配置
	WebServer *WebServerConfig `yaml:"webserver" json:"webserver"`

	// Metrics配置
	Metrics *metrics.MetricsConfig `yaml:"metrics" json:"metrics"`

	// 本地参考处理服务配置
	Loopback *LoopbackConfig `yaml:"loopback" json:"loopback"`

	// 生命周期管理配置
	Lifecycle LifecycleConfig `yaml:"lifecycle" json:"lifecycle"`
}

// HostConfig 宿主调度配置
type HostConfig struct {
	// TickRate 每秒节拍数
	TickRate int `yaml:"tick_rate" json:"tick_rate"`
}

// LifecycleConfig 生命周期管理配置
type LifecycleConfig struct {
	// 优雅关闭超时时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 组件启动超时时间
	StartupTimeout time.Duration `yaml:"startup_timeout" json:"startup_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	metricsConfig := metrics.DefaultMetricsConfig()
	cfg := &Config{
		Logging:   DefaultLoggingConfig(),
		Streams:   []*StreamConfig{DefaultStreamConfig("left")},
		Tracking:  DefaultTrackingConfig(),
		WebServer: DefaultWebServerConfig(),
		Metrics:   &metricsConfig,
		Loopback:  DefaultLoopbackConfig(),
	}

	cfg.Host.TickRate = 60
	cfg.Lifecycle.ShutdownTimeout = 10 * time.Second
	cfg.Lifecycle.StartupTimeout = 30 * time.Second

	return cfg
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("invalid logging config: %w", err)
		}
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("at least one stream must be configured")
	}
	names := make(map[string]bool)
	for i, s := range c.Streams {
		if s == nil {
			return fmt.Errorf("stream %d is empty", i)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid stream %q: %w", s.Name, err)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		names[s.Name] = true
	}

	if c.Host.TickRate <= 0 || c.Host.TickRate > 1000 {
		return fmt.Errorf("host tick rate must be between 1 and 1000, got %d", c.Host.TickRate)
	}

	if c.Tracking != nil {
		if err := c.Tracking.Validate(); err != nil {
			return fmt.Errorf("invalid tracking config: %w", err)
		}
	}

	if c.WebServer != nil {
		if err := c.WebServer.Validate(); err != nil {
			return fmt.Errorf("invalid webserver config: %w", err)
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("invalid metrics config: %w", err)
		}
	}

	if c.Loopback != nil {
		if err := c.Loopback.Validate(); err != nil {
			return fmt.Errorf("invalid loopback config: %w", err)
		}
	}

	if err := c.validateLifecycleConfig(); err != nil {
		return fmt.Errorf("invalid lifecycle config: %w", err)
	}

	if err := c.validateCrossModuleCompatibility(); err != nil {
		return fmt.Errorf("module compatibility error: %w", err)
	}

	return nil
}

// validateLifecycleConfig 验证生命周期配置
func (c *Config) validateLifecycleConfig() error {
	if c.Lifecycle.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got: %v", c.Lifecycle.ShutdownTimeout)
	}
	if c.Lifecycle.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive, got: %v", c.Lifecycle.StartupTimeout)
	}
	return nil
}

// validateCrossModuleCompatibility 检查本进程监听端口冲突
func (c *Config) validateCrossModuleCompatibility() error {
	usedPorts := make(map[int]string)
	claim := func(port int, owner string) error {
		if port == 0 {
			return nil
		}
		if existing, exists := usedPorts[port]; exists {
			return fmt.Errorf("port conflict: %s port %d already used by %s", owner, port, existing)
		}
		usedPorts[port] = owner
		return nil
	}

	if c.WebServer != nil && c.WebServer.Enabled {
		if err := claim(c.WebServer.Port, "webserver"); err != nil {
			return err
		}
	}
	if c.Metrics != nil && c.Metrics.Enabled {
		if err := claim(c.Metrics.Port, "metrics"); err != nil {
			return err
		}
	}
	if c.Loopback != nil && c.Loopback.Enabled {
		if err := claim(c.Loopback.Port, "loopback"); err != nil {
			return err
		}
	}
	return nil
}

// Stream returns the stream config with the given name.
func (c *Config) Stream(name string) (*StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Merge 合并其他配置
func (c *Config) Merge(other *Config) error {
	if other == nil {
		return nil
	}

	if other.Logging != nil {
		if c.Logging == nil {
			c.Logging = DefaultLoggingConfig()
		}
		if err := c.Logging.Merge(other.Logging); err != nil {
			return fmt.Errorf("failed to merge logging config: %w", err)
		}
	}

	// streams are replaced as a whole
	if len(other.Streams) > 0 {
		c.Streams = other.Streams
	}

	if other.Host.TickRate != 0 {
		c.Host.TickRate = other.Host.TickRate
	}

	if other.Tracking != nil {
		c.Tracking = other.Tracking
	}

	if other.WebServer != nil {
		if c.WebServer == nil {
			c.WebServer = DefaultWebServerConfig()
		}
		c.WebServer.Merge(other.WebServer)
	}

	if other.Metrics != nil {
		c.Metrics = other.Metrics
	}

	if other.Loopback != nil {
		c.Loopback = other.Loopback
	}

	if other.Lifecycle.ShutdownTimeout != 0 {
		c.Lifecycle.ShutdownTimeout = other.Lifecycle.ShutdownTimeout
	}
	if other.Lifecycle.StartupTimeout != 0 {
		c.Lifecycle.StartupTimeout = other.Lifecycle.StartupTimeout
	}

	return nil
}

// String 返回配置的字符串表示
func (c *Config) String() string {
	streams := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		streams = append(streams, fmt.Sprintf("%s->%s:%d", s.Name, s.Host, s.Port))
	}

	webInfo := "disabled"
	if c.WebServer != nil && c.WebServer.Enabled {
		webInfo = fmt.Sprintf("%s:%d", c.WebServer.Host, c.WebServer.Port)
	}

	tracking := "none"
	if c.Tracking != nil {
		tracking = c.Tracking.Source
	}

	return fmt.Sprintf("Config{Streams: [%s], Tracking: %s, WebServer: %s, TickRate: %d}",
		strings.Join(streams, ", "), tracking, webInfo, c.Host.TickRate)
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
