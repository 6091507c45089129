package config

import "fmt"

// LoopbackConfig 本地参考处理服务配置
type LoopbackConfig struct {
	// Enabled 为 true 时 run 命令同时在进程内启动参考服务
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`

	// Processor overlay or echo
	Processor string `yaml:"processor" json:"processor"`

	// Quality 回传 JPEG 质量
	Quality int `yaml:"quality" json:"quality"`

	MaxPayload int `yaml:"max_payload" json:"max_payload"`

	// DebugDir 非空时每 DebugEvery 帧写出调试图像
	DebugDir   string `yaml:"debug_dir" json:"debug_dir"`
	DebugEvery int    `yaml:"debug_every" json:"debug_every"`
}

// DefaultLoopbackConfig 返回默认参考服务配置
func DefaultLoopbackConfig() *LoopbackConfig {
	return &LoopbackConfig{
		Enabled:    false,
		Host:       "127.0.0.1",
		Port:       5555,
		Processor:  "overlay",
		Quality:    90,
		MaxPayload: 64 << 20,
		DebugEvery: 30,
	}
}

// Validate 验证参考服务配置
func (c *LoopbackConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.Processor {
	case "overlay", "echo":
	default:
		return fmt.Errorf("unknown processor %q", c.Processor)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.MaxPayload <= 0 {
		return fmt.Errorf("max payload must be positive")
	}
	if c.DebugDir != "" && c.DebugEvery <= 0 {
		return fmt.Errorf("debug_every must be positive when debug_dir is set")
	}
	return nil
}

// Address returns host:port.
func (c *LoopbackConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
