package config

import (
	"fmt"
	"time"
)

// WebServerConfig 管理接口配置
type WebServerConfig struct {
	Enabled    bool      `yaml:"enabled" json:"enabled"`
	Host       string    `yaml:"host" json:"host"`
	Port       int       `yaml:"port" json:"port"`
	EnableTLS  bool      `yaml:"enable_tls" json:"enable_tls"`
	TLS        TLSConfig `yaml:"tls" json:"tls"`
	EnableCORS bool      `yaml:"enable_cors" json:"enable_cors"`

	// AuthToken 非空时 /api 需要 Bearer 令牌
	AuthToken string `yaml:"auth_token" json:"-"`

	// PreviewInterval 预览 websocket 推送的最小间隔
	PreviewInterval time.Duration `yaml:"preview_interval" json:"preview_interval"`
}

// TLSConfig TLS配置
type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DefaultWebServerConfig 返回默认的WebServer配置
func DefaultWebServerConfig() *WebServerConfig {
	return &WebServerConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            8080,
		EnableCORS:      true,
		PreviewInterval: 100 * time.Millisecond,
	}
}

// Validate 验证配置
func (c *WebServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 0 and 65535)", c.Port)
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if c.EnableTLS {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
	}

	if c.PreviewInterval < 0 {
		return fmt.Errorf("preview interval must not be negative, got %v", c.PreviewInterval)
	}
	return nil
}

// Address returns host:port.
func (c *WebServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Merge 合并非零值
func (c *WebServerConfig) Merge(other *WebServerConfig) {
	if other == nil {
		return
	}
	c.Enabled = other.Enabled
	if other.Host != "" {
		c.Host = other.Host
	}
	if other.Port != 0 {
		c.Port = other.Port
	}
	if other.EnableTLS {
		c.EnableTLS = true
	}
	if other.TLS.CertFile != "" {
		c.TLS.CertFile = other.TLS.CertFile
	}
	if other.TLS.KeyFile != "" {
		c.TLS.KeyFile = other.TLS.KeyFile
	}
	c.EnableCORS = other.EnableCORS
	if other.AuthToken != "" {
		c.AuthToken = other.AuthToken
	}
	if other.PreviewInterval != 0 {
		c.PreviewInterval = other.PreviewInterval
	}
}
