package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-beagle/framebridge/internal/capture"
)

// 采集源类型，决定使用哪种适配器读取内置测试图案
const (
	SourceStereo = "stereo"
	SourceCamera = "camera"
)

// StreamConfig 单路桥接流配置
type StreamConfig struct {
	// Name 流名称，在进程内唯一
	Name string `yaml:"name" json:"name"`

	// Enabled 是否在 run 时启动
	Enabled bool `yaml:"enabled" json:"enabled"`

	Source SourceConfig `yaml:"source" json:"source"`

	// 远端处理服务地址
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	IOTimeout      time.Duration `yaml:"io_timeout" json:"io_timeout"`

	// SendInterval 两次发送之间的间隔
	SendInterval time.Duration `yaml:"send_interval" json:"send_interval"`
	// RetryInterval 连接失败后的重试间隔
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	WaitForResponse bool `yaml:"wait_for_response" json:"wait_for_response"`

	// Quality JPEG 质量 1-100
	Quality int `yaml:"quality" json:"quality"`

	MaxResponseSize int `yaml:"max_response_size" json:"max_response_size"`

	Mask MaskConfig `yaml:"mask" json:"mask"`
}

// SourceConfig 采集源配置
type SourceConfig struct {
	// Kind stereo or camera
	Kind string `yaml:"kind" json:"kind"`

	// Eye 立体相机的左右眼 (left, right)
	Eye string `yaml:"eye" json:"eye"`

	// Packing 立体图像打包方式 (stacked, interleaved)
	Packing string `yaml:"packing" json:"packing"`

	// Width/Height 测试图案尺寸，立体源为单眼尺寸
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	MinWidth  int `yaml:"min_width" json:"min_width"`
	MinHeight int `yaml:"min_height" json:"min_height"`
}

// MaskConfig 遮挡掩码配置
type MaskConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// CameraID 投影使用的相机编号
	CameraID int `yaml:"camera_id" json:"camera_id"`

	// Radius 笔画半径（像素）
	Radius int `yaml:"radius" json:"radius"`

	FlipHorizontal bool `yaml:"flip_horizontal" json:"flip_horizontal"`
}

// DefaultStreamConfig 返回默认流配置
func DefaultStreamConfig(name string) *StreamConfig {
	return &StreamConfig{
		Name:    name,
		Enabled: true,
		Source: SourceConfig{
			Kind:      SourceStereo,
			Eye:       "left",
			Packing:   "stacked",
			Width:     640,
			Height:    480,
			MinWidth:  capture.DefaultMinDimension,
			MinHeight: capture.DefaultMinDimension,
		},
		Host:            "127.0.0.1",
		Port:            5555,
		ConnectTimeout:  3 * time.Second,
		IOTimeout:       5 * time.Second,
		SendInterval:    33 * time.Millisecond,
		RetryInterval:   time.Second,
		WaitForResponse: true,
		Quality:         75,
		MaxResponseSize: 64 << 20,
		Mask: MaskConfig{
			Enabled: true,
			Radius:  6,
		},
	}
}

// UnmarshalYAML fills unspecified fields from DefaultStreamConfig.
func (c *StreamConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain StreamConfig
	p := (*plain)(DefaultStreamConfig(""))
	if err := value.Decode(p); err != nil {
		return err
	}
	*c = StreamConfig(*p)
	return nil
}

// Validate 验证流配置
func (c *StreamConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("stream name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ConnectTimeout <= 0 || c.IOTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.SendInterval <= 0 {
		return fmt.Errorf("send interval must be positive, got %v", c.SendInterval)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", c.RetryInterval)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.MaxResponseSize <= 0 {
		return fmt.Errorf("max response size must be positive")
	}
	if c.Mask.Radius < 1 {
		return fmt.Errorf("mask radius must be at least 1, got %d", c.Mask.Radius)
	}
	if c.Mask.CameraID < 0 {
		return fmt.Errorf("invalid mask camera id: %d", c.Mask.CameraID)
	}
	return c.Source.Validate()
}

// Validate 验证采集源配置
func (c *SourceConfig) Validate() error {
	if c.MinWidth < 0 || c.MinHeight < 0 {
		return fmt.Errorf("minimum dimensions must not be negative")
	}

	switch c.Kind {
	case SourceStereo:
		if _, err := capture.ParseEye(c.Eye); err != nil {
			return err
		}
		if _, err := capture.ParsePacking(c.Packing); err != nil {
			return err
		}
	case SourceCamera:
	default:
		return fmt.Errorf("unknown source kind %q", c.Kind)
	}

	if c.Width <= c.MinWidth || c.Height <= c.MinHeight {
		return fmt.Errorf("source size %dx%d is not above the minimum %dx%d",
			c.Width, c.Height, c.MinWidth, c.MinHeight)
	}
	return nil
}

// Limits returns the capture limits for this source.
func (c *SourceConfig) Limits() capture.Limits {
	return capture.Limits{MinWidth: c.MinWidth, MinHeight: c.MinHeight}
}
