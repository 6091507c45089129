package config

import (
	"fmt"
	"time"
)

// 骨骼追踪源
const (
	TrackingNone      = "none"
	TrackingSynthetic = "synthetic"
	TrackingReplay    = "replay"
)

// TrackingConfig 骨骼追踪源配置
type TrackingConfig struct {
	// Source none, synthetic or replay
	Source string `yaml:"source" json:"source"`

	// Recording 回放使用的骨骼录制文件
	Recording string `yaml:"recording" json:"recording"`
	Loop      bool   `yaml:"loop" json:"loop"`

	// Hands 合成追踪器生成的手数 (0-2)
	Hands int `yaml:"hands" json:"hands"`
	// Period 合成手部往返一次的时间
	Period time.Duration `yaml:"period" json:"period"`

	// Focal 针孔相机焦距（像素），每路流按其分辨率建立相机
	Focal float64 `yaml:"focal" json:"focal"`
}

// DefaultTrackingConfig 返回默认追踪配置
func DefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		Source: TrackingSynthetic,
		Loop:   true,
		Hands:  2,
		Period: 4 * time.Second,
		Focal:  400,
	}
}

// Validate 验证追踪配置
func (c *TrackingConfig) Validate() error {
	switch c.Source {
	case TrackingNone:
		return nil
	case TrackingSynthetic:
		if c.Hands < 0 || c.Hands > 2 {
			return fmt.Errorf("synthetic hands must be between 0 and 2, got %d", c.Hands)
		}
		if c.Period <= 0 {
			return fmt.Errorf("synthetic period must be positive, got %v", c.Period)
		}
	case TrackingReplay:
		if c.Recording == "" {
			return fmt.Errorf("recording path is required for replay")
		}
	default:
		return fmt.Errorf("unknown tracking source %q", c.Source)
	}

	if c.Focal <= 0 {
		return fmt.Errorf("focal length must be positive, got %v", c.Focal)
	}
	return nil
}
