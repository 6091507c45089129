package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Streams, 1)
	s := cfg.Streams[0]
	assert.Equal(t, "left", s.Name)
	assert.Equal(t, 75, s.Quality)
	assert.Equal(t, 33*time.Millisecond, s.SendInterval)
	assert.Equal(t, time.Second, s.RetryInterval)
	assert.True(t, s.WaitForResponse)
	assert.Equal(t, 60, cfg.Host.TickRate)
	assert.False(t, cfg.Loopback.Enabled)
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
logging:
  level: debug
host:
  tick_rate: 90
streams:
  - name: left
    port: 6000
    send_interval: 50ms
    mask:
      radius: 3
      flip_horizontal: true
  - name: right
    source:
      eye: right
      packing: interleaved
    quality: 40
    wait_for_response: false
tracking:
  source: none
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format, "unset logging fields keep defaults")
	assert.Equal(t, 90, cfg.Host.TickRate)
	require.Len(t, cfg.Streams, 2)

	left, ok := cfg.Stream("left")
	require.True(t, ok)
	assert.Equal(t, 6000, left.Port)
	assert.Equal(t, 50*time.Millisecond, left.SendInterval)
	assert.Equal(t, 3, left.Mask.Radius)
	assert.True(t, left.Mask.FlipHorizontal)
	assert.True(t, left.Mask.Enabled)
	assert.Equal(t, "127.0.0.1", left.Host)
	assert.Equal(t, 75, left.Quality)

	right, ok := cfg.Stream("right")
	require.True(t, ok)
	assert.Equal(t, "right", right.Source.Eye)
	assert.Equal(t, "interleaved", right.Source.Packing)
	assert.Equal(t, SourceStereo, right.Source.Kind)
	assert.Equal(t, 40, right.Quality)
	assert.False(t, right.WaitForResponse)
	assert.Equal(t, 5555, right.Port)

	_, ok = cfg.Stream("missing")
	assert.False(t, ok)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate stream names", "streams:\n  - name: a\n  - name: a\n"},
		{"unnamed stream", "streams:\n  - port: 7000\n"},
		{"bad quality", "streams:\n  - name: a\n    quality: 0\n"},
		{"bad eye", "streams:\n  - name: a\n    source:\n      eye: middle\n"},
		{"unknown source kind", "streams:\n  - name: a\n    source:\n      kind: screen\n"},
		{"source below minimum", "streams:\n  - name: a\n    source:\n      width: 16\n"},
		{"tick rate", "host:\n  tick_rate: 0\n"},
		{"replay without recording", "tracking:\n  source: replay\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"port conflict", "metrics:\n  enabled: true\n  port: 8080\n"},
		{"malformed yaml", "streams: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestStreamConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*StreamConfig)
	}{
		{"empty host", func(c *StreamConfig) { c.Host = "" }},
		{"port out of range", func(c *StreamConfig) { c.Port = 70000 }},
		{"zero send interval", func(c *StreamConfig) { c.SendInterval = 0 }},
		{"zero retry interval", func(c *StreamConfig) { c.RetryInterval = 0 }},
		{"zero connect timeout", func(c *StreamConfig) { c.ConnectTimeout = 0 }},
		{"zero radius", func(c *StreamConfig) { c.Mask.Radius = 0 }},
		{"negative camera", func(c *StreamConfig) { c.Mask.CameraID = -1 }},
		{"zero max response", func(c *StreamConfig) { c.MaxResponseSize = 0 }},
		{"negative minimum", func(c *StreamConfig) { c.Source.MinWidth = -1 }},
	}

	require.NoError(t, DefaultStreamConfig("ok").Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultStreamConfig("s")
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("camera source ignores eye", func(t *testing.T) {
		c := DefaultStreamConfig("cam")
		c.Source.Kind = SourceCamera
		c.Source.Eye = "whatever"
		assert.NoError(t, c.Validate())
	})
}

func TestSourceConfig_Limits(t *testing.T) {
	c := DefaultStreamConfig("s")
	c.Source.MinWidth = 32
	c.Source.MinHeight = 24

	limits := c.Source.Limits()
	assert.Equal(t, 32, limits.MinWidth)
	assert.Equal(t, 24, limits.MinHeight)
}

func TestConfig_PortConflicts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loopback.Enabled = true
	cfg.Loopback.Port = cfg.WebServer.Port
	assert.Error(t, cfg.Validate())

	cfg.Loopback.Enabled = false
	assert.NoError(t, cfg.Validate(), "disabled listeners do not claim ports")

	cfg.Loopback.Enabled = true
	cfg.Loopback.Port = 0
	assert.NoError(t, cfg.Validate(), "ephemeral ports never conflict")
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framebridge.yaml")

	cfg := DefaultConfig()
	cfg.Streams = append(cfg.Streams, DefaultStreamConfig("right"))
	cfg.Streams[1].Source.Eye = "right"
	cfg.Streams[1].SendInterval = 20 * time.Millisecond
	cfg.Tracking.Source = TrackingNone
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Streams, 2)
	assert.Equal(t, "right", loaded.Streams[1].Source.Eye)
	assert.Equal(t, 20*time.Millisecond, loaded.Streams[1].SendInterval)
	assert.Equal(t, TrackingNone, loaded.Tracking.Source)

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Merge(t *testing.T) {
	cfg := DefaultConfig()

	other := &Config{
		Logging: &LoggingConfig{Level: "warn"},
		Streams: []*StreamConfig{DefaultStreamConfig("only")},
		Host:    HostConfig{TickRate: 30},
		WebServer: &WebServerConfig{
			Enabled: true,
			Port:    9090,
		},
		Lifecycle: LifecycleConfig{ShutdownTimeout: time.Second},
	}
	require.NoError(t, cfg.Merge(other))

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, "only", cfg.Streams[0].Name)
	assert.Equal(t, 30, cfg.Host.TickRate)
	assert.Equal(t, 9090, cfg.WebServer.Port)
	assert.Equal(t, "127.0.0.1", cfg.WebServer.Host)
	assert.Equal(t, time.Second, cfg.Lifecycle.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.StartupTimeout)

	assert.NoError(t, cfg.Merge(nil))
	assert.Error(t, cfg.Merge(&Config{Logging: &LoggingConfig{Level: "nope"}}))
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	assert.Contains(t, s, "left->127.0.0.1:5555")
	assert.Contains(t, s, "synthetic")
	assert.Contains(t, s, "127.0.0.1:8080")
}

func TestTrackingConfig_Validate(t *testing.T) {
	c := DefaultTrackingConfig()
	require.NoError(t, c.Validate())

	c.Hands = 3
	assert.Error(t, c.Validate())

	c = DefaultTrackingConfig()
	c.Focal = 0
	assert.Error(t, c.Validate())

	c = DefaultTrackingConfig()
	c.Source = TrackingNone
	c.Focal = 0
	assert.NoError(t, c.Validate(), "no camera is needed without tracking")

	c = DefaultTrackingConfig()
	c.Source = "leap"
	assert.Error(t, c.Validate())
}

func TestLoopbackConfig_Validate(t *testing.T) {
	c := DefaultLoopbackConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "127.0.0.1:5555", c.Address())

	c.Processor = "inpaint"
	assert.Error(t, c.Validate())

	c = DefaultLoopbackConfig()
	c.DebugDir = t.TempDir()
	c.DebugEvery = 0
	assert.Error(t, c.Validate())
}

func TestWebServerConfig_Validate(t *testing.T) {
	c := DefaultWebServerConfig()
	require.NoError(t, c.Validate())

	c.EnableTLS = true
	assert.Error(t, c.Validate())
	c.TLS = TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}
	assert.NoError(t, c.Validate())

	c = DefaultWebServerConfig()
	c.Enabled = false
	c.Host = ""
	assert.NoError(t, c.Validate(), "disabled server is not checked")
}
