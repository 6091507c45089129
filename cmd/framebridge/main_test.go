package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/framebridge/internal/config"
	"github.com/open-beagle/framebridge/internal/skeleton"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, AppName)
	assert.Contains(t, out, "Go version")
}

func TestSkeletonSynthAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hands.skel")

	out, err := execute(t, "skeleton", "synth", path, "--hands", "1", "--duration", "1s", "--rate", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 11 frames")

	frames, err := skeleton.LoadRecording(path)
	require.NoError(t, err)
	require.Len(t, frames, 11)
	assert.Equal(t, 100*time.Millisecond, frames[1].At.Sub(frames[0].At))
	assert.Len(t, frames[0].Frame.Hands, 1)

	out, err = execute(t, "skeleton", "dump", path, "--limit", "3")
	require.NoError(t, err)

	var lines int
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var df dumpedFrame
		require.NoError(t, json.Unmarshal(sc.Bytes(), &df))
		require.NotNil(t, df.Frame)
		assert.EqualValues(t, lines+1, df.Frame.ID)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestSkeletonSynthRejectsBadArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.skel")
	_, err := execute(t, "skeleton", "synth", path, "--hands", "3")
	assert.Error(t, err)
	_, err = execute(t, "skeleton", "dump")
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(runOptions{
		logLevel:  "debug",
		adminPort: 9191,
		remote:    "10.0.0.7:7000",
		loopback:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9191, cfg.WebServer.Port)
	assert.True(t, cfg.Loopback.Enabled)
	for _, sc := range cfg.Streams {
		assert.Equal(t, "10.0.0.7", sc.Host)
		assert.Equal(t, 7000, sc.Port)
	}

	_, err = loadConfig(runOptions{remote: "nonsense"})
	assert.Error(t, err)
	_, err = loadConfig(runOptions{configFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort(":5555")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, 5555, port)

	_, _, err = splitHostPort("host:99999")
	assert.Error(t, err)
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	port := freePort(t)

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Metrics.RuntimeCollectors = false
	cfg.WebServer.Port = 0
	cfg.Loopback.Enabled = true
	cfg.Loopback.Port = port
	cfg.Loopback.Processor = "echo"

	sc := cfg.Streams[0]
	sc.Port = port
	sc.Source.Width, sc.Source.Height = 64, 48
	sc.SendInterval = 5 * time.Millisecond
	sc.RetryInterval = 20 * time.Millisecond

	cam := config.DefaultStreamConfig("cam")
	cam.Source.Kind = config.SourceCamera
	cam.Source.Width, cam.Source.Height = 32, 32
	cam.Port = port
	cam.SendInterval = 5 * time.Millisecond
	cam.Mask.Enabled = false
	cfg.Streams = append(cfg.Streams, cam)

	cfg.Host.TickRate = 200
	// keep the synthetic hands inside the small test frames
	cfg.Tracking.Focal = 40
	return cfg
}

func TestAppBridgesThroughLoopback(t *testing.T) {
	app, err := NewFrameBridgeApp(testAppConfig(t))
	require.NoError(t, err)
	require.Len(t, app.Streams(), 2)

	require.NoError(t, app.Start())
	defer app.Stop(context.Background())

	for _, s := range app.Streams() {
		s := s
		require.Eventually(t, func() bool {
			_, ok := s.Sink().CurrentFrame()
			return ok
		}, 5*time.Second, 10*time.Millisecond, "stream %s receives frames", s.Name())
	}

	left, _ := app.Streams()[0].Sink().CurrentFrame()
	assert.Equal(t, 64, left.Width)
	assert.Equal(t, 48, left.Height)
	assert.Greater(t, app.Streams()[0].Stats().MasksSent, int64(0))
	assert.Zero(t, app.Streams()[1].Stats().MasksSent)

	base := fmt.Sprintf("http://%s", app.webServer.Addr())
	resp, err := http.Get(base + "/api/streams/left")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Stop(context.Background()))
	for _, s := range app.Streams() {
		assert.False(t, s.IsRunning())
	}
}

func TestAppStartRollsBack(t *testing.T) {
	cfg := testAppConfig(t)

	// occupy the loopback port so the second component fails
	ln, err := net.Listen("tcp", cfg.Loopback.Address())
	require.NoError(t, err)
	defer ln.Close()

	app, err := NewFrameBridgeApp(cfg)
	require.NoError(t, err)

	err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loopback")
	for _, s := range app.Streams() {
		assert.False(t, s.IsRunning())
	}
	assert.NoError(t, app.Stop(context.Background()))
}

func TestNewTracker(t *testing.T) {
	rig := skeleton.NewCameraRig()

	tr, err := newTracker(&config.TrackingConfig{Source: config.TrackingNone}, rig)
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = newTracker(config.DefaultTrackingConfig(), rig)
	require.NoError(t, err)
	assert.IsType(t, &skeleton.SyntheticTracker{}, tr)

	_, err = newTracker(&config.TrackingConfig{Source: config.TrackingReplay, Recording: "/does/not/exist"}, rig)
	assert.Error(t, err)
}
