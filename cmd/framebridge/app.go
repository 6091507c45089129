package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/bridge"
	"github.com/open-beagle/framebridge/internal/capture"
	"github.com/open-beagle/framebridge/internal/config"
	"github.com/open-beagle/framebridge/internal/loopback"
	"github.com/open-beagle/framebridge/internal/metrics"
	"github.com/open-beagle/framebridge/internal/skeleton"
	"github.com/open-beagle/framebridge/internal/stream"
	"github.com/open-beagle/framebridge/internal/webserver"
)

// FrameBridgeApp 帧桥接应用
type FrameBridgeApp struct {
	config        *config.Config
	metrics       metrics.Metrics
	bridgeMetrics *metrics.BridgeMetrics
	tracker       skeleton.Tracker
	streams       []*stream.Stream
	host          *stream.Host
	webServer     *webserver.WebServer
	loopback      *loopback.Server
	logger        *logrus.Entry
	startTime     time.Time

	rootCtx    context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// started components, in start order
	started []component
}

// component is one startable part of the application.
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewFrameBridgeApp 创建应用，所有组件在 Start 前已构建完成
func NewFrameBridgeApp(cfg *config.Config) (*FrameBridgeApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rootCtx, cancelFunc := context.WithCancel(context.Background())
	app := &FrameBridgeApp{
		config:     cfg,
		logger:     config.GetLoggerWithPrefix("app"),
		rootCtx:    rootCtx,
		cancelFunc: cancelFunc,
	}

	if err := app.build(); err != nil {
		cancelFunc()
		return nil, err
	}
	return app, nil
}

func (app *FrameBridgeApp) build() error {
	cfg := app.config

	m, err := metrics.NewMetrics(*cfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	app.metrics = m
	if cfg.Metrics.Enabled {
		if app.bridgeMetrics, err = metrics.NewBridgeMetrics(m); err != nil {
			return fmt.Errorf("failed to register bridge metrics: %w", err)
		}
	}

	app.tracker, err = newTracker(cfg.Tracking, newCameraRig(cfg))
	if err != nil {
		return err
	}

	app.host = stream.NewHost(cfg.Host.TickRate)
	for _, sc := range cfg.Streams {
		if !sc.Enabled {
			app.logger.Infof("Stream %s disabled, skipping", sc.Name)
			continue
		}
		s, err := app.newStream(sc)
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
		}
		app.streams = append(app.streams, s)
		app.host.Register(sc.Name, s)
	}

	if cfg.WebServer != nil && cfg.WebServer.Enabled {
		opts := []webserver.Option{
			webserver.WithHost(app.host),
			webserver.WithVersion(version),
		}
		if cfg.Metrics.Enabled {
			opts = append(opts, webserver.WithMetricsHandler(m.Handler()))
		}
		ws, err := webserver.NewWebServer(cfg.WebServer, opts...)
		if err != nil {
			return fmt.Errorf("failed to create webserver: %w", err)
		}
		for _, s := range app.streams {
			if err := ws.RegisterStream(s); err != nil {
				return err
			}
		}
		app.webServer = ws
	}

	if cfg.Loopback != nil && cfg.Loopback.Enabled {
		srv, err := newLoopbackServer(cfg.Loopback)
		if err != nil {
			return err
		}
		app.loopback = srv
	}
	return nil
}

func (app *FrameBridgeApp) newStream(sc *config.StreamConfig) (*stream.Stream, error) {
	source, err := newSource(&sc.Source)
	if err != nil {
		return nil, err
	}

	deps := stream.Deps{
		Source:  source,
		Metrics: app.bridgeMetrics,
		Logger:  config.GetLoggerWithPrefix("stream"),
	}
	if sc.Mask.Enabled {
		deps.Tracker = app.tracker
	}

	return stream.New(stream.Config{
		Name:            sc.Name,
		SendInterval:    sc.SendInterval,
		RetryInterval:   sc.RetryInterval,
		WaitForResponse: sc.WaitForResponse,
		MaskEnabled:     sc.Mask.Enabled,
		Quality:         sc.Quality,
		Bridge: bridge.Config{
			Host:            sc.Host,
			Port:            sc.Port,
			ConnectTimeout:  sc.ConnectTimeout,
			IOTimeout:       sc.IOTimeout,
			MaxResponseSize: sc.MaxResponseSize,
		},
		Projector: skeleton.ProjectorConfig{
			CameraID:       sc.Mask.CameraID,
			Radius:         sc.Mask.Radius,
			FlipHorizontal: sc.Mask.FlipHorizontal,
		},
	}, deps)
}

// newSource builds the capture adapter for a stream over the built-in
// test pattern.
func newSource(sc *config.SourceConfig) (capture.Source, error) {
	switch sc.Kind {
	case config.SourceStereo:
		eye, err := capture.ParseEye(sc.Eye)
		if err != nil {
			return nil, err
		}
		packing, err := capture.ParsePacking(sc.Packing)
		if err != nil {
			return nil, err
		}
		provider := capture.NewPatternProvider(sc.Width, sc.Height, packing)
		return capture.NewStereoAdapter(provider, eye, sc.Limits()), nil
	case config.SourceCamera:
		provider := capture.NewPatternProvider(sc.Width, sc.Height, capture.PackingStacked)
		return capture.NewCameraAdapter(provider, sc.Limits()), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

// newCameraRig registers one pinhole camera per mask camera id, sized to
// the stream that projects into it.
func newCameraRig(cfg *config.Config) *skeleton.CameraRig {
	rig := skeleton.NewCameraRig()
	focal := 400.0
	if cfg.Tracking != nil && cfg.Tracking.Focal > 0 {
		focal = cfg.Tracking.Focal
	}
	for _, sc := range cfg.Streams {
		if !sc.Enabled || !sc.Mask.Enabled {
			continue
		}
		rig.Set(sc.Mask.CameraID, skeleton.NewPinholeCamera(sc.Source.Width, sc.Source.Height, focal))
	}
	return rig
}

// newTracker returns nil when tracking is disabled.
func newTracker(cfg *config.TrackingConfig, rig *skeleton.CameraRig) (skeleton.Tracker, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Source {
	case config.TrackingSynthetic:
		return skeleton.NewSyntheticTracker(rig, cfg.Hands, cfg.Period), nil
	case config.TrackingReplay:
		frames, err := skeleton.LoadRecording(cfg.Recording)
		if err != nil {
			return nil, fmt.Errorf("failed to load skeleton recording: %w", err)
		}
		return skeleton.NewReplayTracker(frames, rig, cfg.Loop), nil
	default:
		return nil, nil
	}
}

func newLoopbackServer(cfg *config.LoopbackConfig) (*loopback.Server, error) {
	proc, err := loopback.NewProcessor(cfg.Processor)
	if err != nil {
		return nil, err
	}
	return loopback.NewServer(loopback.Config{
		Address:    cfg.Address(),
		Quality:    cfg.Quality,
		MaxPayload: cfg.MaxPayload,
		DebugDir:   cfg.DebugDir,
		DebugEvery: cfg.DebugEvery,
	}, proc, config.GetLoggerWithPrefix("loopback")), nil
}

// components lists everything Start brings up, in start order. The
// loopback service comes before the streams so their first connect
// succeeds.
func (app *FrameBridgeApp) components() []component {
	var list []component

	list = append(list, component{
		name:  "metrics",
		start: func(context.Context) error { return app.metrics.Start() },
		stop: func(context.Context) error {
			if err := app.metrics.Stop(); err != nil && !errors.Is(err, metrics.ErrServerNotRunning) {
				return err
			}
			return nil
		},
	})

	if app.loopback != nil {
		list = append(list, component{
			name:  "loopback",
			start: func(context.Context) error { return app.loopback.Start(app.rootCtx) },
			stop:  func(context.Context) error { return app.loopback.Close() },
		})
	}

	for _, s := range app.streams {
		s := s
		list = append(list, component{
			name:  "stream " + s.Name(),
			start: func(context.Context) error { return s.Start(app.rootCtx) },
			stop:  s.Stop,
		})
	}

	hostCtx, cancelHost := context.WithCancel(app.rootCtx)
	list = append(list, component{
		name: "host",
		start: func(context.Context) error {
			app.wg.Add(1)
			go func() {
				defer app.wg.Done()
				_ = app.host.Run(hostCtx)
			}()
			return nil
		},
		stop: func(context.Context) error {
			cancelHost()
			app.wg.Wait()
			return nil
		},
	})

	if app.webServer != nil {
		list = append(list, component{
			name:  "webserver",
			start: func(context.Context) error { return app.webServer.Start() },
			stop:  app.webServer.Stop,
		})
	}
	return list
}

// Start 启动应用，任一组件失败时按相反顺序回滚已启动的组件
func (app *FrameBridgeApp) Start() error {
	app.logger.Infof("Starting %s %s...", AppName, version)
	app.startTime = time.Now()

	ctx, cancel := context.WithTimeout(app.rootCtx, app.config.Lifecycle.StartupTimeout)
	defer cancel()

	for _, c := range app.components() {
		app.logger.Debugf("Starting %s...", c.name)
		if err := c.start(ctx); err != nil {
			app.logger.Errorf("Failed to start %s: %v", c.name, err)
			app.rollback(ctx)
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
		app.started = append(app.started, c)
		app.logger.Debugf("%s started", c.name)
	}

	app.logger.Infof("%s started with %d stream(s)", AppName, len(app.streams))
	return nil
}

func (app *FrameBridgeApp) rollback(ctx context.Context) {
	for i := len(app.started) - 1; i >= 0; i-- {
		c := app.started[i]
		app.logger.Infof("Rolling back: stopping %s...", c.name)
		if err := c.stop(ctx); err != nil {
			app.logger.Warnf("Failed to stop %s during rollback: %v", c.name, err)
		}
	}
	app.started = nil
}

// Stop 停止应用，按启动的相反顺序关闭组件
func (app *FrameBridgeApp) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application...")
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), app.config.Lifecycle.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	for i := len(app.started) - 1; i >= 0; i-- {
		c := app.started[i]
		if err := c.stop(ctx); err != nil {
			app.logger.Errorf("Failed to stop %s: %v", c.name, err)
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", c.name, err))
		}
	}
	app.started = nil
	app.cancelFunc()

	if len(errs) > 0 {
		app.logger.Warnf("Application stopped with %d error(s) after %v", len(errs), time.Since(app.startTime).Round(time.Second))
		return errors.Join(errs...)
	}
	app.logger.Infof("Application stopped after %v", time.Since(app.startTime).Round(time.Second))
	return nil
}

// Streams returns the running streams.
func (app *FrameBridgeApp) Streams() []*stream.Stream {
	return app.streams
}

// GetConfig 获取应用配置
func (app *FrameBridgeApp) GetConfig() *config.Config {
	return app.config
}
