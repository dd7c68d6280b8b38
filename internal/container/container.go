package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quote-board-go/config"
	"quote-board-go/gateway"
	"quote-board-go/infrastructure/alert"
	"quote-board-go/infrastructure/logger"
	hotreload "quote-board-go/internal/config"
	"quote-board-go/internal/engine"
	"quote-board-go/market"
	"quote-board-go/metrics"
	"quote-board-go/quote"
	"quote-board-go/sim"
	"quote-board-go/web"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	alertMgr *alert.Manager

	// 核心服务
	fetcher  engine.Fetcher
	board    *market.Board
	engine   *engine.RefreshEngine
	reloader *hotreload.HotReloader
	web      *web.Server

	lifecycle *LifecycleManager
	notifier  *systemdNotifier
}

// New 从配置文件创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewFromConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewFromConfig 使用已校验的配置；没有配置文件时不启用热更新。
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildFetcher()
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("mode", c.cfg.Mode))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	if c.cfg.Env == "dev" {
		channels = append(channels, alert.NewConsoleChannel("console", nil))
	}
	throttle := time.Duration(c.cfg.Alert.ThrottleSec) * time.Second
	c.alertMgr = alert.NewManager(channels, throttle)

	c.notifier = newSystemdNotifier(c.logger, c.HealthCheck)
	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildFetcher() {
	if c.cfg.Mode == config.ModeSim {
		c.fetcher = sim.NewGenerator(sim.Config{
			Seed:       c.cfg.Sim.Seed,
			DollarStep: c.cfg.Sim.DollarStep,
			RealStep:   c.cfg.Sim.RealStep,
		}, c.cfg.Initial)
		c.logger.Info("fetcher built", zap.String("kind", "sim"))
		return
	}
	src := c.cfg.Source
	c.fetcher = &gateway.PageClient{
		URL:        src.URL,
		Proxy:      src.Proxy,
		UserAgent:  src.UserAgent,
		HTTPClient: gateway.NewDefaultHTTPClient(src.Timeout()),
		Limiter:    gateway.NewRateLimiter(src.RatePerSec, src.Burst),
		Retries:    src.Retries,
		OnAttemptError: func(attempt int, err error) {
			c.logger.Debug("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	c.logger.Info("fetcher built", zap.String("kind", "http"), zap.String("url", src.URL))
}

func (c *Container) buildCoreServices() error {
	pipeline, err := quote.NewPipeline(c.cfg.Spec())
	if err != nil {
		return fmt.Errorf("compile pipeline: %w", err)
	}
	c.board = market.NewBoard(c.cfg.Initial, market.NewPublisher())
	metrics.SetBoard(c.cfg.Initial)

	// 单次抓取包含重试，整体超时按次数放大
	fetchTimeout := c.cfg.Source.Timeout()*time.Duration(c.cfg.Source.Retries+1) + 5*time.Second
	c.engine, err = engine.New(engine.Config{
		Interval:         c.cfg.Schedule.Interval(),
		ManualCooldown:   c.cfg.Schedule.ManualCooldown(),
		FetchTimeout:     fetchTimeout,
		StaleAfter:       time.Duration(c.cfg.Alert.StaleAfterSec) * time.Second,
		FailureThreshold: c.cfg.Alert.FailureThreshold,
		RefreshOnStart:   true,
	}, engine.Components{
		Fetcher:      c.fetcher,
		Pipeline:     pipeline,
		Board:        c.board,
		AlertManager: c.alertMgr,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	c.web, err = web.NewServer(c.board, c.engine, c.logger)
	if err != nil {
		return fmt.Errorf("create web server: %w", err)
	}
	c.web.SetRateLimit(c.cfg.Server.RatePerSec, c.cfg.Server.Burst)

	if c.configPath != "" && c.cfg.HotReload.Enabled {
		c.reloader, err = hotreload.NewHotReloader(c.configPath, hotreload.HotReloadConfig{
			Enabled:      true,
			CooldownTime: time.Duration(c.cfg.HotReload.CooldownMs) * time.Millisecond,
		}, c.engine, c.logger)
		if err != nil {
			return fmt.Errorf("create hot reloader: %w", err)
		}
	}

	c.logger.Info("core services built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register(&engineComponent{engine: c.engine})
	if c.reloader != nil {
		c.lifecycle.Register(&reloaderComponent{reloader: c.reloader})
	}
	c.lifecycle.Register(&httpServerComponent{
		name:    "web_server",
		handler: c.web.Handler(),
		addr:    c.cfg.Server.Addr,
		logger:  c.logger,
	})
	if c.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.notifier.Ready()
	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	c.notifier.Stopping()

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Board() *market.Board { return c.board }

func (c *Container) Engine() *engine.RefreshEngine { return c.engine }

func (c *Container) Logger() *logger.Logger { return c.logger }

// engineComponent 把 RefreshEngine 接入生命周期
type engineComponent struct {
	engine *engine.RefreshEngine
}

func (e *engineComponent) Start(ctx context.Context) error { return e.engine.Start(ctx) }

func (e *engineComponent) Stop() error {
	switch e.engine.GetState() {
	case engine.StateRunning, engine.StatePaused:
		return e.engine.Stop()
	}
	return nil
}

func (e *engineComponent) Health() error {
	switch e.engine.GetState() {
	case engine.StateRunning, engine.StatePaused:
		return nil
	}
	return errors.New("refresh engine not running")
}

type reloaderComponent struct {
	reloader *hotreload.HotReloader
}

func (r *reloaderComponent) Start(ctx context.Context) error { return r.reloader.Start(ctx) }
func (r *reloaderComponent) Stop() error                     { return r.reloader.Stop() }
func (r *reloaderComponent) Health() error                   { return nil }
