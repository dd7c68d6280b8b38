package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appconfig "quote-board-go/config"
	"quote-board-go/infrastructure/logger"
	"quote-board-go/quote"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// PipelineSwapper 接收新编译的报价管线（RefreshEngine 实现）。
type PipelineSwapper interface {
	SwapPipeline(p *quote.Pipeline)
}

// HotReloader 监听配置文件，变化后重新加载并替换报价管线。
// 只有 instruments/cross 段会在运行时生效，其余字段需要重启。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	target     PipelineSwapper
	log        *logger.Logger
	lastReload time.Time
	mu         sync.Mutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	started    bool
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, target PipelineSwapper, log *logger.Logger) (*HotReloader, error) {
	if target == nil {
		return nil, errors.New("hot reload target is nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		target:     target,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start 启动热更新监听。监听所在目录，以便覆盖写入（rename）也能被发现。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	if started {
		select {
		case <-h.stopChan:
		default:
			close(h.stopChan)
		}
		select {
		case <-h.doneChan:
		case <-time.After(1 * time.Second):
		}
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	target := filepath.Clean(h.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				h.handleConfigChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 冷却期内的变化被忽略。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	if time.Since(h.lastReload) < h.config.CooldownTime {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	_ = h.Reload()
}

// Reload 立即重新加载配置文件并替换管线；失败时保留旧管线。
func (h *HotReloader) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.reload()
	result := "ok"
	level := zapcore.InfoLevel
	fields := map[string]interface{}{"path": h.configPath}
	if err != nil {
		result = "failed"
		level = zapcore.ErrorLevel
		fields["error"] = err.Error()
	}
	fields["result"] = result
	h.log.LogEvent(level, "config_reload", fields)
	if err == nil {
		h.lastReload = time.Now()
	}
	return err
}

func (h *HotReloader) reload() error {
	cfg, err := appconfig.LoadWithEnvOverrides(h.configPath)
	if err != nil {
		return err
	}
	p, err := quote.NewPipeline(cfg.Spec())
	if err != nil {
		return fmt.Errorf("compile pipeline: %w", err)
	}
	h.target.SwapPipeline(p)
	return nil
}

// GetLastReloadTime 获取最后一次成功重载的时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}
