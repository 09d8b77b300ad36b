// 配置文件变更监听与重载。
//
// 基于修改时间轮询与防抖机制触发配置重载回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 配置重载成功后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 监听配置文件并在变更时重新加载。
// 重载失败（文件损坏、校验不过）保留旧配置，仅记录日志。
type Reloader struct {
	mu       sync.RWMutex
	current  *Config
	path     string
	loader   *Loader
	running  bool
	stopChan chan struct{}

	pollInterval  time.Duration
	debounceDelay time.Duration
	lastModTime   time.Time

	callbacks []ReloadCallback
	logger    *zap.Logger
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.pollInterval = d }
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.debounceDelay = d }
}

// WithReloaderLogger 设置日志器
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) { r.logger = logger }
}

// NewReloader 创建配置重载器并完成首次加载
func NewReloader(path string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{
		path:          path,
		loader:        NewLoader().WithConfigPath(path).WithValidator((*Config).Validate),
		stopChan:      make(chan struct{}),
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg, err := r.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	r.current = cfg
	if info, err := os.Stat(path); err == nil {
		r.lastModTime = info.ModTime()
	}
	return r, nil
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Start 启动监听循环；重复启动返回错误
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reloader already running")
	}
	r.running = true
	r.mu.Unlock()

	go r.pollLoop(ctx)
	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("poll_interval", r.pollInterval),
	)
	return nil
}

// Stop 停止监听
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopChan)
	r.running = false
	r.logger.Info("config reloader stopped")
}

func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if r.changed() {
				// 防抖：等写入稳定后再重载
				time.Sleep(r.debounceDelay)
				r.reload()
			}
		}
	}
}

func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ModTime().After(r.lastModTime) {
		r.lastModTime = info.ModTime()
		return true
	}
	return false
}

func (r *Reloader) reload() {
	newCfg, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("config reload failed, keeping previous config",
			zap.String("path", r.path),
			zap.Error(err),
		)
		return
	}

	r.mu.Lock()
	oldCfg := r.current
	r.current = newCfg
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
}
