// 配置文件变更监听与热重载。
//
// 轮询配置文件的修改时间, 内容变化且新配置通过校验后通知回调。
// 只有 HotReloadableFields 中的字段会在运行时生效, 其他字段的变化只记录日志。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadableFields 可以在运行时生效的配置字段
var HotReloadableFields = []string{
	"log.level",
	"discovery.peers",
	"discovery.stale_after",
	"limiter.requests_per_minute",
	"limiter.burst",
}

// Change 一个配置字段的变化
type Change struct {
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
}

// ReloadCallback 新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config, changes []Change)

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher 监听配置文件并热重载
type Watcher struct {
	mu sync.RWMutex

	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	current   *Config
	checksum  string
	lastMod   time.Time
	callbacks []ReloadCallback

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher 创建配置监听器. loader 必须设置了配置文件路径, current 为当前生效的配置.
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.ConfigPath() == "" {
		return nil, fmt.Errorf("watcher requires a loader with a config path")
	}
	w := &Watcher{
		loader:   loader,
		interval: time.Second,
		logger:   zap.NewNop(),
		current:  current,
		checksum: checksum(current),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if info, err := os.Stat(loader.ConfigPath()); err == nil {
		w.lastMod = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", loader.ConfigPath(), err)
	}
	return w, nil
}

// OnReload 注册重载回调
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start 启动轮询, ctx 结束或调用 Stop 后退出
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.loader.ConfigPath()),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询并等待退出
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("config watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if w.modified() {
				if _, err := w.Reload(); err != nil {
					w.logger.Warn("config reload rejected, keeping current config", zap.Error(err))
				}
			}
		}
	}
}

// modified 文件修改时间是否晚于上次记录
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.loader.ConfigPath())
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()
	return true
}

// Reload 立即重新加载配置. 新配置未通过校验时保留当前配置并返回错误;
// 内容未变化时返回的 changes 为空且不调用回调.
func (w *Watcher) Reload() ([]Change, error) {
	next, err := w.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	sum := checksum(next)
	w.mu.Lock()
	if sum == w.checksum {
		w.mu.Unlock()
		return nil, nil
	}
	prev := w.current
	changes := Diff(prev, next)
	w.current = next
	w.checksum = sum
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()

	for _, c := range changes {
		if c.RequiresRestart {
			w.logger.Warn("config change requires restart", zap.String("path", c.Path))
		} else {
			w.logger.Info("config change applied", zap.String("path", c.Path), zap.Any("value", c.NewValue))
		}
	}
	for _, cb := range callbacks {
		cb(prev, next, changes)
	}
	return changes, nil
}

// Diff 按 yaml 路径比较两份配置的叶子字段
func Diff(oldConfig, newConfig *Config) []Change {
	var changes []Change
	if oldConfig == nil || newConfig == nil {
		return changes
	}
	compare("", reflect.ValueOf(*oldConfig), reflect.ValueOf(*newConfig), &changes)
	return changes
}

func compare(prefix string, oldVal, newVal reflect.Value, changes *[]Change) {
	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("yaml")
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		o, n := oldVal.Field(i), newVal.Field(i)
		if o.Kind() == reflect.Struct && o.Type() != reflect.TypeOf(time.Time{}) {
			compare(path, o, n, changes)
			continue
		}
		if reflect.DeepEqual(o.Interface(), n.Interface()) {
			continue
		}
		change := Change{Path: path, OldValue: o.Interface(), NewValue: n.Interface(), RequiresRestart: !IsHotReloadable(path)}
		if isSensitive(name) {
			change.OldValue, change.NewValue = "***", "***"
		}
		*changes = append(*changes, change)
	}
}

// IsHotReloadable 报告字段是否可以在运行时生效
func IsHotReloadable(path string) bool {
	for _, p := range HotReloadableFields {
		if p == path {
			return true
		}
	}
	return false
}

func isSensitive(name string) bool {
	return name == "password"
}

// checksum 配置内容的 FNV 校验和
func checksum(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
