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

	"theo-quoter/infrastructure/logger"
)

// Watcher 监听配置文件变化，重新加载并投递可热更新参数。
// 监听的是所在目录，编辑器以 rename 方式保存时同样生效。
type Watcher struct {
	path     string
	cooldown time.Duration
	log      *logger.Logger
	fs       *fsnotify.Watcher
	updates  chan Tuning

	mu         sync.Mutex
	lastReload time.Time
	started    bool
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewWatcher 创建监听器；cooldown 内的重复事件会被忽略。
func NewWatcher(path string, cooldown time.Duration, log *logger.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		path:     abs,
		cooldown: cooldown,
		log:      log,
		fs:       fw,
		updates:  make(chan Tuning, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Updates 返回校验通过的新参数；只保留最新一份，由控制循环在周期之间读取。
func (w *Watcher) Updates() <-chan Tuning {
	return w.updates
}

// Start 启动监听
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.watch(ctx)
	return nil
}

// Close 停止监听并释放 watcher
func (w *Watcher) Close() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		select {
		case <-w.doneChan:
		case <-time.After(time.Second):
		}
	}
	return w.fs.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cooldown > 0 && time.Since(w.lastReload) < w.cooldown {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.lastReload = time.Now()
	t := cfg.Tuning()
	// 丢弃未被消费的旧参数
	select {
	case <-w.updates:
	default:
	}
	w.updates <- t
	w.log.Info("config reloaded", zap.String("path", w.path))
}
