package main

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"theo-quoter/infrastructure/logger"
	"theo-quoter/internal/engine"
)

// watchdog 在 systemd 下发送 READY/WATCHDOG；未由 systemd 启动时所有调用都是空操作。
type watchdog struct {
	log      *logger.Logger
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newWatchdog(log *logger.Logger) *watchdog {
	w := &watchdog{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		w.interval = d / 2
		log.Info("systemd watchdog enabled", zap.Duration("interval", w.interval))
	}
	return w
}

func (w *watchdog) ready() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		w.log.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		w.log.Info("notified systemd ready")
	}
}

func (w *watchdog) stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// OnCycle 控制循环每完成一个周期就喂狗，按 watchdog 间隔的一半限频。
func (w *watchdog) OnCycle(r engine.Report) {
	if w.interval <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.last.IsZero() && r.Timestamp.Sub(w.last) < w.interval {
		return
	}
	w.last = r.Timestamp
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		w.log.Warn("sd_notify watchdog failed", zap.Error(err))
	}
}
