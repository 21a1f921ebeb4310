package alert

import (
	"sync"

	"theo-quoter/internal/engine"
)

// 告警消息，同时作为限流 key 的一部分。
const (
	MsgStalled      = "quoting stalled"
	MsgResumed      = "quoting resumed"
	MsgRejected     = "orders rejected"
	MsgCancelFailed = "cancel all failed"
	MsgPositionHigh = "position near limit"
)

// Rules 告警阈值
type Rules struct {
	MaxSkipped   int   // 连续跳过多少个周期视为停摆
	PositionWarn int64 // |delta| 达到该值告警，0 表示不检查
}

// Watch 根据周期报告生成告警，实现 engine.Observer。
type Watch struct {
	mgr   *Manager
	rules Rules

	mu      sync.Mutex
	skipped int
	stalled bool
}

func NewWatch(mgr *Manager, rules Rules) *Watch {
	if rules.MaxSkipped <= 0 {
		rules.MaxSkipped = 5
	}
	return &Watch{mgr: mgr, rules: rules}
}

func (w *Watch) OnCycle(r engine.Report) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r.Skipped {
		w.skipped++
		if w.skipped >= w.rules.MaxSkipped {
			w.stalled = true
			_ = w.mgr.Send(Alert{Level: LevelError, Message: MsgStalled, Timestamp: r.Timestamp, Fields: map[string]interface{}{
				"skipped": w.skipped,
				"reason":  r.SkipReason,
				"error":   r.Err,
			}})
		}
		return
	}

	if w.stalled {
		_ = w.mgr.Send(Alert{Level: LevelInfo, Message: MsgResumed, Timestamp: r.Timestamp, Fields: map[string]interface{}{
			"skipped": w.skipped,
		}})
		w.mgr.Clear(LevelError, MsgStalled)
		w.mgr.Clear(LevelInfo, MsgResumed)
		w.stalled = false
	}
	w.skipped = 0

	if n := len(r.Sync.Rejected); n > 0 {
		_ = w.mgr.Send(Alert{Level: LevelWarning, Message: MsgRejected, Timestamp: r.Timestamp, Fields: map[string]interface{}{
			"count":  n,
			"reason": r.Sync.Rejected[0].Reason,
			"cycle":  r.Cycle,
		}})
	}
	for inst, err := range r.Sync.CancelErrors {
		_ = w.mgr.Send(Alert{Level: LevelError, Message: MsgCancelFailed, Timestamp: r.Timestamp, Fields: map[string]interface{}{
			"instrument": inst,
			"error":      err.Error(),
		}})
	}
	if w.rules.PositionWarn > 0 && abs(r.Delta) >= w.rules.PositionWarn {
		_ = w.mgr.Send(Alert{Level: LevelWarning, Message: MsgPositionHigh, Timestamp: r.Timestamp, Fields: map[string]interface{}{
			"delta": r.Delta,
			"warn":  w.rules.PositionWarn,
		}})
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
