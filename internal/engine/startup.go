package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady 在有限次重试后依然不可用时返回，包装最后一次探测错误。
	ErrNotReady = errors.New("not ready")
	// ErrUnknownInstrument 配置的品种不在交易所品种列表中，属于配置错误，不重试。
	ErrUnknownInstrument = errors.New("unknown instrument")
	errNoInstruments     = errors.New("instrument list is empty")
	errBookOneSided      = errors.New("book is not two-sided")
)

// Readiness 表示一次等待的结果。
type Readiness int

const (
	NotReady Readiness = iota
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "READY"
	case NotReady:
		return "NOT_READY"
	default:
		return "UNKNOWN"
	}
}

// Probe 记录等待的结果与尝试次数。
type Probe struct {
	Name      string
	Readiness Readiness
	Attempts  int
	Err       error
}

// Backoff 是有界的指数退避。
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// waitReady 反复调用 probe 直到成功、次数用尽或 ctx 结束。
func waitReady(ctx context.Context, name string, b Backoff, probe func(context.Context) error) (Probe, error) {
	p := Probe{Name: name, Readiness: NotReady}
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for p.Attempts < attempts {
		p.Attempts++
		err := probe(ctx)
		if err == nil {
			p.Readiness = Ready
			p.Err = nil
			return p, nil
		}
		p.Err = err
		if errors.Is(err, ErrUnknownInstrument) {
			return p, err
		}
		if p.Attempts >= attempts {
			break
		}
		timer := time.NewTimer(b.delay(p.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return p, ctx.Err()
		case <-timer.C:
		}
	}
	return p, fmt.Errorf("%w: %s after %d attempts: %w", ErrNotReady, name, p.Attempts, p.Err)
}
