package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"theo-quoter/infrastructure/logger"
	"theo-quoter/market"
	"theo-quoter/strategy"
)

var (
	ErrUnknownInstrument = errors.New("intent for unmanaged instrument")
	// ErrCancelFailed 撤单失败的品种本周期不再下新单，避免在旧单上叠加。
	ErrCancelFailed      = errors.New("cancel failed")
)

// Gateway 提供撤单/下单抽象；由交易所会话或纸面交易所实现。
type Gateway interface {
	CancelAll(ctx context.Context, instrument string) error
	Insert(ctx context.Context, o Order) (InsertResult, error)
}

// Rejection 记录一笔未能成功提交的意图。
type Rejection struct {
	Intent strategy.QuoteIntent
	Reason string
}

// Result 汇总一次同步的结果。
type Result struct {
	Canceled     int
	Submitted    []Order
	Rejected     []Rejection
	CancelErrors map[string]error
	Duration     time.Duration
}

// Option 配置 Sync。
type Option func(*Sync)

// WithRateLimit 限制下单速率（每秒笔数与突发）。perSecond<=0 表示不限。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Sync) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxVolume 设置单笔最大数量。
func WithMaxVolume(v int64) Option {
	return func(s *Sync) { s.maxVolume = v }
}

// WithLogger 设置日志器。
func WithLogger(l *logger.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDGenerator 替换 ClientID 生成函数，测试用。
func WithIDGenerator(f func() string) Option {
	return func(s *Sync) {
		if f != nil {
			s.newID = f
		}
	}
}

// Sync 每周期先撤掉所管理品种的全部挂单，再按顺序提交新意图。
// 拒单不在本周期重试，下一周期会基于新状态重新生成。
type Sync struct {
	gw        Gateway
	limiter   *rate.Limiter
	maxVolume int64
	log       *logger.Logger
	newID     func() string
	live      *Book
}

func NewSync(gw Gateway, opts ...Option) (*Sync, error) {
	if gw == nil {
		return nil, errors.New("order gateway is required")
	}
	s := &Sync{
		gw:    gw,
		log:   logger.NewNop(),
		newID: func() string { return uuid.NewString() },
		live:  NewBook(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Live 返回上一次同步后仍在挂的订单记录。
func (s *Sync) Live() []Order {
	return s.live.List()
}

// Sync 执行一次撤单-重挂。instruments 为本引擎管理的全部品种。
func (s *Sync) Sync(ctx context.Context, instruments []market.Instrument, intents []strategy.QuoteIntent) Result {
	start := time.Now()
	res := Result{}
	managed := make(map[string]Constraints, len(instruments))
	for _, inst := range instruments {
		managed[inst.ID] = ConstraintsFor(inst, s.maxVolume)
		if err := s.gw.CancelAll(ctx, inst.ID); err != nil {
			if res.CancelErrors == nil {
				res.CancelErrors = make(map[string]error)
			}
			res.CancelErrors[inst.ID] = err
			s.log.LogError(err, map[string]interface{}{"op": "cancel_all", "instrument": inst.ID})
			continue
		}
		res.Canceled += s.live.ClearInstrument(inst.ID)
	}

	for i, q := range intents {
		c, ok := managed[q.Instrument]
		if !ok {
			res.Rejected = append(res.Rejected, Rejection{Intent: q, Reason: ErrUnknownInstrument.Error()})
			continue
		}
		if cerr, failed := res.CancelErrors[q.Instrument]; failed {
			res.Rejected = append(res.Rejected, Rejection{Intent: q, Reason: fmt.Errorf("%w: %v", ErrCancelFailed, cerr).Error()})
			continue
		}
		if err := c.Validate(q.Price, q.Volume); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Intent: q, Reason: err.Error()})
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				// 上下文结束：剩余意图全部记为拒绝
				for _, rest := range intents[i:] {
					res.Rejected = append(res.Rejected, Rejection{Intent: rest, Reason: err.Error()})
				}
				break
			}
		}
		o := FromIntent(q, s.newID())
		ack, err := s.gw.Insert(ctx, o)
		switch {
		case err != nil:
			o.Status = StatusRejected
			o.LastError = err.Error()
			res.Rejected = append(res.Rejected, Rejection{Intent: q, Reason: err.Error()})
		case !ack.Success:
			o.Status = StatusRejected
			o.LastError = ack.Reason
			res.Rejected = append(res.Rejected, Rejection{Intent: q, Reason: ack.Reason})
		default:
			o.ID = ack.OrderID
			o.Status = StatusAck
			s.live.Set(o)
			res.Submitted = append(res.Submitted, o)
			continue
		}
		s.log.LogOrder("rejected", o.ClientID, map[string]interface{}{
			"instrument": q.Instrument,
			"side":       q.Side.String(),
			"price":      q.Price,
			"volume":     q.Volume,
			"kind":       string(q.Kind),
			"reason":     o.LastError,
		})
	}
	res.Duration = time.Since(start)
	return res
}

// Summary 返回简短描述，便于日志。
func (r Result) Summary() string {
	return fmt.Sprintf("canceled=%d submitted=%d rejected=%d cancel_errors=%d",
		r.Canceled, len(r.Submitted), len(r.Rejected), len(r.CancelErrors))
}
