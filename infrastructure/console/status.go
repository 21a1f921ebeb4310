// Package console 在终端以表格打印周期状态。
package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"

	"theo-quoter/internal/engine"
	"theo-quoter/strategy"
)

// Status 每 N 个周期打印一次状态表，实现 engine.Observer。
type Status struct {
	mu    sync.Mutex
	out   io.Writer
	every int64
}

// NewStatus 写到 stdout。
func NewStatus(every int) *Status {
	return NewStatusWriter(os.Stdout, every)
}

// NewStatusWriter 供测试使用。
func NewStatusWriter(w io.Writer, every int) *Status {
	if every <= 0 {
		every = 1
	}
	return &Status{out: w, every: int64(every)}
}

func (s *Status) OnCycle(r engine.Report) {
	if r.Cycle%s.every != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := r.Timestamp.Format("15:04:05")
	if r.Skipped {
		msg := r.SkipReason
		if r.Err != "" {
			msg += ": " + r.Err
		}
		fmt.Fprintf(s.out, "[%s] cycle %d skipped (%s)\n", now, r.Cycle, msg)
		return
	}

	fmt.Fprintf(s.out, "\n[%s] cycle %d  theo %.4f ± %.4f  delta %d  pnl %.2f\n",
		now, r.Cycle, r.Theo, r.Margin, r.Delta, r.PnL)

	table := tablewriter.NewWriter(s.out)
	table.Header("Leg", "Bid", "Ask", "Pos", "Ladder", "Opp")
	for _, top := range []engine.BookTop{r.Primary, r.Linked} {
		ladder, opp := 0, 0
		for _, q := range r.Intents {
			if q.Instrument != top.Instrument {
				continue
			}
			if q.Kind == strategy.KindOpportunist {
				opp++
			} else {
				ladder++
			}
		}
		table.Append(
			top.Instrument,
			formatTop(top.Bid),
			formatTop(top.Ask),
			fmt.Sprintf("%d", r.Positions[top.Instrument]),
			fmt.Sprintf("%d", ladder),
			fmt.Sprintf("%d", opp),
		)
	}
	table.Render()

	fmt.Fprintf(s.out, "  stats n=%d mean=%.4f sd=%.4f | fills %d ticks %d | sent %d rejected %d | %s\n",
		r.Stats.N, r.Stats.Mean, r.Stats.Stdev(),
		len(r.OwnTrades), r.MarketTrades,
		len(r.Sync.Submitted), len(r.Sync.Rejected), r.Duration)
	if len(r.Sync.Rejected) > 0 {
		reasons := make(map[string]int)
		for _, rej := range r.Sync.Rejected {
			reasons[rej.Reason]++
		}
		keys := make([]string, 0, len(reasons))
		for k := range reasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s×%d", k, reasons[k]))
		}
		fmt.Fprintf(s.out, "  rejects: %s\n", strings.Join(parts, ", "))
	}
}

func formatTop(t engine.Top) string {
	if !t.OK {
		return "-"
	}
	return fmt.Sprintf("%.4f×%d", t.Price, t.Volume)
}
