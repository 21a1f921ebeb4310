package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"theo-quoter/config"
	"theo-quoter/internal/engine"
	"theo-quoter/order"
	"theo-quoter/posttrade"
	"theo-quoter/sim"
)

type summary struct {
	Seed      int64
	Cycles    int
	Fills     int
	Submitted int
	Rejected  int
	Delta     int64
	PnL       float64
	TheoErr   float64 // |theo - fair| 的均值
	Markout   posttrade.Stats
}

// 以配置中的参数在纸面交易所上离线跑若干周期，每个种子一行汇总。
// 用法：
//
//	go run ./cmd/backtest -config configs/config.yaml -seeds 1,2,3 -cycles 500
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	seeds := flag.String("seeds", "42", "随机种子列表，逗号分隔")
	cycles := flag.Int("cycles", 500, "每个种子运行的周期数")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	var summaries []summary
	for _, raw := range strings.Split(*seeds, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("无效种子 %q: %v", raw, err)
		}
		s, err := run(cfg, seed, *cycles)
		if err != nil {
			log.Printf("seed %d 失败: %v", seed, err)
			continue
		}
		summaries = append(summaries, s)
	}
	if len(summaries) == 0 {
		log.Fatal("没有可用结果")
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Seed", "Cycles", "Fills", "Sent", "Rej", "Delta", "PnL", "|Theo-Fair|", "Adverse", "MO short", "MO long")
	for _, s := range summaries {
		tbl.Append(
			fmt.Sprintf("%d", s.Seed),
			fmt.Sprintf("%d", s.Cycles),
			fmt.Sprintf("%d", s.Fills),
			fmt.Sprintf("%d", s.Submitted),
			fmt.Sprintf("%d", s.Rejected),
			fmt.Sprintf("%d", s.Delta),
			fmt.Sprintf("%.2f", s.PnL),
			fmt.Sprintf("%.4f", s.TheoErr),
			fmt.Sprintf("%.1f%%", s.Markout.AdverseSelectionRate*100),
			fmt.Sprintf("%.4f", s.Markout.AvgMarkoutShort),
			fmt.Sprintf("%.4f", s.Markout.AvgMarkoutLong),
		)
	}
	tbl.Render()
}

func run(cfg config.AppConfig, seed int64, cycles int) (summary, error) {
	out := summary{Seed: seed}
	scfg := cfg.Sim
	scfg.Seed = seed
	ex, err := sim.New(scfg)
	if err != nil {
		return out, err
	}
	orders, err := order.NewSync(ex, order.WithMaxVolume(cfg.Orders.MaxVolume))
	if err != nil {
		return out, err
	}
	markouts := posttrade.NewAnalyzer(posttrade.DefaultConfig())
	eng, err := engine.New(engine.ConfigFrom(cfg), engine.Components{
		Reader:    ex,
		Orders:    orders,
		Observers: []engine.Observer{markouts},
	})
	if err != nil {
		return out, err
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		return out, err
	}

	var errSum float64
	for i := 0; i < cycles; i++ {
		rep, err := eng.RunCycle(ctx)
		if err != nil {
			return out, err
		}
		out.Cycles++
		out.Fills += len(rep.OwnTrades)
		out.Submitted += len(rep.Sync.Submitted)
		out.Rejected += len(rep.Sync.Rejected)
		out.Delta = rep.Delta
		out.PnL = rep.PnL
		errSum += math.Abs(rep.Theo - ex.Fair())
		ex.Step()
	}
	if out.Cycles > 0 {
		out.TheoErr = errSum / float64(out.Cycles)
	}
	out.Markout = markouts.Stats()
	return out, nil
}
