package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"theo-quoter/journal"
)

func main() {
	dsn := flag.String("db", "data/journal.db", "journal sqlite 路径")
	limit := flag.Int("n", 20, "显示最近 N 个周期")
	flag.Parse()

	if _, err := os.Stat(*dsn); err != nil {
		fmt.Fprintf(os.Stderr, "无法读取 journal: %v\n", err)
		os.Exit(1)
	}
	j, err := journal.Open(*dsn, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开 journal 失败: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx := context.Background()
	sum, err := j.Summarize(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "汇总失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("cycles=%d skipped=%d submitted=%d rejected=%d last_theo=%.4f last_pnl=%.2f\n\n",
		sum.Cycles, sum.Skipped, sum.Submitted, sum.Rejected, sum.LastTheo, sum.LastPnL)

	if len(sum.Fills) > 0 {
		tbl := tablewriter.NewWriter(os.Stdout)
		tbl.Header("Instrument", "Side", "Fills", "Volume", "Avg Price")
		for _, f := range sum.Fills {
			tbl.Append(f.Instrument, f.Side.String(),
				fmt.Sprintf("%d", f.Count),
				fmt.Sprintf("%d", f.Volume),
				fmt.Sprintf("%.4f", f.AvgPrice))
		}
		tbl.Render()
		fmt.Println()
	}

	rows, err := j.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取周期失败: %v\n", err)
		os.Exit(1)
	}
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.Header("Cycle", "Time", "Theo", "Margin", "Delta", "PnL", "Sent", "Rej", "Note")
	for _, r := range rows {
		note := ""
		if r.Skipped {
			note = r.Reason
		}
		tbl.Append(
			fmt.Sprintf("%d", r.Cycle),
			r.Timestamp.Format("01-02 15:04:05"),
			fmt.Sprintf("%.4f", r.Theo),
			fmt.Sprintf("%.4f", r.Margin),
			fmt.Sprintf("%d", r.Delta),
			fmt.Sprintf("%.2f", r.PnL),
			fmt.Sprintf("%d", r.Submitted),
			fmt.Sprintf("%d", r.Rejected),
			note,
		)
	}
	tbl.Render()
}
