package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dcaengine/internal/app"
	"dcaengine/internal/backtest"
	"dcaengine/internal/coins"
	"dcaengine/internal/config"
	"dcaengine/internal/gateway/database"
	"dcaengine/internal/logger"
	"dcaengine/internal/market"
	"dcaengine/internal/pkg/jsonutil"
	"dcaengine/internal/report"
	"dcaengine/internal/store"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "dcaengine",
		Short:         "DCA 逢跌买入回测引擎",
		Long:          "按固定步长回放历史 K 线：逢跌分批买入、每批独立止盈，可选技术面与外部顾问的融合决策。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径（默认 $DCA_CONFIG 或 configs/config.toml）")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "覆盖 app.log_level")

	root.AddCommand(
		newIngestCmd(opts),
		newFetchCmd(opts),
		newSimulateCmd(opts, false),
		newSimulateCmd(opts, true),
		newClearCmd(opts),
		newStatusCmd(opts),
		newServeCmd(opts),
		newAdviseCmd(opts),
		newChartCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	path := config.ResolvePath(o.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.App.LogLevel = o.logLevel
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功 %s（环境=%s，交易对=%s，模式=%s）", path, cfg.App.Env, cfg.Trading.Symbol, cfg.Trading.StrategyMode)
	return cfg, nil
}

func (o *rootOptions) build() (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.NewApp(cfg)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "导入 CSV K 线（支持 ** 通配）",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			if pattern == "" {
				pattern = a.Config().Data.CSVGlob
			}
			bars, files, err := market.GlobCSV(pattern)
			if err != nil {
				return err
			}
			logger.Infof("✓ 读取 %d 个文件，共 %d 根 K 线", len(files), len(bars))
			return ingest(cmd.Context(), a, bars)
		},
	}
	cmd.Flags().StringVar(&pattern, "glob", "", "CSV 文件模式（默认 data.csv_glob）")
	return cmd
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol, interval, start, end string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "从 Binance 现货下载 K 线并写入存储",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config()
			if symbol == "" {
				symbol = cfg.Trading.Symbol
			}
			if symbol, err = coins.Normalize(symbol); err != nil {
				return err
			}
			if interval == "" {
				interval = cfg.Data.Binance.Interval
			}
			from, err := market.ParseTimeFlexible(start)
			if err != nil {
				return fmt.Errorf("--start 非法: %w", err)
			}
			to := time.Now().UTC()
			if end != "" {
				if to, err = market.ParseTimeFlexible(end); err != nil {
					return fmt.Errorf("--end 非法: %w", err)
				}
			}
			fetcher := market.NewBinanceFetcher(cfg.Data.Binance.APIKey, cfg.Data.Binance.APISecret)
			bars, err := fetcher.Fetch(cmd.Context(), symbol, interval, from, to)
			if err != nil {
				return err
			}
			logger.Infof("✓ 下载 %s %s K 线 %d 根", symbol, interval, len(bars))
			return ingest(cmd.Context(), a, bars)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "交易对（默认 trading.symbol）")
	cmd.Flags().StringVar(&interval, "interval", "", "K 线周期（默认 data.binance.interval）")
	cmd.Flags().StringVar(&start, "start", "", "开始时间（RFC3339 / 2006-01-02 15:04:05 / UNIX）")
	cmd.Flags().StringVar(&end, "end", "", "结束时间（默认当前）")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func ingest(ctx context.Context, a *app.App, bars market.Bars) error {
	written, skipped, err := a.Ingest(ctx, bars, 0)
	if err != nil {
		return err
	}
	logger.Infof("✓ 写入完成：新增/更新 %d，未变化跳过 %d", written, skipped)
	return nil
}

func newSimulateCmd(opts *rootOptions, fresh bool) *cobra.Command {
	use, short := "simulate", "运行模拟（存在检查点时继续）"
	if fresh {
		use, short = "fresh", "清除检查点后从头运行模拟"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			if fresh {
				if err := a.Fresh(cmd.Context()); err != nil {
					return err
				}
			}
			st, err := a.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				logger.Infof("已中断，检查点已保存；再次运行 simulate 继续")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(report.StatusBanner(backtest.ProgressOf(st), st.Ledger.Params.InitialBalance))
			return nil
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "删除检查点与交易流水",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Fresh(cmd.Context())
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "显示检查点摘要",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			cp, st, err := loadCheckpoint(cmd.Context(), a)
			if err != nil {
				return err
			}
			if asJSON {
				fmt.Println(jsonutil.Pretty(string(cp.State)))
				return nil
			}
			fmt.Println(report.StatusBanner(backtest.ProgressOf(st), st.Ledger.Params.InitialBalance))
			fmt.Printf("检查点保存于 %s\n", cp.SavedAt.Format(time.RFC3339))
			return report.RenderText(os.Stdout, report.Build(st), report.TextOptions{MaxTransactions: 10})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出检查点原始 JSON")
	return cmd
}

func loadCheckpoint(ctx context.Context, a *app.App) (database.Checkpoint, *backtest.SimulationState, error) {
	cp, err := a.Checkpoints().Load(ctx)
	if errors.Is(err, database.ErrNoCheckpoint) {
		return cp, nil, fmt.Errorf("没有检查点，请先运行 simulate")
	}
	if err != nil {
		return cp, nil, err
	}
	st, err := backtest.DecodeState(cp.State)
	if err != nil {
		return cp, nil, err
	}
	return cp, st, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var foreground bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "后台运行模拟并提供 HTTP 状态服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if !foreground {
				f, err := openLogFile(cfg.App.LogFile)
				if err != nil {
					return err
				}
				defer f.Close()
				fmt.Printf("日志写入 %s，状态服务 %s\n", cfg.App.LogFile, cfg.HTTP.Addr)
				logger.SetOutput(f)
			}
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if !foreground {
				a.Report = nil
			}
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（默认 http.addr）")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "日志输出到终端而不是 app.log_file")
	return cmd
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func newAdviseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advise",
		Short: "对最新一根 K 线做一次融合决策",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			n, err := a.Bars().Len(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("没有可用的 K 线数据，请先导入")
			}
			current, ok, err := a.Bars().Get(ctx, n-1)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("索引 %d 缺少 K 线", n-1)
			}
			history, err := store.Window(ctx, a.Bars(), n-1, a.Config().Decision.HistoryBars)
			if err != nil {
				return err
			}
			d := a.Engine().Decide(ctx, current, history)
			fmt.Printf("%s %s 收盘 %.2f\n", a.Config().Trading.Symbol, current.TimeString(), current.Close)
			fmt.Printf("决策: %s  置信度 %.2f  风险 %s  执行 %v\n", d.Action, d.Confidence, d.Risk, d.ShouldExecute)
			if d.SuggestedFraction != nil {
				fmt.Printf("建议仓位 %.1f%%\n", *d.SuggestedFraction*100)
			}
			if d.Reasoning != "" {
				fmt.Println("理由:", d.Reasoning)
			}
			return nil
		},
	}
}

func newChartCmd(opts *rootOptions) *cobra.Command {
	var out string
	var screenshot bool
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "从检查点生成价格/权益图表（HTML，可选 PNG）",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build()
			if err != nil {
				return err
			}
			defer a.Close()
			_, st, err := loadCheckpoint(cmd.Context(), a)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.Config().Report.OutputDir, "chart.html")
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := report.RenderChart(f, st); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			logger.Infof("✓ 图表已写入 %s", out)
			if screenshot {
				png := strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
				if err := report.Screenshot(cmd.Context(), out, png); err != nil {
					return err
				}
				logger.Infof("✓ 截图已写入 %s", png)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "输出 HTML 路径（默认 report.output_dir/chart.html）")
	cmd.Flags().BoolVar(&screenshot, "png", false, "同时用无头 Chrome 截图")
	return cmd
}
