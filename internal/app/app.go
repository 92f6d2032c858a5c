package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dcaengine/internal/backtest"
	"dcaengine/internal/config"
	"dcaengine/internal/decision"
	"dcaengine/internal/gateway/database"
	"dcaengine/internal/logger"
	"dcaengine/internal/market"
	"dcaengine/internal/metrics"
	"dcaengine/internal/report"
	"dcaengine/internal/transport/httpapi"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动模拟与状态服务。
type App struct {
	cfg          *config.Config
	db           *database.DB
	bars         *database.BarStore
	checkpoints  backtest.CheckpointStore
	transactions *database.CheckpointStore
	engine       *decision.Engine
	metrics      *metrics.Metrics
	loop         *backtest.Loop
	hub          *httpapi.Hub
	server       *httpapi.Server
	cleanup      func()

	// Report 为 nil 时不输出文本报告
	Report io.Writer
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, cleanup, err := buildAppWithWire(cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	a.Report = os.Stdout
	return a, nil
}

func (a *App) Config() *config.Config                { return a.cfg }
func (a *App) Bars() *database.BarStore              { return a.bars }
func (a *App) Loop() *backtest.Loop                  { return a.loop }
func (a *App) Engine() *decision.Engine              { return a.engine }
func (a *App) Checkpoints() backtest.CheckpointStore { return a.checkpoints }

// Close 释放数据库连接。
func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}

// Simulate 运行模拟直到结束或取消，随后输出报告。
func (a *App) Simulate(ctx context.Context) (*backtest.SimulationState, error) {
	if a == nil || a.loop == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	st, err := a.loop.Run(ctx)
	if st != nil {
		a.finish(ctx, st)
	}
	if errors.Is(err, backtest.ErrMissCeiling) {
		logger.Warnf("模拟因连续缺失提前结束，检查点已保存")
		return st, nil
	}
	return st, err
}

// Run 运行模拟；http.enabled 时模拟期间同时提供状态服务，模拟结束即关闭。
func (a *App) Run(ctx context.Context) (*backtest.SimulationState, error) {
	if a == nil || a.cfg == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	if !a.cfg.HTTP.Enabled || a.server == nil {
		return a.Simulate(ctx)
	}
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var (
		st     *backtest.SimulationState
		simErr error
	)
	group := new(errgroup.Group)
	group.Go(func() error {
		if err := a.server.Start(srvCtx); err != nil {
			logger.Warnf("状态服务停止: %v", err)
		}
		return nil
	})
	group.Go(func() error {
		defer stopServer()
		st, simErr = a.Simulate(ctx)
		return nil
	})
	_ = group.Wait()
	return st, simErr
}

// Serve 后台运行模拟，同时提供 HTTP 状态服务；模拟结束后服务保持到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Start(ctx)
	})
	group.Go(func() error {
		if _, err := a.Simulate(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Infof("模拟结束，状态服务继续运行（Ctrl+C 退出）")
		return nil
	})
	return group.Wait()
}

// Fresh 清除检查点与流水，下一次 Simulate 从头开始。
func (a *App) Fresh(ctx context.Context) error {
	if err := a.checkpoints.Clear(ctx); err != nil {
		return fmt.Errorf("清除检查点失败: %w", err)
	}
	if a.transactions != nil {
		if err := a.transactions.Clear(ctx); err != nil {
			return fmt.Errorf("清除流水失败: %w", err)
		}
	}
	logger.Infof("✓ 已清除检查点与流水")
	return nil
}

// Ingest 将 K 线按批写入存储，索引从 start 开始连续分配。
func (a *App) Ingest(ctx context.Context, bars market.Bars, start uint64) (written, skipped int, err error) {
	batch := a.cfg.Data.BatchSize
	for i := 0; i < len(bars); i += batch {
		end := min(i+batch, len(bars))
		w, s, err := a.bars.PutBatch(ctx, start+uint64(i), bars[i:end])
		written += w
		skipped += s
		if err != nil {
			return written, skipped, err
		}
		logger.Debugf("写入批次 %d-%d: 新增/更新 %d 跳过 %d", start+uint64(i), start+uint64(end)-1, w, s)
	}
	return written, skipped, nil
}

func (a *App) finish(ctx context.Context, st *backtest.SimulationState) {
	if a.Report != nil {
		if err := report.RenderText(a.Report, report.Build(st), report.TextOptions{MaxTransactions: 20}); err != nil {
			logger.Warnf("输出文本报告失败: %v", err)
		}
	}
	paths, err := report.WriteFiles(context.WithoutCancel(ctx), a.cfg.Report, st)
	if err != nil {
		logger.Warnf("写入报告文件失败: %v", err)
	}
	for _, p := range paths {
		logger.Infof("✓ 报告已写入 %s", p)
	}
}
