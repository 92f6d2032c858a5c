package app

import (
	"strings"

	"dcaengine/internal/advisory"
	"dcaengine/internal/backtest"
	"dcaengine/internal/config"
	"dcaengine/internal/decision"
	"dcaengine/internal/gateway/database"
	"dcaengine/internal/logger"
	"dcaengine/internal/metrics"
	"dcaengine/internal/transport/httpapi"
)

// 中文说明：
// wire 的 provider 集合；wire_gen.go 按依赖顺序调用它们。

func provideDB(cfg *config.Config) (*database.DB, func(), error) {
	db, err := database.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("✓ 数据库已打开 %s", db.Path())
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}
	return db, cleanup, nil
}

func provideBarStore(db *database.DB) *database.BarStore {
	return database.NewBarStore(db, "")
}

func provideTransactionStore(db *database.DB) *database.CheckpointStore {
	return database.NewCheckpointStore(db)
}

// provideCheckpoints 按 storage.checkpoint 选择检查点位置；流水始终写入 SQLite。
func provideCheckpoints(cfg *config.Config, sqlite *database.CheckpointStore) backtest.CheckpointStore {
	if cfg.Storage.Checkpoint == "file" {
		logger.Infof("✓ 检查点写入文件 %s", cfg.Storage.StateFile)
		return database.NewFileCheckpointStore(cfg.Storage.StateFile)
	}
	return sqlite
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideHub() *httpapi.Hub {
	return httpapi.NewHub()
}

// provideAdvisor 未启用时返回 nil 接口（而不是包着 nil 指针的接口）。
func provideAdvisor(cfg *config.Config) (decision.Advisor, error) {
	ens, err := advisory.Build(cfg.Advisory)
	if err != nil {
		return nil, err
	}
	if ens == nil {
		return nil, nil
	}
	return ens, nil
}

func decisionParams(cfg config.DecisionConfig) decision.Params {
	risk, ok := decision.ParseRiskLevel(cfg.RiskTolerance)
	if !ok {
		logger.Warnf("未知风险偏好 %s，使用 MEDIUM", cfg.RiskTolerance)
	}
	return decision.Params{
		TechnicalWeight: cfg.TechnicalWeight,
		AdvisoryWeight:  cfg.AdvisoryWeight,
		MinConfidence:   cfg.MinConfidence,
		RiskTolerance:   risk,
	}
}

func provideEngine(cfg *config.Config, advisor decision.Advisor, m *metrics.Metrics) *decision.Engine {
	opts := []decision.Option{decision.WithObserver(m)}
	if advisor != nil {
		opts = append(opts,
			decision.WithAdvisor(advisor, cfg.Advisory.Timeout()),
			decision.WithCache(decision.NewVerdictCache(cfg.Advisory.CacheTTL())),
		)
	}
	p := decisionParams(cfg.Decision)
	logger.Infof("✓ 决策融合: 技术 %.2f / 顾问 %.2f，最低置信度 %.2f，风险偏好 %s",
		p.TechnicalWeight, p.AdvisoryWeight, p.MinConfidence, p.RiskTolerance)
	return decision.NewEngine(strings.ToUpper(cfg.Trading.Symbol), p, opts...)
}

func provideLoop(
	cfg *config.Config,
	bars *database.BarStore,
	checkpoints backtest.CheckpointStore,
	txs *database.CheckpointStore,
	engine *decision.Engine,
	m *metrics.Metrics,
	hub *httpapi.Hub,
) (*backtest.Loop, error) {
	settings, err := backtest.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 策略: %s 模式，每笔 %.2f%%，跌幅触发 %.2f%%，止盈 %.2f%%，投入上限 %.0f%%",
		settings.Mode, settings.Ledger.TradePct, settings.Dip.TriggerPct, settings.Ledger.TakeProfitPct, settings.Ledger.InvestmentCap*100)
	return backtest.NewLoop(settings, bars,
		backtest.WithDecider(engine),
		backtest.WithCheckpoints(checkpoints),
		backtest.WithTransactionSink(txs),
		backtest.WithObserver(m),
		backtest.WithObserver(hub),
	), nil
}

func provideServer(
	cfg *config.Config,
	loop *backtest.Loop,
	engine *decision.Engine,
	txs *database.CheckpointStore,
	m *metrics.Metrics,
	hub *httpapi.Hub,
) *httpapi.Server {
	return httpapi.NewServer(cfg.HTTP.Addr, loop,
		httpapi.WithDecisions(engine),
		httpapi.WithTransactions(txs),
		httpapi.WithMetrics(m.Handler()),
		httpapi.WithHub(hub),
	)
}

func newApp(
	cfg *config.Config,
	db *database.DB,
	bars *database.BarStore,
	checkpoints backtest.CheckpointStore,
	txs *database.CheckpointStore,
	engine *decision.Engine,
	m *metrics.Metrics,
	loop *backtest.Loop,
	hub *httpapi.Hub,
	server *httpapi.Server,
) *App {
	return &App{
		cfg:          cfg,
		db:           db,
		bars:         bars,
		checkpoints:  checkpoints,
		transactions: txs,
		engine:       engine,
		metrics:      m,
		loop:         loop,
		hub:          hub,
		server:       server,
	}
}
