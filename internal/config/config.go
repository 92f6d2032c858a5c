package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// 中文说明：
// 配置在启动时构造一次并显式传递给各组件；非法配置在任何模拟步骤之前即报错退出。

const DefaultPath = "configs/config.toml"

type Config struct {
	App        AppConfig        `toml:"app" yaml:"app"`
	Trading    TradingConfig    `toml:"trading" yaml:"trading"`
	Decision   DecisionConfig   `toml:"decision" yaml:"decision"`
	Advisory   AdvisoryConfig   `toml:"advisory" yaml:"advisory"`
	Simulation SimulationConfig `toml:"simulation" yaml:"simulation"`
	Data       DataConfig       `toml:"data" yaml:"data"`
	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	Report     ReportConfig     `toml:"report" yaml:"report"`
	HTTP       HTTPConfig       `toml:"http" yaml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogFile  string `toml:"log_file" yaml:"log_file"` // serve 模式下的日志文件
}

type TradingConfig struct {
	Symbol         string  `toml:"symbol" yaml:"symbol"`
	InitialBalance float64 `toml:"initial_balance" yaml:"initial_balance"`
	TradePct       float64 `toml:"trade_percentage" yaml:"trade_percentage"`
	DipTriggerPct  float64 `toml:"dip_trigger_percentage" yaml:"dip_trigger_percentage"`
	TakeProfitPct  float64 `toml:"take_profit_percentage" yaml:"take_profit_percentage"`
	DipTarget      int     `toml:"dip_count_target" yaml:"dip_count_target"`
	InvestmentCap  float64 `toml:"max_investment_ratio" yaml:"max_investment_ratio"`
	StrategyMode   string  `toml:"strategy_mode" yaml:"strategy_mode"` // dca | gated
	MaxLossPct     float64 `toml:"max_loss_percentage" yaml:"max_loss_percentage"`
	HaltOnMaxLoss  bool    `toml:"halt_on_max_loss" yaml:"halt_on_max_loss"`
}

type DecisionConfig struct {
	TechnicalWeight float64 `toml:"technical_weight" yaml:"technical_weight"`
	AdvisoryWeight  float64 `toml:"advisory_weight" yaml:"advisory_weight"`
	MinConfidence   float64 `toml:"min_confidence" yaml:"min_confidence"`
	RiskTolerance   string  `toml:"risk_tolerance" yaml:"risk_tolerance"` // low | medium | high | very_high
	IntervalBars    int     `toml:"interval_bars" yaml:"interval_bars"`   // 0 表示不做周期性评估
	HistoryBars     int     `toml:"history_bars" yaml:"history_bars"`
}

type ProviderConfig struct {
	ID      string            `toml:"id" yaml:"id"`
	Kind    string            `toml:"kind" yaml:"kind"` // ollama | openai | rules
	Enabled bool              `toml:"enabled" yaml:"enabled"`
	BaseURL string            `toml:"base_url" yaml:"base_url"`
	APIKey  string            `toml:"api_key" yaml:"api_key"`
	Model   string            `toml:"model" yaml:"model"`
	Headers map[string]string `toml:"headers" yaml:"headers"`
}

type AdvisoryConfig struct {
	Enabled         bool             `toml:"enabled" yaml:"enabled"`
	Aggregation     string           `toml:"aggregation" yaml:"aggregation"` // first-wins | majority
	TimeoutSeconds  int              `toml:"timeout_seconds" yaml:"timeout_seconds"`
	CacheTTLMinutes int              `toml:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
	MaxRetries      int              `toml:"max_retries" yaml:"max_retries"`
	SystemPrompt    string           `toml:"system_prompt" yaml:"system_prompt"`
	Providers       []ProviderConfig `toml:"providers" yaml:"providers"`
}

type SimulationConfig struct {
	Start           string `toml:"start" yaml:"start"`
	End             string `toml:"end" yaml:"end"`
	TickSeconds     int    `toml:"tick_seconds" yaml:"tick_seconds"`
	MissCeiling     int    `toml:"miss_ceiling" yaml:"miss_ceiling"`
	StatusEvery     int    `toml:"status_every" yaml:"status_every"`
	CheckpointEvery int    `toml:"checkpoint_every" yaml:"checkpoint_every"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key" yaml:"api_key"`
	APISecret string `toml:"api_secret" yaml:"api_secret"`
	Interval  string `toml:"interval" yaml:"interval"`
}

type DataConfig struct {
	CSVGlob   string        `toml:"csv_glob" yaml:"csv_glob"`
	BatchSize int           `toml:"batch_size" yaml:"batch_size"`
	Binance   BinanceConfig `toml:"binance" yaml:"binance"`
}

type StorageConfig struct {
	DBPath     string `toml:"db_path" yaml:"db_path"`
	Checkpoint string `toml:"checkpoint" yaml:"checkpoint"` // sqlite | file
	StateFile  string `toml:"state_file" yaml:"state_file"`
}

type ReportConfig struct {
	OutputDir  string `toml:"output_dir" yaml:"output_dir"`
	JSON       bool   `toml:"json" yaml:"json"`
	Chart      bool   `toml:"chart" yaml:"chart"`
	Screenshot bool   `toml:"screenshot" yaml:"screenshot"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// Load 读取配置文件（按扩展名选择 TOML/YAML），叠加 .env 与环境变量后校验。
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("解析 YAML 失败: %w", err)
		}
	default:
		if err := toml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("解析 TOML 失败: %w", err)
		}
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnv(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default 返回仅包含默认值的配置，便于测试与无配置文件的子命令。
func Default() *Config {
	var c Config
	applyDefaults(&c)
	return &c
}

// ResolvePath 按 命令行 > DCA_CONFIG > 默认路径 的顺序确定配置文件。
func ResolvePath(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	if env := strings.TrimSpace(os.Getenv("DCA_CONFIG")); env != "" {
		return env
	}
	return DefaultPath
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("加载 %s 失败: %w", path, err)
}

func applyEnv(c *Config) error {
	if v := os.Getenv("DCA_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("DCA_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DCA_ADVISORY_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DCA_ADVISORY_ENABLED 非法: %w", err)
		}
		c.Advisory.Enabled = on
	}
	if len(c.Advisory.Providers) > 0 {
		p := &c.Advisory.Providers[0]
		if v := os.Getenv("DCA_ADVISORY_BASE_URL"); v != "" {
			p.BaseURL = v
		}
		if v := os.Getenv("DCA_ADVISORY_MODEL"); v != "" {
			p.Model = v
		}
		if v := os.Getenv("DCA_ADVISORY_API_KEY"); v != "" {
			p.APIKey = v
		}
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Data.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Data.Binance.APISecret = v
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFile == "" {
		c.App.LogFile = "data/dcaengine.log"
	}
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "BTCUSDT"
	}
	if c.Trading.InitialBalance == 0 {
		c.Trading.InitialBalance = 10000
	}
	if c.Trading.TradePct == 0 {
		c.Trading.TradePct = 5
	}
	if c.Trading.DipTriggerPct == 0 {
		c.Trading.DipTriggerPct = 3
	}
	if c.Trading.TakeProfitPct == 0 {
		c.Trading.TakeProfitPct = 6
	}
	if c.Trading.DipTarget == 0 {
		c.Trading.DipTarget = 3
	}
	if c.Trading.InvestmentCap == 0 {
		c.Trading.InvestmentCap = 0.9
	}
	if c.Trading.StrategyMode == "" {
		c.Trading.StrategyMode = "dca"
	}
	if c.Trading.MaxLossPct == 0 {
		c.Trading.MaxLossPct = 50
	}
	// 权重两者都未配置时使用默认 0.3/0.7
	if c.Decision.TechnicalWeight == 0 && c.Decision.AdvisoryWeight == 0 {
		c.Decision.TechnicalWeight = 0.3
		c.Decision.AdvisoryWeight = 0.7
	}
	if c.Decision.MinConfidence == 0 {
		c.Decision.MinConfidence = 0.6
	}
	if c.Decision.RiskTolerance == "" {
		c.Decision.RiskTolerance = "medium"
	}
	if c.Decision.HistoryBars <= 0 {
		c.Decision.HistoryBars = 50
	}
	if c.Advisory.Aggregation == "" {
		c.Advisory.Aggregation = "first-wins"
	}
	if c.Advisory.TimeoutSeconds <= 0 {
		c.Advisory.TimeoutSeconds = 30
	}
	if c.Advisory.CacheTTLMinutes <= 0 {
		c.Advisory.CacheTTLMinutes = 60
	}
	if c.Advisory.MaxRetries <= 0 {
		c.Advisory.MaxRetries = 2
	}
	for i := range c.Advisory.Providers {
		p := &c.Advisory.Providers[i]
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.ID == "" {
			p.ID = p.Kind
		}
		if p.Kind == "ollama" && p.BaseURL == "" {
			p.BaseURL = "http://localhost:11434"
		}
		if p.Kind == "ollama" && p.Model == "" {
			p.Model = "llama3.2:3b"
		}
	}
	if c.Simulation.TickSeconds <= 0 {
		c.Simulation.TickSeconds = 60
	}
	if c.Simulation.MissCeiling <= 0 {
		c.Simulation.MissCeiling = 1000
	}
	if c.Simulation.StatusEvery <= 0 {
		c.Simulation.StatusEvery = 100
	}
	if c.Simulation.CheckpointEvery <= 0 {
		c.Simulation.CheckpointEvery = 500
	}
	if c.Data.CSVGlob == "" {
		c.Data.CSVGlob = "data/*.csv"
	}
	if c.Data.BatchSize <= 0 {
		c.Data.BatchSize = 1000
	}
	if c.Data.Binance.Interval == "" {
		c.Data.Binance.Interval = "1m"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/dcaengine.db"
	}
	if c.Storage.Checkpoint == "" {
		c.Storage.Checkpoint = "sqlite"
	}
	if c.Storage.StateFile == "" {
		c.Storage.StateFile = "simulation_state.json"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "reports"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9991"
	}
}

func validate(c *Config) error {
	t := c.Trading
	for name, v := range map[string]float64{
		"trading.initial_balance":        t.InitialBalance,
		"trading.trade_percentage":       t.TradePct,
		"trading.dip_trigger_percentage": t.DipTriggerPct,
		"trading.take_profit_percentage": t.TakeProfitPct,
		"trading.max_investment_ratio":   t.InvestmentCap,
		"trading.max_loss_percentage":    t.MaxLossPct,
		"decision.technical_weight":      c.Decision.TechnicalWeight,
		"decision.advisory_weight":       c.Decision.AdvisoryWeight,
		"decision.min_confidence":        c.Decision.MinConfidence,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s 必须为有限数值", name)
		}
	}
	if t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance 必须大于 0")
	}
	if t.TradePct <= 0 || t.TradePct > 100 {
		return fmt.Errorf("trading.trade_percentage 需在 (0,100]")
	}
	if t.DipTriggerPct <= 0 || t.DipTriggerPct >= 50 {
		return fmt.Errorf("trading.dip_trigger_percentage 需在 (0,50)")
	}
	if t.TakeProfitPct <= 0 {
		return fmt.Errorf("trading.take_profit_percentage 必须大于 0")
	}
	if t.DipTarget < 1 {
		return fmt.Errorf("trading.dip_count_target 至少为 1")
	}
	if t.InvestmentCap <= 0 || t.InvestmentCap > 1 {
		return fmt.Errorf("trading.max_investment_ratio 需在 (0,1]")
	}
	if t.MaxLossPct <= 0 || t.MaxLossPct > 100 {
		return fmt.Errorf("trading.max_loss_percentage 需在 (0,100]")
	}
	switch t.StrategyMode {
	case "dca", "gated":
	default:
		return fmt.Errorf("非法 trading.strategy_mode: %s", t.StrategyMode)
	}
	d := c.Decision
	if d.TechnicalWeight < 0 || d.TechnicalWeight > 1 || d.AdvisoryWeight < 0 || d.AdvisoryWeight > 1 {
		return fmt.Errorf("decision 权重需在 [0,1]")
	}
	if math.Abs(d.TechnicalWeight+d.AdvisoryWeight-1) > 1e-6 {
		return fmt.Errorf("decision.technical_weight + advisory_weight 必须等于 1（当前 %.4f）", d.TechnicalWeight+d.AdvisoryWeight)
	}
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		return fmt.Errorf("decision.min_confidence 需在 [0,1]")
	}
	switch strings.ToLower(d.RiskTolerance) {
	case "low", "medium", "high", "very_high":
	default:
		return fmt.Errorf("非法 decision.risk_tolerance: %s", d.RiskTolerance)
	}
	if d.IntervalBars < 0 {
		return fmt.Errorf("decision.interval_bars 不能为负")
	}
	switch c.Advisory.Aggregation {
	case "first-wins", "majority":
	default:
		return fmt.Errorf("非法 advisory.aggregation: %s", c.Advisory.Aggregation)
	}
	for _, p := range c.Advisory.Providers {
		switch p.Kind {
		case "ollama", "openai", "rules":
		default:
			return fmt.Errorf("advisory provider %s 类型非法: %s", p.ID, p.Kind)
		}
		if p.Enabled && p.Kind == "openai" && (p.BaseURL == "" || p.Model == "") {
			return fmt.Errorf("advisory provider %s 需提供 base_url 与 model", p.ID)
		}
	}
	start, end, err := c.Simulation.Range()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return fmt.Errorf("simulation.end 必须晚于 simulation.start")
	}
	switch c.Storage.Checkpoint {
	case "sqlite", "file":
	default:
		return fmt.Errorf("非法 storage.checkpoint: %s", c.Storage.Checkpoint)
	}
	return nil
}

// Tick 返回模拟步长。
func (s SimulationConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// Range 解析模拟起止时间；为空时返回零值，由数据范围决定。
func (s SimulationConfig) Range() (time.Time, time.Time, error) {
	start, err := parseTime(s.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("simulation.start 非法: %w", err)
	}
	end, err := parseTime(s.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("simulation.end 非法: %w", err)
	}
	return start, end, nil
}

// Timeout 返回单次顾问调用的超时。
func (a AdvisoryConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a AdvisoryConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLMinutes) * time.Minute
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", s)
}
