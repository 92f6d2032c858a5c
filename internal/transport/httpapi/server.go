package httpapi

// 中文说明：
// 只读状态服务：模拟在后台推进，HTTP 层只读取快照，不修改任何状态。

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/decision"
	"dcaengine/internal/ledger"
	"dcaengine/internal/logger"
	"dcaengine/internal/report"
	"dcaengine/internal/transport/web"

	"github.com/gin-gonic/gin"
)

const (
	defaultTxLimit = 200
	maxTxLimit     = 5000
)

// StatusSource 模拟循环的只读视图（*backtest.Loop）。
type StatusSource interface {
	LastProgress() (backtest.Progress, bool)
	Snapshot() *backtest.SimulationState
}

// DecisionSource 最近一次融合决策（*decision.Engine）。
type DecisionSource interface {
	Last() (decision.TradeDecision, bool)
}

// TransactionLister 持久化的流水（*database.CheckpointStore）。
type TransactionLister interface {
	ListTransactions(ctx context.Context, runID string, limit int) ([]ledger.Transaction, error)
}

type Server struct {
	addr      string
	status    StatusSource
	decisions DecisionSource
	txs       TransactionLister
	metrics   http.Handler
	hub       *Hub

	engine *gin.Engine
	srv    *http.Server
}

type Option func(*Server)

func WithDecisions(d DecisionSource) Option {
	return func(s *Server) { s.decisions = d }
}

func WithTransactions(t TransactionLister) Option {
	return func(s *Server) { s.txs = t }
}

func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

func NewServer(addr string, status StatusSource, opts ...Option) *Server {
	s := &Server{addr: addr, status: status}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler 暴露路由，便于 httptest。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/report", s.handleReport)
	api.GET("/transactions", s.handleTransactions)
	api.GET("/decision", s.handleDecision)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	if s.hub != nil {
		r.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
	}
	r.StaticFS("/ui", http.FS(web.StaticFS()))
	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/ui/") })
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	p, ok := s.status.LastProgress()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟尚未开始"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleReport(c *gin.Context) {
	st := s.status.Snapshot()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟尚未开始"})
		return
	}
	c.JSON(http.StatusOK, report.Build(st))
}

func (s *Server) handleTransactions(c *gin.Context) {
	limit := defaultTxLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须为正整数"})
			return
		}
		limit = n
	}
	if limit > maxTxLimit {
		limit = maxTxLimit
	}
	st := s.status.Snapshot()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟尚未开始"})
		return
	}
	if s.txs != nil {
		txs, err := s.txs.ListTransactions(c.Request.Context(), st.RunID, limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"run_id": st.RunID, "transactions": txs})
			return
		}
		logger.Warnf("读取流水失败，改用内存账本: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"run_id": st.RunID, "transactions": latestFirst(st.Ledger.Transactions, limit)})
}

func (s *Server) handleDecision(c *gin.Context) {
	if s.decisions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未配置决策引擎"})
		return
	}
	d, ok := s.decisions.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "暂无决策"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// latestFirst 与数据库查询保持一致：按 id 倒序，最多 limit 条。
func latestFirst(txs []ledger.Transaction, limit int) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, min(limit, len(txs)))
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, txs[i])
	}
	return out
}

// Start 阻塞监听直到 ctx 取消，随后优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.hub != nil {
		go s.hub.Run()
		defer s.hub.Close()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("✓ 状态服务监听 %s", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Infof("状态服务已关闭")
		return nil
	}
}
