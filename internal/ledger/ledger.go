package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// 中文说明：
// 批次账本：每次买入形成独立批次，按各自成本独立止盈。
// total_invested 始终由未平仓批次重新求和得到，不做增量累加。
// 买入前检查投入上限，超限整笔拒绝，不做部分成交。

var (
	ErrInvestmentCap    = errors.New("超出投入上限")
	ErrInsufficientCash = errors.New("现金不足")
	ErrInvalidPrice     = errors.New("价格无效")
)

// Side 交易方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Params 账本参数。TradePct 与 TakeProfitPct 为百分数，InvestmentCap 为初始资金比例。
type Params struct {
	InitialBalance float64 `json:"initial_balance"`
	TradePct       float64 `json:"trade_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	InvestmentCap  float64 `json:"investment_cap"`
}

func DefaultParams() Params {
	return Params{InitialBalance: 10000, TradePct: 5, TakeProfitPct: 6, InvestmentCap: 0.9}
}

// CapLimit 投入上限金额。
func (p Params) CapLimit() float64 {
	return p.InitialBalance * p.InvestmentCap
}

// Lot 未平仓批次。
type Lot struct {
	ID             uint64    `json:"id"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	EntryTime      time.Time `json:"entry_time"`
	InvestedAmount float64   `json:"invested_amount"`
}

// GainPct 按给定价格计算的浮动收益百分比。
func (l Lot) GainPct(price float64) float64 {
	if l.EntryPrice <= 0 {
		return 0
	}
	return (price - l.EntryPrice) / l.EntryPrice * 100
}

func (l Lot) UnrealizedPnL(price float64) float64 {
	return l.Quantity*price - l.InvestedAmount
}

// Transaction 只追加的流水记录。
type Transaction struct {
	ID          uint64    `json:"id"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Time        time.Time `json:"time"`
	Amount      float64   `json:"amount"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	LotID       uint64    `json:"lot_id"`
	Reason      string    `json:"reason,omitempty"`
}

// Ledger 单写者，不加锁；由模拟循环独占。
type Ledger struct {
	Params        Params        `json:"params"`
	Cash          float64       `json:"cash"`
	Asset         float64       `json:"asset"`
	TotalInvested float64       `json:"total_invested"`
	Lots          []Lot         `json:"lots"`
	Transactions  []Transaction `json:"transactions"`
	NextLotID     uint64        `json:"next_lot_id"`
	NextTxID      uint64        `json:"next_tx_id"`
	Stats         Stats         `json:"stats"`
}

func New(p Params) *Ledger {
	return &Ledger{
		Params:    p,
		Cash:      p.InitialBalance,
		NextLotID: 1,
		NextTxID:  1,
		Stats:     Stats{TotalValue: p.InitialBalance},
	}
}

// NextBuySize 下一笔买入金额。
func (l *Ledger) NextBuySize() float64 {
	return l.Cash * (l.Params.TradePct / 100)
}

// Buy 按当前现金比例买入一个新批次。
func (l *Ledger) Buy(price float64, at time.Time, reason string) (Transaction, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Transaction{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if l.Cash <= 0 {
		return Transaction{}, ErrInsufficientCash
	}
	size := l.NextBuySize()
	if size <= 0 {
		return Transaction{}, ErrInsufficientCash
	}
	if after := l.TotalInvested + size; after > l.Params.CapLimit() {
		return Transaction{}, fmt.Errorf("%w: %.2f/%.2f", ErrInvestmentCap, after, l.Params.CapLimit())
	}
	qty := size / price
	lot := Lot{
		ID:             l.NextLotID,
		Quantity:       qty,
		EntryPrice:     price,
		EntryTime:      at,
		InvestedAmount: size,
	}
	tx := Transaction{
		ID:       l.NextTxID,
		Side:     SideBuy,
		Quantity: qty,
		Price:    price,
		Time:     at,
		Amount:   size,
		LotID:    lot.ID,
		Reason:   reason,
	}
	l.Cash -= size
	l.Lots = append(l.Lots, lot)
	l.Transactions = append(l.Transactions, tx)
	l.NextLotID++
	l.NextTxID++
	l.Stats.Buys++
	l.reconcile()
	return tx, nil
}

// EvaluateSells 每个批次独立检查止盈，同一根 K 线可平多个批次。
func (l *Ledger) EvaluateSells(price float64, at time.Time) []Transaction {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || len(l.Lots) == 0 {
		return nil
	}
	var closed []Transaction
	kept := l.Lots[:0]
	for _, lot := range l.Lots {
		if lot.GainPct(price) >= l.Params.TakeProfitPct {
			closed = append(closed, l.close(lot, price, at))
			continue
		}
		kept = append(kept, lot)
	}
	l.Lots = kept
	if len(closed) > 0 {
		l.reconcile()
	}
	return closed
}

func (l *Ledger) close(lot Lot, price float64, at time.Time) Transaction {
	proceeds := lot.Quantity * price
	pnl := proceeds - lot.InvestedAmount
	tx := Transaction{
		ID:          l.NextTxID,
		Side:        SideSell,
		Quantity:    lot.Quantity,
		Price:       price,
		Time:        at,
		Amount:      proceeds,
		RealizedPnL: &pnl,
		LotID:       lot.ID,
		Reason:      "take_profit",
	}
	l.NextTxID++
	l.Cash += proceeds
	l.Transactions = append(l.Transactions, tx)
	l.Stats.recordSell(pnl)
	return tx
}

// reconcile 由未平仓批次重算持仓与投入。
func (l *Ledger) reconcile() {
	sort.Slice(l.Lots, func(i, j int) bool { return l.Lots[i].ID < l.Lots[j].ID })
	invested, qty := 0.0, 0.0
	for _, lot := range l.Lots {
		invested += lot.InvestedAmount
		qty += lot.Quantity
	}
	l.TotalInvested = invested
	l.Asset = qty
}

// Lot 按 id 查找未平仓批次。
func (l *Ledger) Lot(id uint64) (Lot, bool) {
	for _, lot := range l.Lots {
		if lot.ID == id {
			return lot, true
		}
	}
	return Lot{}, false
}

func (l *Ledger) HasLots() bool { return len(l.Lots) > 0 }

// Mark 以给定价格更新组合统计。
func (l *Ledger) Mark(price float64) {
	l.Stats.mark(l.Params.InitialBalance, l.Cash, l.Asset, price)
}

// TotalValue 现金 + 持仓市值。
func (l *Ledger) TotalValue(price float64) float64 {
	return l.Cash + l.Asset*price
}

// Clone 深拷贝，用于对外发布快照。
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.Lots = append([]Lot(nil), l.Lots...)
	out.Transactions = make([]Transaction, len(l.Transactions))
	for i, tx := range l.Transactions {
		if tx.RealizedPnL != nil {
			v := *tx.RealizedPnL
			tx.RealizedPnL = &v
		}
		out.Transactions[i] = tx
	}
	return &out
}

// TransactionsSince 返回 id 大于 after 的流水。
func (l *Ledger) TransactionsSince(after uint64) []Transaction {
	idx := sort.Search(len(l.Transactions), func(i int) bool { return l.Transactions[i].ID > after })
	return append([]Transaction(nil), l.Transactions[idx:]...)
}
