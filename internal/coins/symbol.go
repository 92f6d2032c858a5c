package coins

import (
	"errors"
	"strings"
)

// DefaultQuote 未写计价币时补全的后缀。
const DefaultQuote = "USDT"

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH"}

// Normalize 标准化交易对：去空格、大写、去掉 "/" 与 "-"，未带计价币时补 USDT。
// 例如 "btc" → "BTCUSDT"，"eth/usdc" → "ETHUSDC"。
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if s == "" {
		return "", errors.New("交易对为空")
	}
	if _, ok := SplitQuote(s); !ok {
		s += DefaultQuote
	}
	return s, nil
}

// SplitQuote 返回基础币部分；无法识别计价币时 ok=false。
func SplitQuote(symbol string) (base string, ok bool) {
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), true
		}
	}
	return symbol, false
}
