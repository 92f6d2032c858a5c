package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"dcaengine/internal/logger"
)

// 单次请求最多 1000 根
const binancePageLimit = 1000

// KlineFetcher 下载历史 K 线。
type KlineFetcher interface {
	Fetch(ctx context.Context, symbol, interval string, start, end time.Time) (Bars, error)
}

// BinanceFetcher 基于 go-binance 现货 REST 分页拉取。
type BinanceFetcher struct {
	client *binance.Client
}

func NewBinanceFetcher(apiKey, apiSecret string) *BinanceFetcher {
	return &BinanceFetcher{client: binance.NewClient(apiKey, apiSecret)}
}

// Fetch 拉取 [start,end) 范围内的 K 线，按页推进直到覆盖结束时间。
func (f *BinanceFetcher) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) (Bars, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("binance fetcher 未初始化")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("结束时间必须晚于开始时间")
	}
	var out Bars
	cursor := start.UnixMilli()
	stop := end.UnixMilli()
	for cursor < stop {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ks, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(stop - 1).
			Limit(binancePageLimit).
			Do(ctx)
		if err != nil {
			return out, fmt.Errorf("拉取 %s %s K 线失败: %w", symbol, interval, err)
		}
		if len(ks) == 0 {
			break
		}
		for _, k := range ks {
			bar, err := convertKline(k)
			if err != nil {
				logger.Warnf("跳过非法 K 线 openTime=%d: %v", k.OpenTime, err)
				continue
			}
			out = append(out, bar)
		}
		next := ks[len(ks)-1].OpenTime + 1
		if next <= cursor {
			break
		}
		cursor = next
		logger.Debugf("binance 已拉取 %d 根 %s %s", len(out), symbol, interval)
	}
	SortBars(out)
	return Dedup(out), nil
}

func convertKline(k *binance.Kline) (Bar, error) {
	vals := make([]float64, 5)
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bar{}, err
		}
		vals[i] = v
	}
	return Bar{
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
		Time:   time.UnixMilli(k.OpenTime).UTC(),
	}, nil
}
