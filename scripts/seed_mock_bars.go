package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"dcaengine/internal/gateway/database"
	"dcaengine/internal/market"
)

// Seed a SQLite database with a mock 1m random walk (with occasional sell-offs) for local runs.
// Usage: go run scripts/seed_mock_bars.go [db_path] [bars]
// Default db_path: data/dcaengine.db, bars: 10080 (one week)
func main() {
	dbPath := "data/dcaengine.db"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		dbPath = strings.TrimSpace(os.Args[1])
	}
	n := 7 * 24 * 60
	if len(os.Args) > 2 {
		v, err := strconv.Atoi(os.Args[2])
		if err != nil || v <= 0 {
			panic(fmt.Sprintf("bars 非法: %s", os.Args[2]))
		}
		n = v
	}

	db, err := database.Open(dbPath)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	bars := randomWalk(n, 42000, time.Now().UTC().Truncate(24*time.Hour).Add(-time.Duration(n)*time.Minute))
	written, skipped, err := database.NewBarStore(db, "").PutBatch(context.Background(), 0, bars)
	if err != nil {
		panic(err)
	}
	fmt.Printf("✓ mock bars seeded into %s (写入 %d，跳过 %d，区间 %s ~ %s)\n",
		dbPath, written, skipped, bars[0].TimeString(), bars[len(bars)-1].TimeString())
}

// randomWalk 每分钟 ±0.05% 的随机游走，约每 6 小时插入一段持续 30 分钟的急跌。
func randomWalk(n int, start float64, from time.Time) market.Bars {
	r := rand.New(rand.NewSource(7))
	out := make(market.Bars, 0, n)
	price := start
	for i := 0; i < n; i++ {
		drift := r.NormFloat64() * 0.0005
		if i%360 >= 300 && i%360 < 330 {
			drift -= 0.002
		}
		open := price
		price = math.Max(1, price*(1+drift))
		high := math.Max(open, price) * (1 + r.Float64()*0.0003)
		low := math.Min(open, price) * (1 - r.Float64()*0.0003)
		out = append(out, market.Bar{
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 5 + r.Float64()*20,
			Time:   from.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}
