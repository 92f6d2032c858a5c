package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"dcaengine/internal/logger"
)

var errNoRows = errors.New("CSV 中没有有效行")

// LoadCSV 读取 open,high,low,close,volume,timestamp 列（按表头名定位，大小写不敏感），
// 非法行跳过并计数，结果按时间排序。
func LoadCSV(path string) (Bars, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()
	bars, skipped, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if skipped > 0 {
		logger.Warnf("CSV %s 跳过 %d 行非法数据", path, skipped)
	}
	return bars, nil
}

// ReadCSV 解析 CSV 流，返回有效 K 线与跳过的行数。
func ReadCSV(r io.Reader) (Bars, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, errNoRows
		}
		return nil, 0, fmt.Errorf("读取表头失败: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	col := func(names ...string) int {
		for _, n := range names {
			if i, ok := cols[n]; ok {
				return i
			}
		}
		return -1
	}
	iOpen, iHigh, iLow, iClose := col("open"), col("high"), col("low"), col("close")
	iVol := col("volume", "vol")
	iTime := col("timestamp", "time", "date", "open_time")
	if iClose < 0 || iTime < 0 {
		return nil, 0, fmt.Errorf("缺少 close/timestamp 列")
	}

	var out Bars
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		field := func(i int) string {
			if i < 0 || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		ts, err := ParseTimeFlexible(field(iTime))
		if err != nil {
			skipped++
			continue
		}
		c, err := strconv.ParseFloat(field(iClose), 64)
		if err != nil {
			skipped++
			continue
		}
		bar := Bar{Close: c, Open: parseOr(field(iOpen), c), High: parseOr(field(iHigh), c), Low: parseOr(field(iLow), c), Time: ts}
		bar.Volume = parseOr(field(iVol), 0)
		if !bar.Valid() {
			skipped++
			continue
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, skipped, errNoRows
	}
	SortBars(out)
	return out, skipped, nil
}

// GlobCSV 按 doublestar 模式加载多个 CSV，合并后按时间排序并去除重复时间戳。
func GlobCSV(pattern string) (Bars, []string, error) {
	files, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("非法 glob %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("没有匹配 %q 的 CSV 文件", pattern)
	}
	sort.Strings(files)
	var all Bars
	for _, f := range files {
		bars, err := LoadCSV(f)
		if err != nil {
			return nil, files, err
		}
		all = append(all, bars...)
	}
	SortBars(all)
	return Dedup(all), files, nil
}

// SortBars 按时间稳定排序。
func SortBars(bs Bars) {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Time.Before(bs[j].Time) })
}

// Dedup 去除相邻的重复时间戳（保留先出现者），输入需已排序。
func Dedup(bs Bars) Bars {
	if len(bs) < 2 {
		return bs
	}
	out := bs[:1]
	for _, b := range bs[1:] {
		if b.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ParseTimeFlexible 支持 RFC3339、"2006-01-02 15:04:05"、UNIX 秒或毫秒。
func ParseTimeFlexible(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("空时间戳")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		// 大于 1e12 视为毫秒
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", s)
}

func parseOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}
