package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dcaengine/internal/backtest"
	"dcaengine/internal/config"
	"dcaengine/internal/logger"
)

// WriteFiles 按配置输出 JSON、图表与截图，返回写入的文件路径。
// 截图失败只记录警告（多数环境没有浏览器）。
func WriteFiles(ctx context.Context, cfg config.ReportConfig, st *backtest.SimulationState) ([]string, error) {
	if st == nil {
		return nil, fmt.Errorf("模拟状态为空")
	}
	if !cfg.JSON && !cfg.Chart {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建报告目录失败: %w", err)
	}
	base := "report"
	if len(st.RunID) >= 8 {
		base = "report-" + st.RunID[:8]
	}
	var written []string
	if cfg.JSON {
		p := filepath.Join(cfg.OutputDir, base+".json")
		if err := writeWith(p, func(f *os.File) error { return RenderJSON(f, Build(st)) }); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	if cfg.Chart {
		p := filepath.Join(cfg.OutputDir, base+".html")
		if err := writeWith(p, func(f *os.File) error { return RenderChart(f, st) }); err != nil {
			return written, err
		}
		written = append(written, p)
		if cfg.Screenshot {
			png := filepath.Join(cfg.OutputDir, base+".png")
			if err := Screenshot(ctx, p, png); err != nil {
				logger.Warnf("图表截图跳过: %v", err)
			} else {
				written = append(written, png)
			}
		}
	}
	return written, nil
}

func writeWith(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return f.Close()
}
