package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// Screenshot 使用无头 Chrome 将图表 HTML 渲染为 PNG。需要本机安装 Chrome/Chromium。
func Screenshot(ctx context.Context, htmlPath, pngPath string) error {
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("图表文件不存在: %w", err)
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("allow-file-access-from-files", true),
	)...)
	defer cancelAlloc()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancelTimeout()

	var buf []byte
	if err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1280, 720),
		chromedp.Navigate("file://"+abs),
		chromedp.Sleep(1500*time.Millisecond), // 等待 echarts 动画结束
		chromedp.FullScreenshot(&buf, 90),
	); err != nil {
		return fmt.Errorf("截图失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(pngPath, buf, 0o644)
}
