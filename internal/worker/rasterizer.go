package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RenderOptions 控制单次光栅化。
type RenderOptions struct {
	Landscape bool
	Timeout   time.Duration
}

// Rasterizer 把投影好的 HTML 页面转成 PDF 字节。
// 渲染管线对具体引擎零依赖，重试与超时都包在这层外面。
type Rasterizer interface {
	Render(ctx context.Context, html string, opts RenderOptions) ([]byte, error)
}

// RodRasterizer 使用 go-rod 驱动无头 Chromium 渲染。
type RodRasterizer struct {
	pageLoadTimeout time.Duration
}

// NewRodRasterizer 构造 go-rod 光栅化器。
func NewRodRasterizer(pageLoadTimeout time.Duration) *RodRasterizer {
	if pageLoadTimeout <= 0 {
		pageLoadTimeout = 30 * time.Second
	}
	return &RodRasterizer{pageLoadTimeout: pageLoadTimeout}
}

// Render 在无头浏览器中渲染 HTML 并导出 PDF。
// 无论成败，浏览器实例与临时文件都在返回前清理。
func (r *RodRasterizer) Render(ctx context.Context, html string, opts RenderOptions) (_ []byte, err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)
	defer launch.Cleanup()

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(r.pageLoadTimeout)
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	// 等待图片等子资源稳定，对应网络空闲
	if err := page.WaitIdle(r.pageLoadTimeout); err != nil {
		return nil, fmt.Errorf("wait idle: %w", err)
	}

	params := &proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
		Landscape:         opts.Landscape,
		MarginTop:         float64Ptr(0),
		MarginBottom:      float64Ptr(0),
		MarginLeft:        float64Ptr(0),
		MarginRight:       float64Ptr(0),
	}
	reader, err := page.PDF(params)
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

func float64Ptr(value float64) *float64 {
	return &value
}
