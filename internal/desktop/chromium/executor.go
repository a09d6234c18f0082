// internal/desktop/chromium/executor.go
package chromium

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Executor is the seam between the driver and the CDP session. The driver
// composes raw protocol events and hands them to an Executor, so tests can
// swap in a recording implementation without a browser process.
type Executor interface {
	// Sleep pauses execution for a given duration (context-aware).
	Sleep(ctx context.Context, d time.Duration) error

	// DispatchMouseEvent sends a raw low-level mouse event.
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error

	// DispatchKeyEvent sends a raw low-level key event.
	DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error

	// ExecuteAction executes a composed chromedp.Action (KeyEvent, Navigate).
	ExecuteAction(ctx context.Context, a chromedp.Action) error

	// CaptureScreenshot grabs the current viewport as PNG bytes.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// LayoutMetrics retrieves the CSS visual viewport.
	LayoutMetrics(ctx context.Context) (*page.VisualViewport, error)
}

// CDPExecutor is the production implementation of the Executor interface.
// It wraps the real chromedp library calls.
type CDPExecutor struct{}

// NewCDPExecutor creates a new production-ready executor.
func NewCDPExecutor() *CDPExecutor {
	return &CDPExecutor{}
}

func (e *CDPExecutor) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *CDPExecutor) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(p.Do))
}

func (e *CDPExecutor) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(p.Do))
}

func (e *CDPExecutor) ExecuteAction(ctx context.Context, a chromedp.Action) error {
	return chromedp.Run(ctx, a)
}

func (e *CDPExecutor) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *CDPExecutor) LayoutMetrics(ctx context.Context) (*page.VisualViewport, error) {
	var viewport *page.VisualViewport
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		// The modern 7-value return signature; only the visual viewport is needed.
		_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(ctx)
		viewport = cssVisualViewport
		return err
	}))
	if err != nil {
		return nil, err
	}
	return viewport, nil
}
