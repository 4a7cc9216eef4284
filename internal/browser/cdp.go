package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/capture"
)

// CDPFactory opens DevTools tabs on an already running browser.
type CDPFactory struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	abandoned sync.WaitGroup
	closeOnce sync.Once
}

// NewCDPFactory connects to the browser-level websocket endpoint of a
// supervised process. The connection is verified before returning.
func NewCDPFactory(ctx context.Context, wsURL string, cfg Config, logger *zap.Logger) (*CDPFactory, error) {
	if wsURL == "" {
		return nil, fmt.Errorf("%w: devtools websocket url is required", capture.ErrDriverSpawn)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: devtools connect: %w", capture.ErrDriverSpawn, err)
	}
	return &CDPFactory{
		cfg:           cfg.withDefaults(),
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Open creates a handle that owns one fresh tab.
func (f *CDPFactory) Open(ctx context.Context, slot int) (capture.Handle, error) {
	h := &cdpHandle{factory: f, slot: slot, logger: f.logger.With(zap.Int("slot", slot))}
	t, err := f.newTab(ctx)
	if err != nil {
		return nil, err
	}
	h.tab = t
	return h, nil
}

// Close waits (bounded) for abandoned tabs and drops the DevTools connection.
// The browser process itself belongs to the driver supervisor.
func (f *CDPFactory) Close() error {
	f.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			f.abandoned.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(f.cfg.CloseTimeout):
			f.logger.Warn("abandoned tabs still closing", zap.Duration("waited", f.cfg.CloseTimeout))
		}
		f.browserCancel()
		f.allocCancel()
	})
	return nil
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
}

func (f *CDPFactory) newTab(ctx context.Context) (*tab, error) {
	if err := f.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser connection closed: %w", capture.ErrCaptureFailed, err)
	}
	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)
	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	// The first Run creates the target and binds it to the context it is
	// given, so it must run on tabCtx itself.
	stopForward := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx, f.setupAction())
	stopForward()
	if err != nil {
		f.abandon(tabCancel)
		return nil, fmt.Errorf("%w: open tab: %w", capture.ErrCaptureFailed, err)
	}
	return &tab{ctx: tabCtx, cancel: tabCancel, meta: meta}, nil
}

func (f *CDPFactory) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(f.cfg.Width), int64(f.cfg.Height), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// abandon closes a tab in the background; Close waits for it.
func (f *CDPFactory) abandon(cancel context.CancelFunc) {
	f.abandoned.Add(1)
	go func() {
		defer f.abandoned.Done()
		cancel()
	}()
}

type cdpHandle struct {
	factory *CDPFactory
	slot    int
	logger  *zap.Logger

	mu     sync.Mutex
	tab    *tab
	closed bool
}

// Capture navigates the handle's tab and takes the screenshot.
func (h *cdpHandle) Capture(ctx context.Context, target capture.Target) (capture.Shot, error) {
	t, err := h.currentTab(ctx)
	if err != nil {
		return capture.Shot{}, err
	}
	t.meta.reset()

	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var (
		buf   []byte
		title string
	)
	actions := []chromedp.Action{
		chromedp.Navigate(target.Raw),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		h.factory.screenshotAction(&buf),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return capture.Shot{}, fmt.Errorf("%w: %w", capture.ErrCaptureFailed, ctxErr)
		}
		return capture.Shot{}, fmt.Errorf("%w: chromedp run: %w", capture.ErrCaptureFailed, err)
	}
	if len(buf) == 0 {
		return capture.Shot{}, fmt.Errorf("%w: empty screenshot", capture.ErrCaptureFailed)
	}
	status, _ := t.meta.snapshot()
	return capture.Shot{PNG: buf, Title: title, HTTPStatus: status}, nil
}

func (f *CDPFactory) screenshotAction(buf *[]byte) chromedp.Action {
	if f.cfg.FullPage {
		return chromedp.FullScreenshot(buf, f.cfg.Quality)
	}
	return chromedp.CaptureScreenshot(buf)
}

// Reset abandons the current tab, which may still be busy with a timed-out
// navigation, and opens a fresh one.
func (h *cdpHandle) Reset(ctx context.Context) error {
	h.mu.Lock()
	old := h.tab
	h.tab = nil
	closed := h.closed
	h.mu.Unlock()
	if old != nil {
		h.factory.abandon(old.cancel)
	}
	if closed {
		return errors.New("handle closed")
	}
	t, err := h.factory.newTab(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.factory.abandon(t.cancel)
		return errors.New("handle closed")
	}
	h.tab = t
	h.logger.Debug("tab reset")
	return nil
}

func (h *cdpHandle) currentTab(ctx context.Context) (*tab, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: handle closed", capture.ErrCaptureFailed)
	}
	t := h.tab
	h.mu.Unlock()
	if t != nil {
		return t, nil
	}
	// A previous Reset failed to reopen; try again now.
	if err := h.Reset(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tab, nil
}

// Close abandons the handle's tab.
func (h *cdpHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.tab != nil {
		h.factory.abandon(h.tab.cancel)
		h.tab = nil
	}
	return nil
}

// forwardCancel cancels when parent ends; the returned func stops forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
