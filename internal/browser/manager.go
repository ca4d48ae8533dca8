// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
	"github.com/tessierlabs/storeforge/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process lifecycle and creates isolated tabs for
// provisioning workflows. Initialization of the allocator is deferred until
// the first page is requested.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	pages map[string]*Handle
	mu    sync.RWMutex
	wg    sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

var _ schemas.PageFactory = (*Manager)(nil)

// NewManager creates a browser manager. The Chrome process is not launched
// until NewPage is first called.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[string]*Handle),
	}
}

// initialize builds the exec allocator that all tabs share.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser allocator.", zap.Bool("headless", m.cfg.Headless))

		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		// Container-stability flags, matching what the partner flows were
		// tuned against.
		opts = append(opts,
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if !m.cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if m.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
		}
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		// The allocator must outlive the request context that triggered the
		// first page; it is torn down in Shutdown.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return m.initErr
}

// NewPage opens a fresh tab and returns its Handle.
func (m *Manager) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	h, err := newHandle(m.allocCtx, m.cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	m.wg.Add(1)
	h.onClose = func() {
		m.mu.Lock()
		delete(m.pages, h.id)
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Page removed from manager.", zap.String("page_id", h.id))
	}

	m.mu.Lock()
	m.pages[h.id] = h
	m.mu.Unlock()

	m.logger.Info("New browser page created.", zap.String("page_id", h.id))
	return h, nil
}

// Shutdown closes every open page and tears down the allocator.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	open := make([]*Handle, 0, len(m.pages))
	for _, h := range m.pages {
		open = append(open, h)
	}
	m.mu.RUnlock()

	for _, h := range open {
		go func(h *Handle) {
			if err := h.Close(ctx); err != nil {
				m.logger.Warn("Error closing page during shutdown.", zap.String("page_id", h.id), zap.Error(err))
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for pages to close; forcing allocator shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for pages to close.")
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
