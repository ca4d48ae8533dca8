// internal/browser/handle.go
// Handle implements the schemas.Page capability set on top of a chromedp tab
// context. Each Handle owns exactly one tab; its lifecycle context doubles as
// the CDP connection carrier, so every operation combines it with the caller's
// operational context.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
	"github.com/tessierlabs/storeforge/internal/config"
)

// Handle is a live browser tab.
type Handle struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

var _ schemas.Page = (*Handle)(nil)

func newHandle(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Handle, error) {
	id := uuid.NewString()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Force the tab (and on first call, the browser process) to actually
	// start so failures surface here rather than on the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser target: %w", err)
	}

	return &Handle{
		id:     id,
		logger: logger.Named("page").With(zap.String("page_id", id)),
		cfg:    cfg,
		ctx:    tabCtx,
		cancel: tabCancel,
	}, nil
}

// run executes chromedp actions against the tab, honoring both the tab
// lifecycle context and the caller's operational context.
func (h *Handle) run(ctx context.Context, actions ...chromedp.Action) error {
	if h.ctx.Err() != nil {
		return schemas.ErrPageClosed
	}
	opCtx, opCancel := CombineContext(h.ctx, ctx)
	defer opCancel()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		return h.mapErr(ctx, err)
	}
	return nil
}

// mapErr folds target-loss errors into ErrPageClosed and prefers the caller's
// context error when the operation was externally canceled.
func (h *Handle) mapErr(ctx context.Context, err error) error {
	if h.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", schemas.ErrPageClosed, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := err.Error()
	if strings.Contains(msg, "target closed") || strings.Contains(msg, "session closed") {
		return fmt.Errorf("%w: %v", schemas.ErrPageClosed, err)
	}
	return err
}

// Navigate loads the URL and then stabilizes the page. A navigation timeout
// from config bounds the load itself; stabilization failures after a
// successful load are logged, not returned.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	h.logger.Info("Navigating page.", zap.String("url", url))

	navTimeout := h.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	if err := h.run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, navTimeout, navCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	if err := h.WaitSettled(ctx, navTimeout); err != nil {
		if ctx.Err() != nil || h.ctx.Err() != nil {
			return err
		}
		h.logger.Warn("Page stabilization failed after navigation (non-critical).", zap.Error(err))
	}
	return nil
}

// Reload refreshes the current page and stabilizes it.
func (h *Handle) Reload(ctx context.Context) error {
	h.logger.Info("Reloading page.")
	if err := h.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	if err := h.WaitSettled(ctx, h.cfg.NavigationTimeout); err != nil {
		if ctx.Err() != nil || h.ctx.Err() != nil {
			return err
		}
		h.logger.Warn("Page stabilization failed after reload (non-critical).", zap.Error(err))
	}
	return nil
}

func (h *Handle) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := h.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return url, nil
}

// byValue forces full JSON serialization of evaluate results over the wire.
func byValue(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithReturnByValue(true)
}

const existsScript = `
	(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`

// Exists reports whether the selector matches a visible element. Invisible
// matches count as absent; challenge detection keys off what the user can
// actually see.
func (h *Handle) Exists(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, fmt.Errorf("invalid selector: %w", err)
	}
	var found bool
	if err := h.run(ctx, chromedp.Evaluate(fmt.Sprintf(existsScript, sel), &found, byValue)); err != nil {
		return false, fmt.Errorf("element query failed: %w", err)
	}
	return found, nil
}

const maxBodyTextLength = 20000

func (h *Handle) BodyText(ctx context.Context) (string, error) {
	var text string
	script := fmt.Sprintf(`(document.body ? document.body.innerText : "").substring(0, %d)`, maxBodyTextLength)
	if err := h.run(ctx, chromedp.Evaluate(script, &text, byValue)); err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

// discoveryScript enumerates visible, enabled interactive elements, classifies
// them, extracts their matchable text, and tags each with a fresh attribute so
// later Click/Type calls can target it unambiguously. Stale tags from a prior
// discovery are cleared first.
const discoveryScript = `
	(() => {
		const wanted = new Set(%s);
		const out = [];
		const maxTextLength = 200;

		document.querySelectorAll('[data-sf-loc]').forEach((el) => el.removeAttribute('data-sf-loc'));

		const isVisible = (el) => {
			const style = window.getComputedStyle(el);
			if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return false;
			const rect = el.getBoundingClientRect();
			return rect.width > 0 && rect.height > 0;
		};
		const isDisabled = (el) => el.disabled || el.getAttribute('aria-disabled') === 'true';

		const classify = (el) => {
			const tag = el.tagName;
			const role = el.getAttribute('role');
			if (tag === 'A' || role === 'link') return 'link';
			if (tag === 'BUTTON' || role === 'button') return 'button';
			if (tag === 'INPUT') {
				const type = (el.type || 'text').toLowerCase();
				if (type === 'radio' || type === 'checkbox') return 'choice';
				if (type === 'submit' || type === 'button') return 'button';
				if (type === 'hidden') return null;
				return 'input';
			}
			if (tag === 'TEXTAREA') return 'input';
			if (role === 'radio' || role === 'checkbox') return 'choice';
			return null;
		};

		// Choice inputs are often visually replaced by styled labels; the
		// label is what the user sees and what gets clicked.
		const labelFor = (el) => {
			if (el.id) {
				const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
				if (lab) return lab;
			}
			return el.closest('label');
		};

		const matchText = (el, kind) => {
			let text = '';
			if (kind === 'choice' || kind === 'input') {
				const lab = labelFor(el);
				if (lab) text = lab.textContent || '';
			}
			if (!text) text = el.textContent || '';
			if (!text) text = el.getAttribute('aria-label') || '';
			if (!text && el.value && (kind === 'button')) text = el.value;
			return text.trim().replace(/\s+/g, ' ').substring(0, maxTextLength);
		};

		const candidates = document.querySelectorAll(
			'a[href], button, [role=button], [role=link], [role=radio], [role=checkbox], input, textarea');

		candidates.forEach((el, index) => {
			const kind = classify(el);
			if (!kind || !wanted.has(kind)) return;
			if (isDisabled(el)) return;

			let target = el;
			if (!isVisible(el)) {
				if (kind !== 'choice') return;
				const lab = labelFor(el);
				if (!lab || !isVisible(lab)) return;
				target = lab;
			}

			const tagId = 'sf-' + index + '-' + Date.now().toString(36) + Math.random().toString(36).substring(2, 8);
			target.setAttribute('data-sf-loc', tagId);

			out.push({
				tagId: tagId,
				kind: kind,
				text: matchText(el, kind),
				placeholder: el.getAttribute('placeholder') || '',
				name: el.getAttribute('name') || ''
			});
		});

		return out;
	})()`

type discoveredElement struct {
	TagID       string `json:"tagId"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	Placeholder string `json:"placeholder"`
	Name        string `json:"name"`
}

// ListInteractive enumerates visible, enabled elements of the given kinds in
// document order. Selectors returned are only valid until the next discovery
// or navigation.
func (h *Handle) ListInteractive(ctx context.Context, kinds ...schemas.ElementKind) ([]schemas.Element, error) {
	if len(kinds) == 0 {
		kinds = []schemas.ElementKind{schemas.ElementButton, schemas.ElementLink, schemas.ElementChoice, schemas.ElementInput}
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	wanted, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("invalid element kinds: %w", err)
	}

	queryCtx, cancelQuery := context.WithTimeout(ctx, 30*time.Second)
	defer cancelQuery()

	var raw []discoveredElement
	if err := h.run(queryCtx, chromedp.Evaluate(fmt.Sprintf(discoveryScript, wanted), &raw, byValue)); err != nil {
		return nil, fmt.Errorf("element discovery failed: %w", err)
	}

	elements := make([]schemas.Element, 0, len(raw))
	for _, d := range raw {
		elements = append(elements, schemas.Element{
			Selector:    fmt.Sprintf(`[data-sf-loc=%q]`, d.TagID),
			Kind:        schemas.ElementKind(d.Kind),
			Text:        d.Text,
			Placeholder: d.Placeholder,
			Name:        d.Name,
		})
	}
	h.logger.Debug("Discovered interactive elements.", zap.Int("count", len(elements)))
	return elements, nil
}

func (h *Handle) Click(ctx context.Context, selector string) error {
	h.logger.Debug("Clicking element.", zap.String("selector", selector))
	err := h.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

func (h *Handle) Type(ctx context.Context, selector, text string) error {
	h.logger.Debug("Typing into element.", zap.String("selector", selector))
	err := h.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	return nil
}

// WaitSettled blocks until the document body is ready, then holds for the
// configured post-load quiet period. SPA transitions settle within the quiet
// period even though no document load fires.
func (h *Handle) WaitSettled(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	if err := h.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("page failed to settle: %w", err)
	}

	quiet := h.cfg.PostLoadWait
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	select {
	case <-time.After(quiet):
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	case <-h.ctx.Done():
		return schemas.ErrPageClosed
	}
}

// Close tears down the tab. Exactly-once: repeat calls are no-ops, and it is
// safe to call after the target disconnected on its own.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.logger.Info("Closing page.")
		h.cancel()
		if h.onClose != nil {
			h.onClose()
		}
	})
	return nil
}

// Connected reports whether the tab is still reachable.
func (h *Handle) Connected() bool {
	return h.ctx.Err() == nil
}
