package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/tessierlabs/storeforge/api/schemas"
	"github.com/tessierlabs/storeforge/internal/config"
)

// fakePage is a scripted, in-memory stand-in for a browser tab. State changes
// are driven by the onClick/onType/onNavigate hooks, which lets a test model
// the partner site as a small state machine.
type fakePage struct {
	mu sync.Mutex

	url       string
	body      string
	exists    map[string]bool
	elements  map[schemas.ElementKind][]schemas.Element
	connected bool

	closeCount int
	clicks     []string
	typed      map[string]string

	onClick    func(p *fakePage, selector string)
	onType     func(p *fakePage, selector, text string)
	onNavigate func(p *fakePage, url string)
}

func newFakePage() *fakePage {
	return &fakePage{
		url:       "about:blank",
		exists:    make(map[string]bool),
		elements:  make(map[schemas.ElementKind][]schemas.Element),
		connected: true,
		typed:     make(map[string]string),
	}
}

// closedErr mirrors a real tab: every operation on a closed page fails with
// schemas.ErrPageClosed. Callers must hold no lock.
func (p *fakePage) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return schemas.ErrPageClosed
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := p.closedErr(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	hook := p.onNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *fakePage) Reload(ctx context.Context) error { return p.closedErr() }

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	if err := p.closedErr(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	if err := p.closedErr(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exists[selector], nil
}

func (p *fakePage) BodyText(ctx context.Context) (string, error) {
	if err := p.closedErr(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *fakePage) ListInteractive(ctx context.Context, kinds ...schemas.ElementKind) ([]schemas.Element, error) {
	if err := p.closedErr(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []schemas.Element
	for _, k := range kinds {
		out = append(out, p.elements[k]...)
	}
	return out, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if err := p.closedErr(); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, text string) error {
	if err := p.closedErr(); err != nil {
		return err
	}
	p.mu.Lock()
	p.typed[selector] = text
	hook := p.onType
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector, text)
	}
	return nil
}

func (p *fakePage) WaitSettled(ctx context.Context, timeout time.Duration) error {
	return p.closedErr()
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		p.closeCount++
	}
	return nil
}

func (p *fakePage) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// set/get helpers keep hook bodies free of locking noise.

func (p *fakePage) setExists(selector string, present bool) {
	p.mu.Lock()
	p.exists[selector] = present
	p.mu.Unlock()
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *fakePage) setElements(kind schemas.ElementKind, els ...schemas.Element) {
	p.mu.Lock()
	p.elements[kind] = els
	p.mu.Unlock()
}

func (p *fakePage) lastTyped(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

func (p *fakePage) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

type fakeFactory struct {
	mu    sync.Mutex
	pages []*fakePage
	err   error
}

func (f *fakeFactory) NewPage(ctx context.Context) (schemas.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		p := newFakePage()
		f.pages = append(f.pages, p)
		return p, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	provisioned map[string]schemas.Provisioned
	markCalls   int
	isErr       error
	markErr     error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{provisioned: make(map[string]schemas.Provisioned)}
}

func (r *fakeRecorder) IsProvisioned(ctx context.Context, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isErr != nil {
		return false, r.isErr
	}
	_, ok := r.provisioned[ownerID]
	return ok, nil
}

func (r *fakeRecorder) MarkProvisioned(ctx context.Context, ownerID string, p schemas.Provisioned) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCalls += 1
	if r.markErr != nil {
		return r.markErr
	}
	r.provisioned[ownerID] = p
	return nil
}

func (r *fakeRecorder) marks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markCalls
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// testProvisionConfig keeps every detection window and wait budget tiny so
// the bounded-race loops resolve in one poll.
func testProvisionConfig() config.ProvisionConfig {
	return config.ProvisionConfig{
		ChallengeWindow: 200 * time.Millisecond,
		TwoFactorWindow: 100 * time.Millisecond,
		StepWait:        30 * time.Millisecond,
		CreationTimeout: 300 * time.Millisecond,
		SessionTTL:      time.Minute,
		JanitorInterval: time.Second,
	}
}

func testPartnerConfig() config.PartnerConfig {
	return config.PartnerConfig{
		HomepageURL: "https://partner.example/fr",
		LookupURL:   "https://accounts.partner.example/lookup",
		AdminURL:    "https://admin.shopify.com/?no_redirect=true",
		Email:       "robot@example.com",
		Password:    "hunter2",
	}
}
