// api/schemas/browser.go
package schemas

import (
	"context"
	"errors"
	"time"
)

// ErrPageClosed is returned by Page implementations once the underlying
// browser target has disconnected or been closed. The orchestrator treats it
// as a terminal resource disconnect.
var ErrPageClosed = errors.New("browser page closed")

// ElementKind partitions interactive elements into the classes the wizard
// engine cares about. Locator strategies only ever search within one kind.
type ElementKind string

const (
	ElementButton ElementKind = "button" // buttons, submit inputs, role=button
	ElementLink   ElementKind = "link"   // anchors and role=link
	ElementChoice ElementKind = "choice" // radio buttons and checkboxes
	ElementInput  ElementKind = "input"  // free-text inputs and textareas
)

// Element is one interactive element discovered on the current page. Text
// carries the visible text plus associated label/placeholder context, which
// is what the locator strategies match against. Selector uniquely targets the
// element for a subsequent Click or Type on the same page state.
type Element struct {
	Selector    string
	Kind        ElementKind
	Text        string
	Placeholder string
	Name        string
}

// Page is the narrow browser capability set the provisioning engine depends
// on: navigation, element query, synthetic input, and current-URL read.
// Nothing partner-specific lives behind it. Every method honors ctx and
// returns ErrPageClosed (possibly wrapped) once the target is gone.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)

	// Exists reports whether a CSS selector matches a visible element.
	Exists(ctx context.Context, selector string) (bool, error)
	// BodyText returns the page's visible text, truncated by the
	// implementation to a sane bound.
	BodyText(ctx context.Context) (string, error)
	// ListInteractive enumerates visible, enabled elements of the given
	// kinds, in document order.
	ListInteractive(ctx context.Context, kinds ...ElementKind) ([]Element, error)

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error

	// WaitSettled blocks until the document is loaded and the page has been
	// quiet for the implementation's configured post-load wait, or ctx ends.
	WaitSettled(ctx context.Context, timeout time.Duration) error

	// Close tears down the browser target. Exactly-once: repeat calls are
	// no-ops. Safe to call after the target disconnected on its own.
	Close(ctx context.Context) error
	// Connected reports whether the target is still reachable.
	Connected() bool
}

// PageFactory creates a fresh Page for one workflow. The browser manager
// implements it; orchestrator tests substitute scripted fakes.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
}
