package browser

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned by immediate lookups when no element
// matches. Callers that want to wait poll through Adapter instead.
var ErrElementNotFound = errors.New("element not found")

// Element is one DOM node. Implementations resolve relative href/src values
// against the page URL so callers always see absolute URLs.
type Element interface {
	// Text returns the trimmed visible text of the element.
	Text() (string, error)

	// Attribute returns the named attribute. "text" (or "") falls back to
	// the element text. The bool reports whether a value was present.
	Attribute(name string) (string, bool, error)

	Click() error
	Input(text string) error
	Clear() error
	ScrollIntoView() error
	Visible() (bool, error)
}

// Driver is the browser surface the workflow engine runs against. The
// production implementation drives a Chromium tab over CDP; tests substitute
// a fake. Lookups are immediate: they return ErrElementNotFound rather than
// waiting, and waiting is layered on top by Adapter.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	HTML(ctx context.Context) (string, error)
	VisibleText(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)

	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)

	// Run evaluates JavaScript for its side effects.
	Run(ctx context.Context, js string) error

	ClearCookies(ctx context.Context) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// BlockResources replaces the set of blocked resource types for
	// subsequent requests. An empty list lifts all type blocking.
	BlockResources(ctx context.Context, types []string) error

	Close() error
}
