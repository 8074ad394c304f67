package browser

import (
	"context"
	"strings"
	"sync"
)

// FakeElement is an in-memory Element for tests.
type FakeElement struct {
	TextValue  string
	Attributes map[string]string
	Hidden     bool

	Clicked  int
	Inputs   []string
	Cleared  int
	Scrolled int

	ClickErr error
	InputErr error
}

func (e *FakeElement) Text() (string, error) {
	return strings.TrimSpace(e.TextValue), nil
}

func (e *FakeElement) Attribute(name string) (string, bool, error) {
	if name == "" || name == "text" {
		txt, _ := e.Text()
		return txt, txt != "", nil
	}
	v, ok := e.Attributes[name]
	return v, ok, nil
}

func (e *FakeElement) Click() error {
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.Clicked++
	return nil
}

func (e *FakeElement) Input(text string) error {
	if e.InputErr != nil {
		return e.InputErr
	}
	e.Inputs = append(e.Inputs, text)
	return nil
}

func (e *FakeElement) Clear() error {
	e.Cleared++
	return nil
}

func (e *FakeElement) ScrollIntoView() error {
	e.Scrolled++
	return nil
}

func (e *FakeElement) Visible() (bool, error) {
	return !e.Hidden, nil
}

// FakeDriver is an in-memory Driver for tests. Elements are keyed by the
// raw selector string; NavFunc and FindHook allow per-test scripting.
type FakeDriver struct {
	mu sync.Mutex

	Elements map[string][]*FakeElement
	Page     string
	BodyText string
	URL      string
	Headers  map[string]string

	Navigations  []string
	Reloads      int
	CookiesWipes int
	RunCalls     []string
	Blocked      []string
	Closed       bool

	NavFunc  func(url string) error
	FindHook func(selector string)       // invoked on every Find/FindAll
	FindErr  func(selector string) error // when non-nil, can fail lookups
}

// NewFakeDriver returns an empty fake.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Elements: map[string][]*FakeElement{}, Headers: map[string]string{}}
}

// Set installs elements for a selector.
func (d *FakeDriver) Set(selector string, els ...*FakeElement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Elements[selector] = els
}

// Remove drops all elements for a selector.
func (d *FakeDriver) Remove(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Elements, selector)
}

func (d *FakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	d.Navigations = append(d.Navigations, url)
	d.URL = url
	d.mu.Unlock()
	if d.NavFunc != nil {
		return d.NavFunc(url)
	}
	return nil
}

func (d *FakeDriver) Reload(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Reloads++
	return nil
}

func (d *FakeDriver) HTML(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Page, nil
}

func (d *FakeDriver) VisibleText(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.BodyText, nil
}

func (d *FakeDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.URL, nil
}

func (d *FakeDriver) Find(_ context.Context, selector string) (Element, error) {
	if d.FindHook != nil {
		d.FindHook(selector)
	}
	if d.FindErr != nil {
		if err := d.FindErr(selector); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	els := d.Elements[selector]
	if len(els) == 0 {
		return nil, ErrElementNotFound
	}
	return els[0], nil
}

func (d *FakeDriver) FindAll(_ context.Context, selector string) ([]Element, error) {
	if d.FindHook != nil {
		d.FindHook(selector)
	}
	if d.FindErr != nil {
		if err := d.FindErr(selector); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	els := d.Elements[selector]
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (d *FakeDriver) Run(_ context.Context, js string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RunCalls = append(d.RunCalls, js)
	return nil
}

func (d *FakeDriver) ClearCookies(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CookiesWipes++
	return nil
}

func (d *FakeDriver) SetExtraHeaders(_ context.Context, headers map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range headers {
		d.Headers[k] = v
	}
	return nil
}

func (d *FakeDriver) BlockResources(_ context.Context, types []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Blocked = types
	return nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}
