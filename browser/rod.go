package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/sku-agent/prowl/config"
)

// RodDriver drives one Chromium tab over CDP. Each workflow executor owns
// its own RodDriver so sites never share cookies or page state.
type RodDriver struct {
	browser   *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	blockAds  bool
	navTO     time.Duration
	ownsProc  bool
	closeOnce bool
	logger    *slog.Logger
}

// NewRodDriver launches a browser and prepares a page with stealth and
// resource blocking installed. Stealth injection and the hijack router are
// mounted before any navigation; they only take effect for navigations that
// happen after they are installed.
func NewRodDriver(cfg config.BrowserConfig, anti *config.AntiDetectionConfig, logger *slog.Logger) (*RodDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.MustClose()
		return nil, err
	}

	d := &RodDriver{
		browser:  browser,
		page:     page,
		navTO:    cfg.NavigationTimeout,
		ownsProc: true,
		logger:   logger,
	}

	useStealth := anti == nil || anti.Stealth
	if useStealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			logger.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	blocked := cfg.BlockedResourceTypes
	blockAds := false
	if anti != nil {
		if len(anti.BlockResources) > 0 {
			blocked = anti.BlockResources
		}
		blockAds = anti.BlockAds
	}
	d.blockAds = blockAds
	d.router = setupHijack(page, blocked, blockAds)

	return d, nil
}

// BlockResources swaps the hijack router for one blocking the given resource
// types. The configured ad blocking is preserved across swaps.
func (d *RodDriver) BlockResources(_ context.Context, types []string) error {
	if d.router != nil {
		if err := d.router.Stop(); err != nil {
			d.logger.Debug("hijack router stop failed", "error", err)
		}
		d.router = nil
	}
	d.router = setupHijack(d.page, types, d.blockAds)
	return nil
}

func (d *RodDriver) p(ctx context.Context) *rod.Page {
	return d.page.Context(ctx)
}

// Navigate loads the URL, sets a plausible Referer for the first request to
// a host, and waits for the DOM to settle.
func (d *RodDriver) Navigate(ctx context.Context, target string) error {
	navCtx := ctx
	if d.navTO > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.navTO)
		defer cancel()
	}

	p := d.p(navCtx)
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(p)
	}
	if err := p.Navigate(target); err != nil {
		return err
	}
	if err := d.p(ctx).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		d.logger.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

// Reload re-navigates the current page.
func (d *RodDriver) Reload(ctx context.Context) error {
	p := d.p(ctx)
	if err := p.Reload(); err != nil {
		return err
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		d.logger.Debug("WaitDOMStable did not converge after reload", "error", err)
	}
	return nil
}

// HTML returns the rendered page HTML.
func (d *RodDriver) HTML(ctx context.Context) (string, error) {
	return d.p(ctx).HTML()
}

// VisibleText returns the page's visible body text.
func (d *RodDriver) VisibleText(ctx context.Context) (string, error) {
	res, err := d.p(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// CurrentURL returns the page URL after any redirects.
func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.p(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Find returns the first element matching the selector, or
// ErrElementNotFound without waiting.
func (d *RodDriver) Find(ctx context.Context, selector string) (Element, error) {
	q := parseSelector(selector)
	p := d.p(ctx).Sleeper(rod.NotFoundSleeper)

	switch q.kind {
	case kindXPath:
		el, err := p.ElementX(q.expr)
		if err != nil {
			return nil, notFoundOr(err)
		}
		return &rodElement{el: el}, nil
	case kindHasText:
		els, err := p.Elements(q.expr)
		if err != nil {
			return nil, notFoundOr(err)
		}
		for _, el := range els {
			txt, terr := el.Text()
			if terr == nil && strings.Contains(txt, q.text) {
				return &rodElement{el: el}, nil
			}
		}
		return nil, ErrElementNotFound
	default:
		el, err := p.Element(q.expr)
		if err != nil {
			return nil, notFoundOr(err)
		}
		return &rodElement{el: el}, nil
	}
}

// FindAll returns every element matching the selector without waiting. An
// empty result is not an error.
func (d *RodDriver) FindAll(ctx context.Context, selector string) ([]Element, error) {
	q := parseSelector(selector)
	p := d.p(ctx).Sleeper(rod.NotFoundSleeper)

	var els rod.Elements
	var err error
	switch q.kind {
	case kindXPath:
		els, err = p.ElementsX(q.expr)
	default:
		els, err = p.Elements(q.expr)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		if q.kind == kindHasText {
			txt, terr := el.Text()
			if terr != nil || !strings.Contains(txt, q.text) {
				continue
			}
		}
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

// Run evaluates JavaScript for its side effects.
func (d *RodDriver) Run(ctx context.Context, js string) error {
	_, err := d.p(ctx).Eval(js)
	return err
}

// ClearCookies wipes all browser cookies, forcing re-authentication.
func (d *RodDriver) ClearCookies(ctx context.Context) error {
	return proto.NetworkClearBrowserCookies{}.Call(d.p(ctx))
}

// SetExtraHeaders attaches headers to every subsequent request.
func (d *RodDriver) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	return proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(d.p(ctx))
}

// Close stops the hijack router, closes the page and kills the browser
// process when this driver launched it.
func (d *RodDriver) Close() error {
	if d.closeOnce {
		return nil
	}
	d.closeOnce = true

	if d.router != nil {
		_ = d.router.Stop()
	}
	if err := d.page.Close(); err != nil {
		d.logger.Debug("page close failed", "error", err)
	}
	if d.ownsProc {
		d.browser.MustClose()
	}
	return nil
}

func notFoundOr(err error) error {
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) {
		return ErrElementNotFound
	}
	return err
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// rodElement adapts *rod.Element to the Element interface.
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text() (string, error) {
	txt, err := e.el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(txt), nil
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	switch name {
	case "", "text":
		txt, err := e.Text()
		if err != nil {
			return "", false, err
		}
		return txt, txt != "", nil
	case "href", "src":
		// The DOM property resolves relative URLs against the page URL.
		res, err := e.el.Eval(`(n) => this[n] || ""`, name)
		if err == nil && res.Value.Str() != "" {
			return res.Value.Str(), true, nil
		}
	}
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return strings.TrimSpace(*v), true, nil
}

func (e *rodElement) Click() error {
	if err := e.el.ScrollIntoView(); err != nil {
		return err
	}
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Input(text string) error {
	return e.el.Input(text)
}

func (e *rodElement) Clear() error {
	if err := e.el.SelectAllText(); err != nil {
		return err
	}
	return e.el.Input("")
}

func (e *rodElement) ScrollIntoView() error {
	return e.el.ScrollIntoView()
}

func (e *rodElement) Visible() (bool, error) {
	return e.el.Visible()
}
