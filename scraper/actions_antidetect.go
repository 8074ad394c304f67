package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sku-agent/prowl/failure"
)

// captchaSelectors are the DOM markers of the common captcha widgets.
var captchaSelectors = []string{
	"iframe[src*='recaptcha']",
	"iframe[src*='hcaptcha']",
	".g-recaptcha",
	".h-captcha",
	"#captcha",
	"#px-captcha",
}

// captchaPhrases are page-text markers of challenge interstitials.
var captchaPhrases = []string{
	"verify you are human",
	"are you a robot",
	"unusual traffic",
	"press and hold",
	"complete the security check",
}

// --- detect_captcha ---

// detectCaptchaAction scans the page for captcha widgets and challenge
// text. By default a hit fails the step with a captcha_detected kind so the
// retry layer applies its long anti-bot backoff; with fail: false it only
// records results["captcha_detected"].
type detectCaptchaAction struct{}

func (detectCaptchaAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	found := false
	for _, sel := range captchaSelectors {
		els, err := sc.Browser().FindElements(ctx, sel)
		if err == nil && len(els) > 0 {
			found = true
			break
		}
	}
	if !found {
		if text, err := sc.Browser().Driver().VisibleText(ctx); err == nil {
			lower := strings.ToLower(text)
			for _, p := range captchaPhrases {
				if strings.Contains(lower, p) {
					found = true
					break
				}
			}
		}
	}

	sc.Results()["captcha_detected"] = found
	if found && paramBool(params, "fail", true) {
		return failure.New(failure.KindCaptchaDetected, "captcha challenge on page",
			failure.ErrorContext{Site: sc.Config().Name}, nil)
	}
	return nil
}

// blockingPhrases are page-text markers of access-denied interstitials.
var blockingPhrases = []string{
	"access denied",
	"access to this page has been denied",
	"pardon our interruption",
	"request blocked",
	"you have been blocked",
	"attention required",
}

// --- handle_blocking ---

// handleBlockingAction detects an access-denied interstitial and tries to
// recover by dropping cookies and reloading. results["blocking_handled"]
// records the outcome; by default a page still blocked after recovery fails
// the step with an access_denied kind, with fail: false it only records.
type handleBlockingAction struct{}

func (handleBlockingAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	if !pageBlocked(ctx, sc) {
		sc.Results()["blocking_handled"] = true
		return nil
	}

	if err := sc.Browser().Driver().ClearCookies(ctx); err != nil {
		return fmt.Errorf("handle_blocking: %w", err)
	}
	if err := sc.Browser().Driver().Reload(ctx); err != nil {
		return fmt.Errorf("handle_blocking: %w", err)
	}
	if secs := paramFloat(params, "settle", 0); secs > 0 {
		if err := stepSleep(ctx, time.Duration(secs*float64(time.Second))); err != nil {
			return err
		}
	}

	handled := !pageBlocked(ctx, sc)
	sc.Results()["blocking_handled"] = handled
	if !handled && paramBool(params, "fail", true) {
		return failure.New(failure.KindAccessDenied, "blocking page persisted after recovery",
			failure.ErrorContext{Site: sc.Config().Name}, nil)
	}
	return nil
}

func pageBlocked(ctx context.Context, sc Context) bool {
	text, err := sc.Browser().Driver().VisibleText(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range blockingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// --- configure_browser ---

// configureBrowserAction adjusts browser settings mid-workflow: resource
// type blocking and extra request headers for subsequent navigations.
type configureBrowserAction struct{}

func (configureBrowserAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	if types := paramStringSlice(params, "block_resources"); len(types) > 0 {
		if err := sc.Browser().Driver().BlockResources(ctx, types); err != nil {
			return fmt.Errorf("configure_browser: %w", err)
		}
	}
	if raw, ok := params["headers"].(map[string]any); ok && len(raw) > 0 {
		headers := make(map[string]string, len(raw))
		for k, v := range raw {
			headers[k] = fmt.Sprint(v)
		}
		if err := sc.Browser().Driver().SetExtraHeaders(ctx, headers); err != nil {
			return fmt.Errorf("configure_browser: %w", err)
		}
	}
	return nil
}

// --- rate_limit ---

// rateLimitAction paces the workflow. With a configured limiter it blocks
// for the next token; otherwise it sleeps for the seconds param.
type rateLimitAction struct{}

func (rateLimitAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	if lim := sc.Limiter(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return nil
	}
	secs := paramFloat(params, "seconds", 1)
	return stepSleep(ctx, time.Duration(secs*float64(time.Second)))
}

// --- simulate_human ---

// simulateHumanAction adds small randomized pauses and scroll jitter so the
// interaction cadence does not look scripted.
type simulateHumanAction struct{}

func (simulateHumanAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	moves := 1 + rand.Intn(3)
	for i := 0; i < moves; i++ {
		if err := stepSleep(ctx, time.Duration(200+rand.Intn(600))*time.Millisecond); err != nil {
			return err
		}
		jitter := rand.Intn(240) - 120
		js := fmt.Sprintf(`() => window.scrollBy(0, %d)`, jitter)
		if err := sc.Browser().Driver().Run(ctx, js); err != nil {
			return err
		}
	}
	return nil
}

// --- rotate_session ---

// rotateSessionAction wipes cookies and drops the authenticated session so
// the next login starts clean.
type rotateSessionAction struct{}

func (rotateSessionAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	if err := sc.Browser().Driver().ClearCookies(ctx); err != nil {
		return fmt.Errorf("rotate_session: %w", err)
	}
	sc.Session().Reset()
	return nil
}
