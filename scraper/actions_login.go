package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sku-agent/prowl/failure"
)

// --- login ---

// loginAction signs in with the site's login config: navigate to the login
// page, fill credentials, submit, and confirm via the success selector. On
// success the session is marked authenticated so later login steps skip.
// The step executor gates dispatch on the session, so this action always
// performs a real login when it runs.
type loginAction struct{}

func (loginAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	lc := sc.Config().Login
	if lc == nil {
		return configErr(sc, "login step requires a login config")
	}

	username := lc.Username()
	password := lc.Password()
	if username == "" || password == "" {
		return configErr(sc, "login credentials missing: set %s and %s", lc.UsernameEnv, lc.PasswordEnv)
	}

	ec := failure.ErrorContext{Site: sc.Config().Name, Action: "login"}

	if err := sc.Browser().Driver().Navigate(ctx, lc.URL); err != nil {
		return fmt.Errorf("login: navigate to %s: %w", lc.URL, err)
	}

	userEl, err := sc.Browser().FindElement(ctx, lc.UsernameSelector, sc.StepTimeout())
	if err != nil {
		return failure.New(failure.KindUnknown, fmt.Sprintf("login: username field %s not found", lc.UsernameSelector), ec, err)
	}
	if err := userEl.Clear(); err != nil {
		return fmt.Errorf("login: clear username: %w", err)
	}
	if err := userEl.Input(username); err != nil {
		return fmt.Errorf("login: enter username: %w", err)
	}

	passEl, err := sc.Browser().FindElement(ctx, lc.PasswordSelector, sc.StepTimeout())
	if err != nil {
		return failure.New(failure.KindUnknown, fmt.Sprintf("login: password field %s not found", lc.PasswordSelector), ec, err)
	}
	if err := passEl.Clear(); err != nil {
		return fmt.Errorf("login: clear password: %w", err)
	}
	if err := passEl.Input(password); err != nil {
		return fmt.Errorf("login: enter password: %w", err)
	}

	submit, err := sc.Browser().FindElement(ctx, lc.SubmitSelector, sc.StepTimeout())
	if err != nil {
		return failure.New(failure.KindUnknown, fmt.Sprintf("login: submit button %s not found", lc.SubmitSelector), ec, err)
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("login: submit: %w", err)
	}

	if lc.SuccessSelector != "" {
		if _, err := sc.Browser().FindElement(ctx, lc.SuccessSelector, sc.StepTimeout()); err != nil {
			return failure.New(failure.KindAccessDenied,
				fmt.Sprintf("login did not land on %s", lc.SuccessSelector), ec, err)
		}
	} else if err := stepSleep(ctx, 2*time.Second); err != nil {
		return err
	}

	sc.Session().MarkAuthenticated()
	return waitAfter(ctx, params)
}
