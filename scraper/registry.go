package scraper

import (
	"context"
	"sort"
	"sync"
)

// Action executes one workflow step kind against the shared execution
// context. Implementations are stateless; all mutable state lives in Context.
type Action interface {
	Execute(ctx context.Context, sc Context, params map[string]any) error
}

// Registry maps action kind strings to handlers. Lookup of an unknown kind
// returns ok=false, never panics; registering the same kind with the same
// handler again is a no-op.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns a registry pre-populated with every built-in action.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	registerBuiltins(r)
	return r
}

// Register binds kind to handler. Re-registering an identical handler is a
// no-op; a different handler for an existing kind replaces it.
func (r *Registry) Register(kind string, handler Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.actions[kind]; ok && existing == handler {
		return
	}
	r.actions[kind] = handler
}

// Get returns the handler for kind.
func (r *Registry) Get(kind string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[kind]
	return a, ok
}

// Kinds returns the set of registered action kinds; used to validate
// configs at load time.
func (r *Registry) Kinds() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.actions))
	for k := range r.actions {
		out[k] = true
	}
	return out
}

// KindNames returns the sorted registered action kinds.
func (r *Registry) KindNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for k := range r.actions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func registerBuiltins(r *Registry) {
	r.Register("navigate", navigateAction{})
	r.Register("wait", waitAction{})
	r.Register("wait_for", waitForAction{})
	r.Register("wait_for_hidden", waitForHiddenAction{})
	r.Register("click", clickAction{})
	r.Register("conditional_click", conditionalClickAction{})
	r.Register("input_text", inputTextAction{})
	r.Register("extract", extractAction{})
	r.Register("extract_single", extractSingleAction{})
	r.Register("extract_multiple", extractMultipleAction{})
	r.Register("extract_and_transform", extractAndTransformAction{})
	r.Register("parse_table", parseTableAction{})
	r.Register("check_sponsored", checkSponsoredAction{})
	r.Register("scroll", scrollAction{})
	r.Register("login", loginAction{})
	r.Register("check_no_results", checkNoResultsAction{})
	r.Register("conditional_skip", conditionalSkipAction{})
	r.Register("verify", verifyAction{})
	r.Register("validate_http_status", validateHTTPStatusAction{})
	r.Register("detect_captcha", detectCaptchaAction{})
	r.Register("handle_blocking", handleBlockingAction{})
	r.Register("configure_browser", configureBrowserAction{})
	r.Register("rate_limit", rateLimitAction{})
	r.Register("simulate_human", simulateHumanAction{})
	r.Register("rotate_session", rotateSessionAction{})
}
