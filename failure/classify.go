package failure

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Classifier maps raw errors and page snapshots onto the failure taxonomy.
// It is configured per site with the selectors and text patterns that mark
// an empty result page, so a timed-out wait on a no-results page classifies
// as no_results instead of timeout.
type Classifier struct {
	noResultsSelectors []string
	noResultsPatterns  []string
}

// NewClassifier builds a classifier. Both slices may be empty, in which case
// page snapshots never classify as no_results.
func NewClassifier(noResultsSelectors, noResultsPatterns []string) *Classifier {
	patterns := make([]string, 0, len(noResultsPatterns))
	for _, p := range noResultsPatterns {
		patterns = append(patterns, strings.ToLower(p))
	}
	return &Classifier{
		noResultsSelectors: noResultsSelectors,
		noResultsPatterns:  patterns,
	}
}

// Classify determines the failure kind for err. A pre-classified Error keeps
// its kind. When pageHTML is non-empty the page state is consulted first:
// an error raised on a page that visibly says "no results" is a no_results
// outcome, not a transient failure.
func (c *Classifier) Classify(err error, pageHTML string) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if pageHTML != "" && c.NoResultsPage(pageHTML) {
		return KindNoResults
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return classifyText(err.Error())
}

func classifyText(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "captcha", "recaptcha", "are you a robot", "unusual traffic", "press and hold"):
		return KindCaptchaDetected
	case containsAny(m, "rate limit", "too many requests", "429", "slow down"):
		return KindRateLimited
	case containsAny(m, "access denied", "forbidden", "403", "blocked", "cloudflare"):
		return KindAccessDenied
	case containsAny(m, "404", "page not found"):
		return KindPageNotFound
	case containsAny(m, "no results", "no products found", "nothing matched"):
		return KindNoResults
	case containsAny(m, "timeout", "timed out", "deadline exceeded", "context deadline"):
		return KindTimeout
	case containsAny(m, "connection", "network", "dns", "refused", "reset by peer", "eof", "no such host"):
		return KindNetworkError
	case containsAny(m, "unknown action", "missing required", "invalid selector", "configuration"):
		return KindConfiguration
	default:
		return KindUnknown
	}
}

// NoResultsPage reports whether the given HTML snapshot matches any of the
// configured no-results markers.
func (c *Classifier) NoResultsPage(pageHTML string) bool {
	if len(c.noResultsSelectors) == 0 && len(c.noResultsPatterns) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return false
	}
	for _, sel := range c.noResultsSelectors {
		if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, ".//") {
			continue // xpath markers are only checked against the live page
		}
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	if len(c.noResultsPatterns) > 0 {
		text := strings.ToLower(doc.Text())
		for _, p := range c.noResultsPatterns {
			if strings.Contains(text, p) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
