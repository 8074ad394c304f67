package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTextPatterns(t *testing.T) {
	c := NewClassifier(nil, nil)

	cases := []struct {
		msg  string
		want Kind
	}{
		{"connection refused", KindNetworkError},
		{"net/http: request canceled while waiting (timeout)", KindTimeout},
		{"please solve the reCAPTCHA to continue", KindCaptchaDetected},
		{"HTTP 429 too many requests", KindRateLimited},
		{"access denied by upstream", KindAccessDenied},
		{"server returned 404", KindPageNotFound},
		{"unknown action: teleport", KindConfiguration},
		{"something inexplicable", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(errors.New(tc.msg), ""), tc.msg)
	}
}

func TestClassifyPreservesClassifiedErrors(t *testing.T) {
	c := NewClassifier(nil, nil)
	base := New(KindRateLimited, "backend throttled", ErrorContext{Site: "acme"}, nil)
	wrapped := fmt.Errorf("step 3: %w", base)
	assert.Equal(t, KindRateLimited, c.Classify(wrapped, ""))
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	c := NewClassifier(nil, nil)
	assert.Equal(t, KindTimeout, c.Classify(context.DeadlineExceeded, ""))
}

func TestClassifyNoResultsPage(t *testing.T) {
	c := NewClassifier([]string{".empty-state"}, []string{"no products matched"})

	page := `<html><body><div class="empty-state">Nothing here</div></body></html>`
	assert.Equal(t, KindNoResults, c.Classify(errors.New("element not found"), page))

	textPage := `<html><body><p>Sorry, no products matched your search.</p></body></html>`
	assert.Equal(t, KindNoResults, c.Classify(errors.New("element not found"), textPage))

	okPage := `<html><body><div class="grid"><div class="item">x</div></div></body></html>`
	assert.NotEqual(t, KindNoResults, c.Classify(errors.New("element not found"), okPage))
}

func TestKindRetryable(t *testing.T) {
	assert.False(t, KindConfiguration.Retryable())
	assert.False(t, KindNoResults.Retryable())
	assert.False(t, KindPageNotFound.Retryable())
	assert.True(t, KindNetworkError.Retryable())
	assert.True(t, KindCaptchaDetected.Retryable())

	assert.True(t, KindNoResults.Terminal())
	assert.True(t, KindPageNotFound.Terminal())
	assert.False(t, KindTimeout.Terminal())
}
