package failure

// Kind is the classified category of a failure. It drives the retry budget,
// the backoff profile, and the circuit breaker's bookkeeping.
type Kind string

const (
	KindNetworkError    Kind = "network_error"
	KindTimeout         Kind = "timeout"
	KindCaptchaDetected Kind = "captcha_detected"
	KindRateLimited     Kind = "rate_limited"
	KindAccessDenied    Kind = "access_denied"
	KindNoResults       Kind = "no_results"
	KindPageNotFound    Kind = "page_not_found"
	KindConfiguration   Kind = "configuration_error"
	KindUnknown         Kind = "unknown"
)

// Retryable reports whether a failure of this kind is ever worth retrying.
// Terminal-but-expected kinds (no results, page not found) and configuration
// errors short-circuit to zero retries regardless of any configured budget.
func (k Kind) Retryable() bool {
	switch k {
	case KindConfiguration, KindNoResults, KindPageNotFound:
		return false
	default:
		return true
	}
}

// Terminal reports whether a failure of this kind ends item processing
// without being treated as a job-level error.
func (k Kind) Terminal() bool {
	return k == KindNoResults || k == KindPageNotFound
}
