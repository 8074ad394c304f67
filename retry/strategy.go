package retry

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sku-agent/prowl/failure"
)

// Config is the backoff profile for one failure kind.
type Config struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     float64       `json:"jitter"`
}

// DefaultConfigs returns the per-kind retry profiles. Anti-bot kinds back
// off long and retry few times; network hiccups back off short and retry
// more; terminal and configuration kinds never retry.
func DefaultConfigs() map[failure.Kind]Config {
	return map[failure.Kind]Config{
		failure.KindNetworkError:    {MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, Jitter: 0.25},
		failure.KindTimeout:         {MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2.0, Jitter: 0.25},
		failure.KindCaptchaDetected: {MaxRetries: 2, BaseDelay: 30 * time.Second, MaxDelay: 300 * time.Second, Multiplier: 2.0, Jitter: 0.25},
		failure.KindRateLimited:     {MaxRetries: 4, BaseDelay: 5 * time.Second, MaxDelay: 120 * time.Second, Multiplier: 2.0, Jitter: 0.25},
		failure.KindAccessDenied:    {MaxRetries: 2, BaseDelay: 30 * time.Second, MaxDelay: 300 * time.Second, Multiplier: 2.0, Jitter: 0.25},
		failure.KindNoResults:       {MaxRetries: 0},
		failure.KindPageNotFound:    {MaxRetries: 0},
		failure.KindConfiguration:   {MaxRetries: 0},
		failure.KindUnknown:         {MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, Jitter: 0.25},
	}
}

// siteHistory accumulates retry outcomes for one site so the strategy can
// lean on what has actually worked there before.
type siteHistory struct {
	Attempts       int            `json:"attempts"`
	RetrySuccesses int            `json:"retry_successes"`
	RetryFailures  int            `json:"retry_failures"`
	ByKind         map[string]int `json:"by_kind"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Strategy computes adaptive retry delays. Delay growth is exponential per
// attempt, clamped to the kind's maximum, with jitter on top. Sites whose
// history shows retries rarely succeeding get scaled-up delays, but the
// scaling never makes a later attempt shorter than an earlier one.
type Strategy struct {
	mu      sync.Mutex
	configs map[failure.Kind]Config
	history map[string]*siteHistory
	path    string
	rng     *rand.Rand
}

// NewStrategy loads any persisted retry history from path. An empty path
// disables persistence.
func NewStrategy(path string) *Strategy {
	s := &Strategy{
		configs: DefaultConfigs(),
		history: make(map[string]*siteHistory),
		path:    path,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			_ = json.Unmarshal(raw, &s.history)
		}
	}
	return s
}

// MaxRetries returns the retry budget for the given kind.
func (s *Strategy) MaxRetries(kind failure.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[kind]
	if !ok {
		cfg = s.configs[failure.KindUnknown]
	}
	return cfg.MaxRetries
}

// SetConfig overrides the retry profile for one kind.
func (s *Strategy) SetConfig(kind failure.Kind, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[kind] = cfg
}

// Delay returns how long to wait before retry number attempt (0-based: the
// delay after the first failure is Delay(kind, 0)).
func (s *Strategy) Delay(site string, kind failure.Kind, attempt int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[kind]
	if !ok {
		cfg = s.configs[failure.KindUnknown]
	}
	if cfg.BaseDelay <= 0 {
		return 0
	}

	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	d *= s.siteBias(site)
	if max := float64(cfg.MaxDelay); d > max {
		d = max
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * s.rng.Float64()
	}
	return time.Duration(d)
}

// siteBias scales delays up for sites where retries mostly fail. The factor
// is constant across attempts so backoff stays monotonic.
func (s *Strategy) siteBias(site string) float64 {
	h, ok := s.history[site]
	if !ok || h.RetrySuccesses+h.RetryFailures < 5 {
		return 1.0
	}
	failRate := float64(h.RetryFailures) / float64(h.RetrySuccesses+h.RetryFailures)
	// 1.0 at no failures up to 1.5 when retries never succeed.
	return 1.0 + 0.5*failRate
}

// Record notes a retry outcome for the site.
func (s *Strategy) Record(site string, kind failure.Kind, retrySucceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[site]
	if !ok {
		h = &siteHistory{ByKind: make(map[string]int)}
		s.history[site] = h
	}
	h.Attempts++
	h.ByKind[string(kind)]++
	if retrySucceeded {
		h.RetrySuccesses++
	} else {
		h.RetryFailures++
	}
	h.UpdatedAt = time.Now().UTC()
}

// Save persists the history to disk. Writes go through a temp file and
// rename so a crash never truncates the previous history.
func (s *Strategy) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
