package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// ScraperConfig is a per-site workflow loaded from YAML. It declares the
// steps to run, the selectors they reference, and site-specific retry,
// login, anti-detection and normalization behavior.
type ScraperConfig struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	SearchURLTemplate string `yaml:"search_url_template"`

	Selectors []SelectorConfig `yaml:"selectors"`
	Workflow  []WorkflowStep   `yaml:"workflow"`

	TimeoutSeconds int `yaml:"timeout"` // per-step, 0 means the runner default
	MaxRetries     int `yaml:"retries"` // per-step cap, 0 means per-kind defaults

	Login         *LoginConfig         `yaml:"login,omitempty"`
	AntiDetection *AntiDetectionConfig `yaml:"anti_detection,omitempty"`
	Validation    *ValidationConfig    `yaml:"validation,omitempty"`
	Normalization []NormalizationRule  `yaml:"normalization,omitempty"`

	TestSKUs []string `yaml:"test_skus,omitempty"`
}

// SelectorConfig declares one named selector. Steps reference selectors by
// id first, then by name.
type SelectorConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute,omitempty"`
	Multiple  bool   `yaml:"multiple,omitempty"`
	Required  bool   `yaml:"required,omitempty"`
}

// WorkflowStep is one declarative step. Params are action-specific and may
// contain {placeholder} tokens substituted from the execution context.
type WorkflowStep struct {
	Action string         `yaml:"action"`
	Name   string         `yaml:"name,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

// LoginConfig drives the login action.
type LoginConfig struct {
	URL              string `yaml:"url"`
	UsernameSelector string `yaml:"username_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	SuccessSelector  string `yaml:"success_selector"`
	UsernameEnv      string `yaml:"username_env"`
	PasswordEnv      string `yaml:"password_env"`
}

// Username resolves the login username from the configured env var.
func (l *LoginConfig) Username() string { return os.Getenv(l.UsernameEnv) }

// Password resolves the login password from the configured env var.
func (l *LoginConfig) Password() string { return os.Getenv(l.PasswordEnv) }

// AntiDetectionConfig tunes evasion behavior for one site.
type AntiDetectionConfig struct {
	Stealth        bool     `yaml:"stealth"`
	BlockResources []string `yaml:"block_resources,omitempty"`
	BlockAds       bool     `yaml:"block_ads,omitempty"`
	RateLimit      float64  `yaml:"rate_limit,omitempty"` // requests per second
	Burst          int      `yaml:"burst,omitempty"`
}

// ValidationConfig declares the markers of an empty result page.
type ValidationConfig struct {
	NoResultsSelectors    []string `yaml:"no_results_selectors,omitempty"`
	NoResultsTextPatterns []string `yaml:"no_results_text_patterns,omitempty"`
}

// NormalizationRule transforms one extracted field after the workflow.
type NormalizationRule struct {
	Field  string         `yaml:"field"`
	Action string         `yaml:"action"`
	Params map[string]any `yaml:"params,omitempty"`
}

// StepTimeout returns the per-step timeout, or fallback when unset.
func (c *ScraperConfig) StepTimeout(fallback time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return fallback
}

// SelectorByID returns the selector with the given id, or nil.
func (c *ScraperConfig) SelectorByID(id string) *SelectorConfig {
	for i := range c.Selectors {
		if c.Selectors[i].ID == id {
			return &c.Selectors[i]
		}
	}
	return nil
}

// SelectorByName returns the selector with the given name, or nil.
func (c *ScraperConfig) SelectorByName(name string) *SelectorConfig {
	for i := range c.Selectors {
		if c.Selectors[i].Name == name {
			return &c.Selectors[i]
		}
	}
	return nil
}

// ParseScraperConfig decodes and structurally validates one YAML config.
// Action names are checked separately via Validate once a registry is
// available.
func ParseScraperConfig(raw []byte) (*ScraperConfig, error) {
	var c ScraperConfig
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse scraper config: %w", err)
	}

	if c.Name == "" {
		return nil, fmt.Errorf("scraper config: name is required")
	}
	if c.BaseURL == "" {
		return nil, fmt.Errorf("scraper config %q: base_url is required", c.Name)
	}
	if len(c.Workflow) == 0 {
		return nil, fmt.Errorf("scraper config %q: workflow has no steps", c.Name)
	}

	seenIDs := map[string]bool{}
	seenNames := map[string]bool{}
	for i, sel := range c.Selectors {
		if sel.Selector == "" {
			return nil, fmt.Errorf("scraper config %q: selector %d has no selector string", c.Name, i)
		}
		if sel.ID != "" {
			if seenIDs[sel.ID] {
				return nil, fmt.Errorf("scraper config %q: duplicate selector id %q", c.Name, sel.ID)
			}
			seenIDs[sel.ID] = true
		}
		if sel.Name != "" {
			if seenNames[sel.Name] {
				return nil, fmt.Errorf("scraper config %q: duplicate selector name %q", c.Name, sel.Name)
			}
			seenNames[sel.Name] = true
		}
		if err := checkSelectorSyntax(sel.Selector); err != nil {
			return nil, fmt.Errorf("scraper config %q: selector %q: %w", c.Name, sel.nameOrID(i), err)
		}
	}

	for i, step := range c.Workflow {
		if step.Action == "" {
			return nil, fmt.Errorf("scraper config %q: step %d has no action", c.Name, i)
		}
	}
	return &c, nil
}

func (s SelectorConfig) nameOrID(i int) string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("#%d", i)
}

// hasTextRe matches the :has-text('...') pseudo-selector, which cascadia
// does not understand; it is resolved at runtime against the live page.
var hasTextRe = regexp.MustCompile(`^([a-zA-Z][\w.#\[\]='"~^$*|-]*)?:has-text\((['"])(.*?)(['"])\)$`)

// checkSelectorSyntax validates CSS selectors with cascadia at load time.
// XPath expressions and :has-text selectors are passed through: the former
// are validated by the browser, the latter by the runtime filter.
func checkSelectorSyntax(sel string) error {
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, ".//") || strings.HasPrefix(sel, "(") {
		return nil
	}
	if hasTextRe.MatchString(sel) {
		return nil
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("invalid CSS selector: %w", err)
	}
	return nil
}

// Validate checks every workflow step against the set of known actions.
// Unknown actions fail the whole config at load time, before any browser
// work starts.
func (c *ScraperConfig) Validate(knownActions map[string]bool) error {
	for i, step := range c.Workflow {
		if !knownActions[step.Action] {
			return fmt.Errorf("scraper config %q: step %d: unknown action %q", c.Name, i, step.Action)
		}
	}
	if c.Login != nil {
		if c.Login.URL == "" || c.Login.UsernameSelector == "" || c.Login.PasswordSelector == "" || c.Login.SubmitSelector == "" {
			return fmt.Errorf("scraper config %q: login requires url, username_selector, password_selector and submit_selector", c.Name)
		}
	}
	return nil
}

// LoadScraperConfig reads and parses one YAML config file.
func LoadScraperConfig(path string) (*ScraperConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scraper config: %w", err)
	}
	return ParseScraperConfig(raw)
}

// LoadScraperConfigs reads every *.yaml and *.yml file in dir, keyed by
// config name.
func LoadScraperConfigs(dir string) (map[string]*ScraperConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}

	out := make(map[string]*ScraperConfig)
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := filepath.Ext(ent.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := LoadScraperConfig(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := out[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate scraper config name %q", cfg.Name)
		}
		out[cfg.Name] = cfg
	}
	return out, nil
}
