// Package config loads and validates catalog sync configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob of a sync run. It is built once by Load and
// passed into constructors.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Hosting HostingConfig `mapstructure:"hosting"`
	Sheets  SheetsConfig  `mapstructure:"sheets"`
	State   StateConfig   `mapstructure:"state"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs catalog navigation.
type CrawlerConfig struct {
	CategoryURL         string   `mapstructure:"category_url"`
	UserAgents          []string `mapstructure:"user_agents"`
	RequestDelayMs      int      `mapstructure:"request_delay_ms"`
	NavigationTimeoutMs int      `mapstructure:"navigation_timeout_ms"`
	MaxRetries          int      `mapstructure:"max_retries"`
	Headless            bool     `mapstructure:"headless"`
	FetchMode           string   `mapstructure:"fetch_mode"`
	MaxConcurrency      int      `mapstructure:"max_concurrency"`
	UseProxy            bool     `mapstructure:"use_proxy"`
	HTTPProxy           string   `mapstructure:"http_proxy"`
	HTTPSProxy          string   `mapstructure:"https_proxy"`
}

// HostingConfig configures the image-hosting API.
type HostingConfig struct {
	APIKey                string `mapstructure:"api_key"`
	Endpoint              string `mapstructure:"endpoint"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `mapstructure:"read_timeout_seconds"`
	MaxRetries            int    `mapstructure:"max_retries"`
	BackoffBaseMs         int    `mapstructure:"backoff_base_ms"`
	BackoffCapMs          int    `mapstructure:"backoff_cap_ms"`
}

// SheetsConfig points at the destination spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Tab             string `mapstructure:"tab"`
	CredentialsFile string `mapstructure:"credentials_file"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// StateConfig selects the durable state backend.
type StateConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// LLMConfig enables the optional cleanup client.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig controls raw product HTML archiving.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for product-changed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig enables the health/metrics listener when Addr is set.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Fetch modes. An empty crawler.fetch_mode means headless; crawler.headless
// only chooses between a hidden and a visible browser window.
const (
	FetchHeadless = "headless"
	FetchStatic   = "static"
	FetchAuto     = "auto"
)

// legacyEnv maps config keys to the flat variable names older deployments use.
var legacyEnv = map[string]string{
	"crawler.category_url":            "CATEGORY_URL",
	"crawler.headless":                "HEADLESS",
	"crawler.request_delay_ms":        "REQUEST_DELAY_MS",
	"crawler.max_concurrency":         "MAX_CONCURRENCY",
	"crawler.navigation_timeout_ms":   "NAVIGATION_TIMEOUT_MS",
	"crawler.max_retries":             "MAX_RETRIES",
	"crawler.use_proxy":               "USE_PROXY",
	"crawler.http_proxy":              "HTTP_PROXY",
	"crawler.https_proxy":             "HTTPS_PROXY",
	"sheets.spreadsheet_id":           "GSHEET_ID",
	"sheets.tab":                      "GSHEET_TAB",
	"sheets.credentials_file":         "GOOGLE_SA_JSON",
	"llm.api_key":                     "OPENAI_API_KEY",
	"llm.model":                       "LLM_MODEL",
	"state.path":                      "STATE_DB_PATH",
	"hosting.api_key":                 "FREEIMAGE_API_KEY",
	"hosting.endpoint":                "FREEIMAGE_API_ENDPOINT",
	"hosting.connect_timeout_seconds": "FREEIMAGE_CONNECT_TIMEOUT",
	"hosting.read_timeout_seconds":    "FREEIMAGE_READ_TIMEOUT",
	"hosting.max_retries":             "FREEIMAGE_MAX_RETRIES",
}

// DefaultUserAgents is the pool a random navigation user agent is drawn from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Load builds a Config from an optional file plus the environment.
// CATALOG_-prefixed variables win over the legacy flat names.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "CATALOG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.category_url", "https://winediscovery.ru/katalog/krepkie_napitki/filtr/drinktype-konyak/")
	v.SetDefault("crawler.user_agents", DefaultUserAgents)
	v.SetDefault("crawler.request_delay_ms", 1200)
	v.SetDefault("crawler.navigation_timeout_ms", 20000)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.fetch_mode", "")
	v.SetDefault("crawler.max_concurrency", 3)
	v.SetDefault("crawler.use_proxy", false)
	v.SetDefault("hosting.endpoint", "https://freeimage.host/api/1/upload")
	v.SetDefault("hosting.connect_timeout_seconds", 15)
	v.SetDefault("hosting.read_timeout_seconds", 60)
	v.SetDefault("hosting.max_retries", 3)
	v.SetDefault("hosting.backoff_base_ms", 1000)
	v.SetDefault("hosting.backoff_cap_ms", 5000)
	v.SetDefault("sheets.tab", "Products")
	v.SetDefault("sheets.credentials_file", "/secrets/sa.json")
	v.SetDefault("sheets.timeout_seconds", 30)
	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.path", "state/pipeline.db")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.base_dir", "state/archive")
	v.SetDefault("archive.prefix", "products")
	v.SetDefault("logging.development", false)
}

func (c *Config) normalize() {
	c.State.Driver = strings.ToLower(strings.TrimSpace(c.State.Driver))
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	c.Crawler.FetchMode = strings.ToLower(strings.TrimSpace(c.Crawler.FetchMode))
	if c.Crawler.FetchMode == "" {
		c.Crawler.FetchMode = FetchHeadless
	}
	c.Hosting.APIKey = strings.TrimSpace(c.Hosting.APIKey)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.Sheets.SpreadsheetID = strings.TrimSpace(c.Sheets.SpreadsheetID)
	if len(c.Crawler.UserAgents) == 0 {
		c.Crawler.UserAgents = DefaultUserAgents
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Crawler.CategoryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.category_url must be an absolute http(s) URL")
	}
	if c.Crawler.RequestDelayMs < 0 {
		return fmt.Errorf("crawler.request_delay_ms must be >= 0")
	}
	if c.Crawler.NavigationTimeoutMs <= 0 {
		return fmt.Errorf("crawler.navigation_timeout_ms must be > 0")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Hosting.MaxRetries < 0 {
		return fmt.Errorf("hosting.max_retries must be >= 0")
	}
	if c.Sheets.TimeoutSeconds < 0 {
		return fmt.Errorf("sheets.timeout_seconds must be >= 0")
	}
	if c.Hosting.ConnectTimeoutSeconds <= 0 || c.Hosting.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("hosting timeouts must be > 0")
	}
	switch c.Crawler.FetchMode {
	case FetchHeadless, FetchStatic, FetchAuto:
	default:
		return fmt.Errorf("crawler.fetch_mode %q must be headless, static or auto", c.Crawler.FetchMode)
	}
	switch c.State.Driver {
	case "sqlite":
		if c.State.Path == "" {
			return fmt.Errorf("state.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("state.driver %q must be sqlite or postgres", c.State.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "local":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q must be none, local or gcs", c.Archive.Driver)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// RequestDelay is the pause between navigations.
func (c CrawlerConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// NavigationTimeout bounds a single page load.
func (c CrawlerConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Proxy returns the proxy URL to use, or "" when proxying is off.
func (c CrawlerConfig) Proxy() string {
	if !c.UseProxy {
		return ""
	}
	if c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	return c.HTTPProxy
}

// Enabled reports whether an API key is configured.
func (c HostingConfig) Enabled() bool {
	return c.APIKey != ""
}

// RequestTimeout is the overall per-request budget for the hosting API.
func (c HostingConfig) RequestTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds+c.ReadTimeoutSeconds) * time.Second
}

// ConnectTimeout bounds dialing the hosting API.
func (c HostingConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay.
func (c HostingConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffCap is the largest retry delay.
func (c HostingConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// Enabled reports whether a spreadsheet is configured.
func (c SheetsConfig) Enabled() bool {
	return c.SpreadsheetID != ""
}

// Timeout bounds a single values API call; zero leaves the sink default.
func (c SheetsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Enabled reports whether the LLM client should be built.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// Timeout bounds a single completion request.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
