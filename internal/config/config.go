package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for catalogcrawl.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"   yaml:"engine"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"  yaml:"fetcher"`
	Proxy    ProxyConfig    `mapstructure:"proxy"    yaml:"proxy"`
	Site     SiteConfig     `mapstructure:"site"     yaml:"site"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
}

// EngineConfig controls the crawl engine.
type EngineConfig struct {
	Concurrency        int           `mapstructure:"concurrency"         yaml:"concurrency"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"     yaml:"request_timeout"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst              int           `mapstructure:"burst"               yaml:"burst"`
	MaxRetries         int           `mapstructure:"max_retries"         yaml:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"         yaml:"retry_delay"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay"     yaml:"max_retry_delay"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	CheckpointDir      string        `mapstructure:"checkpoint_dir"      yaml:"checkpoint_dir"`
	UserAgents         []string      `mapstructure:"user_agents"         yaml:"user_agents"`
	AllowedDomains     []string      `mapstructure:"allowed_domains"     yaml:"allowed_domains"`
	MaxRequests        int           `mapstructure:"max_requests"        yaml:"max_requests"`
	MaxItems           int64         `mapstructure:"max_items"           yaml:"max_items"`
}

// FetcherConfig controls the HTTP fetcher.
type FetcherConfig struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`

	// AdditionalMimeTypes lists content types accepted besides HTML.
	AdditionalMimeTypes []string `mapstructure:"additional_mime_types" yaml:"additional_mime_types"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"        yaml:"enabled"`
	Rotation     string   `mapstructure:"rotation"       yaml:"rotation"`
	URLs         []string `mapstructure:"urls"           yaml:"urls"`
	RotateOnFail bool     `mapstructure:"rotate_on_fail" yaml:"rotate_on_fail"`
}

// SiteConfig describes the catalog being crawled.
type SiteConfig struct {
	BaseURL         string `mapstructure:"base_url"         yaml:"base_url"`
	VariantEndpoint string `mapstructure:"variant_endpoint" yaml:"variant_endpoint"`
	Source          string `mapstructure:"source"           yaml:"source"`

	// Zero means no cap.
	MaxSubcategoriesPerGroup int  `mapstructure:"max_subcategories_per_group" yaml:"max_subcategories_per_group"`
	MaxProductsPerPage       int  `mapstructure:"max_products_per_page"       yaml:"max_products_per_page"`
	FollowPagination         bool `mapstructure:"follow_pagination"           yaml:"follow_pagination"`

	StartURLs []StartURL `mapstructure:"start_urls" yaml:"start_urls"`
}

// StartURL is a seed; Label may be empty and is then inferred from the URL.
type StartURL struct {
	URL   string `mapstructure:"url"   yaml:"url"`
	Label string `mapstructure:"label" yaml:"label"`
}

// PipelineConfig controls record processing.
type PipelineConfig struct {
	Middlewares []MiddlewareConfig `mapstructure:"middlewares" yaml:"middlewares"`

	// OutputFields, when set, limits emitted records to these JSON fields.
	OutputFields []string `mapstructure:"output_fields" yaml:"output_fields"`
}

// MiddlewareConfig defines a single pipeline middleware.
type MiddlewareConfig struct {
	Name    string         `mapstructure:"name"    yaml:"name"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// StorageConfig controls output.
type StorageConfig struct {
	Backends   []string    `mapstructure:"backends"    yaml:"backends"`
	OutputPath string      `mapstructure:"output_path" yaml:"output_path"`
	BatchSize  int         `mapstructure:"batch_size"  yaml:"batch_size"`
	DebugPath  string      `mapstructure:"debug_path"  yaml:"debug_path"`
	Mongo      MongoConfig `mapstructure:"mongo"       yaml:"mongo"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:        10,
			RequestTimeout:     120 * time.Second,
			RequestsPerSecond:  2,
			Burst:              4,
			MaxRetries:         3,
			RetryDelay:         2 * time.Second,
			MaxRetryDelay:      time.Minute,
			CheckpointInterval: 60 * time.Second,
			CheckpointDir:      ".catalogcrawl_checkpoints",
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Fetcher: FetcherConfig{
			FollowRedirects:     true,
			MaxRedirects:        10,
			MaxBodySize:         10 * 1024 * 1024, // 10MB
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        100,
			AdditionalMimeTypes: []string{"application/json"},
		},
		Proxy: ProxyConfig{
			Enabled:      false,
			Rotation:     "round_robin",
			RotateOnFail: true,
		},
		Site: SiteConfig{
			BaseURL:         "https://www.forever21.com",
			VariantEndpoint: "https://www.forever21.com/on/demandware.store/Sites-forever21-Site/en_US/Product-Variation",
			Source:          "forever21",
		},
		Storage: StorageConfig{
			Backends:   []string{"jsonl"},
			OutputPath: "./output",
			BatchSize:  100,
			DebugPath:  "./output/debug.jsonl",
			Mongo: MongoConfig{
				Database:   "catalogcrawl",
				Collection: "products",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
