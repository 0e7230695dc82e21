package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the crawler
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Export   ExportConfig   `mapstructure:"export"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type CrawlerConfig struct {
	Mode        string        `mapstructure:"mode"`
	DrainWindow time.Duration `mapstructure:"drain_window"`
	AcceptHosts []string      `mapstructure:"accept_hosts"`
	// Scroll passes per listing level.
	CategoryScrolls   int           `mapstructure:"category_scrolls"`
	CollectionScrolls int           `mapstructure:"collection_scrolls"`
	ProductScrolls    int           `mapstructure:"product_scrolls"`
	ScrollDelay       time.Duration `mapstructure:"scroll_delay"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RateLimitMin      time.Duration `mapstructure:"rate_limit_min"`
	RateLimitMax      time.Duration `mapstructure:"rate_limit_max"`
	CategoryPath      string        `mapstructure:"category_path"`
	CollectionPath    string        `mapstructure:"collection_path"`
	ProductPath       string        `mapstructure:"product_path"`
	SiteURL           string        `mapstructure:"site_url"`
}

type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	TimezoneID     string        `mapstructure:"timezone"`
	Locale         string        `mapstructure:"locale"`
	ProxyServer    string        `mapstructure:"proxy_server"`
	// City is the URL-encoded chosenCity cookie value.
	City string `mapstructure:"city"`
}

type GatewayConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	BrandPath      string            `mapstructure:"brand_path"`
	ProductPath    string            `mapstructure:"product_path"`
	CollectionPath string            `mapstructure:"collection_path"`
	PageSize       int               `mapstructure:"page_size"`
	MaxPages       int               `mapstructure:"max_pages"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	Headers        map[string]string `mapstructure:"headers"`
}

type ExportConfig struct {
	Dir         string   `mapstructure:"dir"`
	Prefix      string   `mapstructure:"prefix"`
	Formats     []string `mapstructure:"formats"`
	PreviewRows int      `mapstructure:"preview_rows"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Stream       string        `mapstructure:"stream"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`

	// Crawl requests are read from RequestStream through a consumer group.
	RequestStream string `mapstructure:"request_stream"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	ConsumerName  string `mapstructure:"consumer_name"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	QueueSize       int           `mapstructure:"queue_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, then the YAML file at path (a config.yaml in the
// working directory when path is empty; a missing default file is not an
// error), then environment overrides such as CRAWLER_DRAIN_WINDOW.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.mode", "browser")
	v.SetDefault("crawler.drain_window", 3*time.Second)
	v.SetDefault("crawler.accept_hosts", []string{"aihuishou.com"})
	v.SetDefault("crawler.category_scrolls", 3)
	v.SetDefault("crawler.collection_scrolls", 3)
	v.SetDefault("crawler.product_scrolls", 5)
	v.SetDefault("crawler.scroll_delay", 500*time.Millisecond)
	v.SetDefault("crawler.settle_delay", 3*time.Second)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.rate_limit_min", 500*time.Millisecond)
	v.SetDefault("crawler.rate_limit_max", 1500*time.Millisecond)
	v.SetDefault("crawler.site_url", "https://m.aihuishou.com")
	v.SetDefault("crawler.category_path", "/n/#/category")
	v.SetDefault("crawler.collection_path", "/p/main/recycle/collection-list")
	v.SetDefault("crawler.product_path", "/p/main/recycle/spu-list")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.user_agent", mobileUserAgent)
	v.SetDefault("browser.viewport_width", 375)
	v.SetDefault("browser.viewport_height", 812)
	v.SetDefault("browser.accept_language", "zh-CN,zh;q=0.9")
	v.SetDefault("browser.timezone", "Asia/Shanghai")
	v.SetDefault("browser.locale", "zh-CN")
	v.SetDefault("browser.proxy_server", "")
	v.SetDefault("browser.city", "%7B%22id%22%3A1%2C%22name%22%3A%22%E4%B8%8A%E6%B5%B7%E5%B8%82%22%7D")

	v.SetDefault("gateway.base_url", "https://dubai.aihuishou.com")
	v.SetDefault("gateway.brand_path", "/trade-front/api/trade/brand/list")
	v.SetDefault("gateway.product_path", "/trade-front/api/trade/product/list")
	v.SetDefault("gateway.collection_path", "")
	v.SetDefault("gateway.page_size", 50)
	v.SetDefault("gateway.max_pages", 10)
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.headers", map[string]string{})

	v.SetDefault("export.dir", ".")
	v.SetDefault("export.prefix", "aihuishou_products")
	v.SetDefault("export.formats", []string{"csv", "json"})
	v.SetDefault("export.preview_rows", 20)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "recycle_crawler")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "stream:recycle_crawls")
	v.SetDefault("redis.poll_interval", 5*time.Second)
	v.SetDefault("redis.batch_size", 100)
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.request_stream", "stream:recycle_crawl_requests")
	v.SetDefault("redis.consumer_group", "recycle-crawler")
	v.SetDefault("redis.consumer_name", "crawler-1")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "https://localhost:*"})
	v.SetDefault("server.queue_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Crawler.Mode) {
	case "browser", "api":
	default:
		return fmt.Errorf("crawler.mode must be browser or api, got %q", c.Crawler.Mode)
	}

	if c.Crawler.DrainWindow < 0 {
		return fmt.Errorf("crawler.drain_window cannot be negative")
	}

	if c.Crawler.RateLimitMin > c.Crawler.RateLimitMax {
		return fmt.Errorf("crawler.rate_limit_min cannot be greater than crawler.rate_limit_max")
	}

	if c.Gateway.PageSize < 1 {
		return fmt.Errorf("gateway.page_size must be at least 1")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
