package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sfhttp "github.com/aschwenker-insight/snowflake-connector-net/internal/http"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/progress"
	"github.com/aschwenker-insight/snowflake-connector-net/internal/retry"
	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "SFCHUNK_"

// Config defines configuration for the sfchunk CLI.
type Config struct {
	Manifest       string      `yaml:"manifest"`
	Bucket         string      `yaml:"bucket"`
	Object         string      `yaml:"object"`
	Output         string      `yaml:"output"`
	Concurrency    int         `yaml:"concurrency"`
	Parser         string      `yaml:"parser"`
	MemoryLimit    int64       `yaml:"memory_limit"`
	Progress       bool        `yaml:"progress"`
	VerifyChecksum bool        `yaml:"verify_checksum"`
	Retry          RetryConfig `yaml:"retry"`
	HTTP           HTTPConfig  `yaml:"http"`
	Proxy          ProxyConfig `yaml:"proxy"`
	CRL            CRLConfig   `yaml:"crl"`
}

// RetryConfig defines retry behavior per chunk.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	Disable         bool          `yaml:"disable"`
	Backoff         time.Duration `yaml:"backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ForceRetryOn404 bool          `yaml:"force_retry_on_404"`
}

// HTTPConfig configures the chunk HTTP client.
type HTTPConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
}

// ProxyConfig configures the outbound proxy.
type ProxyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	NoProxy  []string `yaml:"no_proxy"`
}

// CRLConfig is the certificate revocation policy.
type CRLConfig struct {
	Enabled  bool `yaml:"enabled"`
	FailOpen bool `yaml:"fail_open"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Concurrency: resultset.DefaultConcurrency,
		Parser:      resultset.ParserReusable.String(),
		Retry: RetryConfig{
			MaxRetries: retry.DefaultMaxRetries,
			Backoff:    time.Second,
			MaxBackoff: 16 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:             60 * time.Second,
			MaxIdleConnsPerHost: 16,
		},
		CRL: CRLConfig{
			Enabled:  true,
			FailOpen: true,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Manifest       string          `yaml:"manifest"`
	Bucket         string          `yaml:"bucket"`
	Object         string          `yaml:"object"`
	Output         string          `yaml:"output"`
	Concurrency    int             `yaml:"concurrency"`
	Parser         string          `yaml:"parser"`
	MemoryLimit    string          `yaml:"memory_limit"`
	Progress       bool            `yaml:"progress"`
	VerifyChecksum bool            `yaml:"verify_checksum"`
	Retry          yamlRetryConfig `yaml:"retry"`
	HTTP           yamlHTTPConfig  `yaml:"http"`
	Proxy          ProxyConfig     `yaml:"proxy"`
	CRL            yamlCRLConfig   `yaml:"crl"`
}

type yamlRetryConfig struct {
	MaxRetries      *int   `yaml:"max_retries"`
	Disable         bool   `yaml:"disable"`
	Backoff         string `yaml:"backoff"`
	MaxBackoff      string `yaml:"max_backoff"`
	ForceRetryOn404 bool   `yaml:"force_retry_on_404"`
}

type yamlHTTPConfig struct {
	Timeout             string  `yaml:"timeout"`
	MaxIdleConnsPerHost int     `yaml:"max_idle_conns_per_host"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
}

// The revocation toggles default to true, so absence has to be told apart
// from false.
type yamlCRLConfig struct {
	Enabled  *bool `yaml:"enabled"`
	FailOpen *bool `yaml:"fail_open"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Manifest != "" {
		cfg.Manifest = yc.Manifest
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.Object != "" {
		cfg.Object = yc.Object
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	if yc.Parser != "" {
		cfg.Parser = yc.Parser
	}
	if yc.MemoryLimit != "" {
		size, err := progress.ParseBytes(yc.MemoryLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse memory_limit: %w", err)
		}
		cfg.MemoryLimit = size
	}
	cfg.Progress = yc.Progress
	cfg.VerifyChecksum = yc.VerifyChecksum

	if yc.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *yc.Retry.MaxRetries
	}
	cfg.Retry.Disable = yc.Retry.Disable
	cfg.Retry.ForceRetryOn404 = yc.Retry.ForceRetryOn404
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	if yc.HTTP.Timeout != "" {
		d, err := time.ParseDuration(yc.HTTP.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.timeout: %w", err)
		}
		cfg.HTTP.Timeout = d
	}
	if yc.HTTP.MaxIdleConnsPerHost != 0 {
		cfg.HTTP.MaxIdleConnsPerHost = yc.HTTP.MaxIdleConnsPerHost
	}
	cfg.HTTP.RequestsPerSecond = yc.HTTP.RequestsPerSecond

	cfg.Proxy = yc.Proxy

	if yc.CRL.Enabled != nil {
		cfg.CRL.Enabled = *yc.CRL.Enabled
	}
	if yc.CRL.FailOpen != nil {
		cfg.CRL.FailOpen = *yc.CRL.FailOpen
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SFCHUNK_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := getenv("MANIFEST"); v != "" {
		c.Manifest = v
	}
	if v := getenv("BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := getenv("OBJECT"); v != "" {
		c.Object = v
	}
	if v := getenv("OUTPUT"); v != "" {
		c.Output = v
	}
	if v := getenv("PARSER"); v != "" {
		c.Parser = v
	}
	if v := getenv("PROXY_HOST"); v != "" {
		c.Proxy.Host = v
	}
	if v := getenv("PROXY_USER"); v != "" {
		c.Proxy.User = v
	}
	if v := getenv("PROXY_PASSWORD"); v != "" {
		c.Proxy.Password = v
	}
	if v := getenv("NO_PROXY"); v != "" {
		c.Proxy.NoProxy = strings.Split(v, ",")
	}
	if v := getenv("MEMORY_LIMIT"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sMEMORY_LIMIT: %w", EnvPrefix, err)
		}
		c.MemoryLimit = size
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"CONCURRENCY", &c.Concurrency},
		{"MAX_RETRIES", &c.Retry.MaxRetries},
		{"MAX_IDLE_CONNS_PER_HOST", &c.HTTP.MaxIdleConnsPerHost},
		{"PROXY_PORT", &c.Proxy.Port},
	}
	for _, e := range ints {
		if v := getenv(e.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, e.name, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"RETRY_BACKOFF", &c.Retry.Backoff},
		{"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff},
		{"HTTP_TIMEOUT", &c.HTTP.Timeout},
	}
	for _, e := range durations {
		if v := getenv(e.name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, e.name, err)
			}
			*e.dst = d
		}
	}

	if v := getenv("REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sREQUESTS_PER_SECOND: %w", EnvPrefix, err)
		}
		c.HTTP.RequestsPerSecond = f
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"PROGRESS", &c.Progress},
		{"VERIFY_CHECKSUM", &c.VerifyChecksum},
		{"DISABLE_RETRY", &c.Retry.Disable},
		{"FORCE_RETRY_ON_404", &c.Retry.ForceRetryOn404},
		{"USE_PROXY", &c.Proxy.Enabled},
		{"CRL_ENABLED", &c.CRL.Enabled},
		{"CRL_FAIL_OPEN", &c.CRL.FailOpen},
	}
	for _, e := range bools {
		if v := getenv(e.name); v != "" {
			*e.dst = v == "true" || v == "1"
		}
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Manifest == "" && (c.Bucket == "" || c.Object == "") {
		return errors.New("config: manifest or bucket and object are required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if _, err := resultset.ParseParserKind(c.Parser); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MemoryLimit < 0 {
		return errors.New("config: memory_limit must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("config: retry.max_retries must not be negative")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("config: http.timeout must be positive")
	}
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("config: invalid proxy port %d", c.Proxy.Port)
	}
	if c.Proxy.Enabled && c.Proxy.Host == "" {
		return errors.New("config: proxy.host is required when the proxy is enabled")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Manifest != "" {
		c.Manifest = override.Manifest
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.Parser != "" {
		c.Parser = override.Parser
	}
	if override.MemoryLimit != 0 {
		c.MemoryLimit = override.MemoryLimit
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.VerifyChecksum {
		c.VerifyChecksum = override.VerifyChecksum
	}
	if override.Retry.MaxRetries != 0 {
		c.Retry.MaxRetries = override.Retry.MaxRetries
	}
	if override.Retry.Disable {
		c.Retry.Disable = override.Retry.Disable
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Retry.ForceRetryOn404 {
		c.Retry.ForceRetryOn404 = override.Retry.ForceRetryOn404
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.MaxIdleConnsPerHost != 0 {
		c.HTTP.MaxIdleConnsPerHost = override.HTTP.MaxIdleConnsPerHost
	}
	if override.HTTP.RequestsPerSecond != 0 {
		c.HTTP.RequestsPerSecond = override.HTTP.RequestsPerSecond
	}
	if override.Proxy.Enabled {
		c.Proxy.Enabled = override.Proxy.Enabled
	}
	if override.Proxy.Host != "" {
		c.Proxy.Host = override.Proxy.Host
	}
	if override.Proxy.Port != 0 {
		c.Proxy.Port = override.Proxy.Port
	}
	if override.Proxy.User != "" {
		c.Proxy.User = override.Proxy.User
	}
	if override.Proxy.Password != "" {
		c.Proxy.Password = override.Proxy.Password
	}
	if len(override.Proxy.NoProxy) > 0 {
		c.Proxy.NoProxy = override.Proxy.NoProxy
	}
	return c
}

// HTTPOptions returns the HTTP client options described by c.
func (c *Config) HTTPOptions() sfhttp.Options {
	return sfhttp.Options{
		MaxIdleConnsPerHost: c.HTTP.MaxIdleConnsPerHost,
		Timeout:             c.HTTP.Timeout,
		RequestsPerSecond:   c.HTTP.RequestsPerSecond,
		ForceRetryOn404:     c.Retry.ForceRetryOn404,
		UseProxy:            c.Proxy.Enabled,
		ProxyHost:           c.Proxy.Host,
		ProxyPort:           c.Proxy.Port,
		ProxyUser:           c.Proxy.User,
		ProxyPassword:       c.Proxy.Password,
		NonProxyHosts:       c.Proxy.NoProxy,
		CRLCheckEnabled:     c.CRL.Enabled,
		CRLCheckFailOpen:    c.CRL.FailOpen,
	}
}

// RetryPolicy returns the chunk retry policy described by c.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Retry.Disable {
		return retry.NoRetry()
	}
	return retry.Policy{
		MaxRetries: c.Retry.MaxRetries,
		Backoff:    c.Retry.Backoff,
		MaxBackoff: c.Retry.MaxBackoff,
	}
}

// ParserKind returns the configured parser.
func (c *Config) ParserKind() resultset.ParserKind {
	kind, err := resultset.ParseParserKind(c.Parser)
	if err != nil {
		return resultset.ParserReusable
	}
	return kind
}
