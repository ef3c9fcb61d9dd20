package shared

import (
	"encoding/json"
	"github.com/tailscale/hujson"
	"log"
	"os"
	"time"
)

const (
	configVarName  = "CONFIG"                // If set, will load config.json from this path and not from devConfigPath
	secretsVarName = "SECRETS"               // If set, will load secrets.json from this path and not from devSecretsPath
	devConfigPath  = "dev/config.dev.jsonc"  // Path to config.json in development environment
	devSecretsPath = "dev/secrets.dev.jsonc" // Path to secrets.json in development environment
)

type Config struct {
	Secrets      Secrets    `json:"-"`
	LogFile      string     `json:"log_file"`
	LogLevel     string     `json:"log_level"`
	ServicePort  uint       `json:"service_port"`
	Host         string     `json:"host"`
	DbFile       string     `json:"db_file"`
	OtelEndpoint string     `json:"otel_endpoint"`
	Federation   Federation `json:"federation"`
}

// Federation holds the tunables of the inbox and delivery pipeline.
// Zero values are replaced by defaults in ApplyDefaults.
type Federation struct {
	MaxClockSkewSec      int   `json:"max_clock_skew_sec"`
	ActorCacheSize       int   `json:"actor_cache_size"`
	ActorCacheTtlSec     int   `json:"actor_cache_ttl_sec"`
	FetchTimeoutSec      int   `json:"fetch_timeout_sec"`
	DeliveryRetries      int   `json:"delivery_retries"` // -1 disables retries
	RetryIntervalMs      int   `json:"retry_interval_ms"`
	MaxParallelSends     int   `json:"max_parallel_sends"`
	HandledRetentionDays int   `json:"handled_retention_days"`
	AutoAcceptFollows    *bool `json:"auto_accept_follows"`
}

type Secrets struct {
	PrivKeyPassphrase string   `json:"privkey_passphrase"`
	ApiKeys           []string `json:"api_keys"`
	MetricsAuth       string   `json:"metrics_auth"`
}

func LoadConfig() *Config {

	// Where are our config and secrets files?
	cfgPath := os.Getenv(configVarName)
	if len(cfgPath) == 0 {
		cfgPath = devConfigPath
	}
	secretsPath := os.Getenv(secretsVarName)
	if len(secretsPath) == 0 {
		secretsPath = devSecretsPath
	}

	// Read config file
	var config Config
	mustDeserializeFile(cfgPath, &config)
	// Read secrets member from secrets file
	mustDeserializeFile(secretsPath, &config.Secrets)
	config.ApplyDefaults()
	return &config
}

func (cfg *Config) ApplyDefaults() {
	fed := &cfg.Federation
	if fed.MaxClockSkewSec <= 0 {
		fed.MaxClockSkewSec = 12 * 60 * 60
	}
	if fed.ActorCacheSize <= 0 {
		fed.ActorCacheSize = 4096
	}
	if fed.ActorCacheTtlSec <= 0 {
		fed.ActorCacheTtlSec = 24 * 60 * 60
	}
	if fed.FetchTimeoutSec <= 0 {
		fed.FetchTimeoutSec = 10
	}
	if fed.DeliveryRetries < 0 {
		fed.DeliveryRetries = 0
	} else if fed.DeliveryRetries == 0 {
		fed.DeliveryRetries = 2
	}
	if fed.RetryIntervalMs <= 0 {
		fed.RetryIntervalMs = 500
	}
	if fed.MaxParallelSends <= 0 {
		fed.MaxParallelSends = 5
	}
	if fed.HandledRetentionDays <= 0 {
		fed.HandledRetentionDays = 14
	}
	if fed.AutoAcceptFollows == nil {
		autoAccept := true
		fed.AutoAcceptFollows = &autoAccept
	}
}

func (fed *Federation) MaxClockSkew() time.Duration {
	return time.Duration(fed.MaxClockSkewSec) * time.Second
}

func (fed *Federation) ActorCacheTtl() time.Duration {
	return time.Duration(fed.ActorCacheTtlSec) * time.Second
}

func (fed *Federation) FetchTimeout() time.Duration {
	return time.Duration(fed.FetchTimeoutSec) * time.Second
}

func (fed *Federation) RetryInterval() time.Duration {
	return time.Duration(fed.RetryIntervalMs) * time.Millisecond
}

func (fed *Federation) HandledRetention() time.Duration {
	return time.Duration(fed.HandledRetentionDays) * 24 * time.Hour
}

func (fed *Federation) AutoAccept() bool {
	return fed.AutoAcceptFollows == nil || *fed.AutoAcceptFollows
}

func mustDeserializeFile[T any](fileName string, obj *T) {
	var err error
	var cfgJson []byte
	cfgJson, err = os.ReadFile(fileName)
	if err != nil {
		log.Fatal(err)
	}
	// JSONC => JSON
	cfgJson, err = standardizeJSON(cfgJson)
	if err != nil {
		log.Fatal(err)
	}
	// Parse
	if err := json.Unmarshal(cfgJson, obj); err != nil {
		log.Fatal(err)
	}
}

func standardizeJSON(b []byte) ([]byte, error) {
	ast, err := hujson.Parse(b)
	if err != nil {
		return b, err
	}
	ast.Standardize()
	return ast.Pack(), nil
}
