package infra

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies outbound REST requests.
	DefaultUserAgent = "futures-go/1.0"
)

// CredentialSet is one broker key pair. Config may carry several; the
// active one is selected by Broker.CredentialSet (1-based).
type CredentialSet struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	AccountID string `yaml:"account_id"`
}

// Empty reports whether the set carries no usable key material.
func (c CredentialSet) Empty() bool {
	return c.AccessKey == "" || c.SecretKey == ""
}

// Config holds the full application configuration. Secrets can be
// overridden through environment variables after the YAML load.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Broker struct {
		RestURL       string          `yaml:"rest_url"`
		WSURL         string          `yaml:"ws_url"`
		Credentials   []CredentialSet `yaml:"credentials"`
		CredentialSet int             `yaml:"credential_set"` // 1-based index into Credentials
	} `yaml:"broker"`

	Feed struct {
		Symbols             []string `yaml:"symbols"` // contract roots, e.g. ES, NQ
		Timeframe           string   `yaml:"timeframe"`
		TimeframeSec        int      `yaml:"timeframe_sec"`
		HistoryLimit        int      `yaml:"history_limit"`
		StaleThresholdSec   int      `yaml:"stale_threshold_sec"`
		WatchdogIntervalSec int      `yaml:"watchdog_interval_sec"`
		ReconnectBaseMS     int      `yaml:"reconnect_base_ms"`
		ReconnectMaxMS      int      `yaml:"reconnect_max_ms"`
		SubscribeGraceSec   int      `yaml:"subscribe_grace_sec"`
		RollDays            int      `yaml:"roll_days"`
	} `yaml:"feed"`

	Execution struct {
		SimulationOverride bool    `yaml:"simulation_override"`
		RetryDelayMS       int     `yaml:"retry_delay_ms"`
		Commission         float64 `yaml:"commission"` // per contract, per fill
		SimSlippagePct     float64 `yaml:"sim_slippage_pct"`
		OrderRateLimit     float64 `yaml:"order_rate_limit"` // requests per second
	} `yaml:"execution"`

	History struct {
		URL             string `yaml:"url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		LookbackDays    int    `yaml:"lookback_days"`
	} `yaml:"history"`

	Audit struct {
		WebhookURL string `yaml:"webhook_url"`
		TimeoutMS  int    `yaml:"timeout_ms"`
	} `yaml:"audit"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.Timeframe == "" {
		cfg.Feed.Timeframe = "1m"
	}
	if cfg.Feed.TimeframeSec <= 0 {
		cfg.Feed.TimeframeSec = 60
	}
	if cfg.Feed.HistoryLimit <= 0 {
		cfg.Feed.HistoryLimit = 3600
	}
	if cfg.Feed.StaleThresholdSec <= 0 {
		cfg.Feed.StaleThresholdSec = 120
	}
	if cfg.Feed.WatchdogIntervalSec <= 0 {
		cfg.Feed.WatchdogIntervalSec = 30
	}
	if cfg.Feed.ReconnectBaseMS <= 0 {
		cfg.Feed.ReconnectBaseMS = 1000
	}
	if cfg.Feed.ReconnectMaxMS <= 0 {
		cfg.Feed.ReconnectMaxMS = 300000
	}
	if cfg.Feed.SubscribeGraceSec <= 0 {
		cfg.Feed.SubscribeGraceSec = 5
	}
	if cfg.Feed.RollDays <= 0 {
		cfg.Feed.RollDays = 8
	}
	if cfg.Execution.RetryDelayMS <= 0 {
		cfg.Execution.RetryDelayMS = 1000
	}
	if cfg.Execution.SimSlippagePct <= 0 {
		cfg.Execution.SimSlippagePct = 0.0002
	}
	if cfg.Execution.OrderRateLimit <= 0 {
		cfg.Execution.OrderRateLimit = 5
	}
	if cfg.Broker.CredentialSet <= 0 {
		cfg.Broker.CredentialSet = 1
	}
	if cfg.Audit.TimeoutMS <= 0 {
		cfg.Audit.TimeoutMS = 3000
	}
	if cfg.History.LookbackDays <= 0 {
		cfg.History.LookbackDays = 20
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Broker.RestURL == "" || (!hasPrefix(c.Broker.RestURL, "http://") && !hasPrefix(c.Broker.RestURL, "https://")) {
		return fmt.Errorf("invalid broker REST URL: %s", c.Broker.RestURL)
	}
	if c.Broker.WSURL == "" || (!hasPrefix(c.Broker.WSURL, "ws://") && !hasPrefix(c.Broker.WSURL, "wss://")) {
		return fmt.Errorf("invalid broker WS URL: %s", c.Broker.WSURL)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if c.Broker.CredentialSet > len(c.Broker.Credentials) && len(c.Broker.Credentials) > 0 {
		return fmt.Errorf("credential_set %d out of range (have %d sets)",
			c.Broker.CredentialSet, len(c.Broker.Credentials))
	}
	return nil
}

// ActiveCredentials returns the selected credential set, or an empty set
// when none are configured. Missing credentials are not an error here: the
// execution stage gate demotes orders to simulation instead.
func (c *Config) ActiveCredentials() CredentialSet {
	if len(c.Broker.Credentials) == 0 {
		return CredentialSet{}
	}
	idx := c.Broker.CredentialSet - 1
	if idx < 0 || idx >= len(c.Broker.Credentials) {
		return CredentialSet{}
	}
	return c.Broker.Credentials[idx]
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment overrides for secrets and the
// simulation kill switch. The set selector is read first so env-provided
// credentials always land in the set that ends up active.
func overrideWithEnv(cfg *Config) {
	if set := os.Getenv("FUTURES_CREDENTIAL_SET"); set != "" {
		if n, err := strconv.Atoi(set); err == nil && n > 0 {
			cfg.Broker.CredentialSet = n
		}
	}
	if len(cfg.Broker.Credentials) == 0 {
		cfg.Broker.Credentials = make([]CredentialSet, 1)
	}
	idx := cfg.Broker.CredentialSet - 1
	if idx < 0 || idx >= len(cfg.Broker.Credentials) {
		idx = 0
	}
	if key := os.Getenv("FUTURES_BROKER_KEY"); key != "" {
		cfg.Broker.Credentials[idx].AccessKey = key
	}
	if secret := os.Getenv("FUTURES_BROKER_SECRET"); secret != "" {
		cfg.Broker.Credentials[idx].SecretKey = secret
	}
	if account := os.Getenv("FUTURES_BROKER_ACCOUNT"); account != "" {
		cfg.Broker.Credentials[idx].AccountID = account
	}
	if sim := os.Getenv("FUTURES_SIMULATION"); sim == "1" || sim == "true" {
		cfg.Execution.SimulationOverride = true
	}
}
