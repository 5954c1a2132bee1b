package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models maiguru.yml.
type Config struct {
	Marketplace   Marketplace   `yaml:"marketplace"`
	Gateways      Gateways      `yaml:"gateways"`
	Pricing       Pricing       `yaml:"pricing"`
	Notifications Notifications `yaml:"notifications"`
	Database      Database      `yaml:"database"`
}

type Marketplace struct {
	Currency                 string            `yaml:"currency"`
	FeeRate                  string            `yaml:"fee_rate"`
	InvoicePrefix            string            `yaml:"invoice_prefix"`
	InvoiceDueDays           int               `yaml:"invoice_due_days"`
	BudgetDefaults           map[string]string `yaml:"budget_defaults"`
	FallbackAmount           string            `yaml:"fallback_amount"`
	ReconcileIntervalSeconds int               `yaml:"reconcile_interval_seconds"`
}

type Gateways struct {
	Sandbox        bool    `yaml:"sandbox"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	CallbackSecret string  `yaml:"callback_secret"`
	PayPal         PayPal  `yaml:"paypal"`
	Wise           Wise    `yaml:"wise"`
	MPesa          MPesa   `yaml:"mpesa"`
}

type PayPal struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type Wise struct {
	BaseURL   string `yaml:"base_url"`
	APIToken  string `yaml:"api_token"`
	ProfileID string `yaml:"profile_id"`
}

type MPesa struct {
	BaseURL        string `yaml:"base_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	ShortCode      string `yaml:"short_code"`
}

type Pricing struct {
	OracleURL      string `yaml:"oracle_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Notifications struct {
	Log      bool            `yaml:"log"`
	Buffer   int             `yaml:"buffer"`
	Redis    RedisConfig     `yaml:"redis"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BudgetTiers lists the accepted budget tier keys in ascending order.
var BudgetTiers = []string{"less_100", "100_500", "501_1000", "1001_2000", "above_2000"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with mg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	m := c.Marketplace
	if strings.TrimSpace(m.Currency) == "" {
		return fmt.Errorf("config.marketplace.currency is required")
	}
	rate, err := decimal.NewFromString(m.FeeRate)
	if err != nil {
		return fmt.Errorf("config.marketplace.fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config.marketplace.fee_rate must be in [0,1)")
	}
	if m.InvoicePrefix == "" {
		return fmt.Errorf("config.marketplace.invoice_prefix is required")
	}
	if m.InvoiceDueDays <= 0 {
		return fmt.Errorf("config.marketplace.invoice_due_days must be positive")
	}
	for tier, raw := range m.BudgetDefaults {
		if !IsBudgetTier(tier) {
			return fmt.Errorf("config.marketplace.budget_defaults has unknown tier %s", tier)
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("budget default for %s: %w", tier, err)
		}
		if !amt.IsPositive() {
			return fmt.Errorf("budget default for %s must be positive", tier)
		}
	}
	fallback, err := decimal.NewFromString(m.FallbackAmount)
	if err != nil || !fallback.IsPositive() {
		return fmt.Errorf("config.marketplace.fallback_amount must be a positive amount")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres")
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
	}
	if c.Gateways.RatePerSecond < 0 || c.Gateways.Burst < 0 {
		return fmt.Errorf("config.gateways rate limits cannot be negative")
	}
	return nil
}

// FeeRate returns the parsed platform fee rate. Validate must have passed.
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.RequireFromString(c.Marketplace.FeeRate)
}

// BudgetDefault returns the default amount for a budget tier, or the fallback.
func (c *Config) BudgetDefault(tier string) decimal.Decimal {
	if raw, ok := c.Marketplace.BudgetDefaults[tier]; ok {
		if amt, err := decimal.NewFromString(raw); err == nil {
			return amt
		}
	}
	return decimal.RequireFromString(c.Marketplace.FallbackAmount)
}

// IsBudgetTier reports whether tier is one of BudgetTiers.
func IsBudgetTier(tier string) bool {
	for _, t := range BudgetTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "maiguru.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct. It panics if the compiled
// template does not decode.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  currency: USD
  fee_rate: "0.10"
  invoice_prefix: MG
  invoice_due_days: 7
  fallback_amount: "300.00"
  reconcile_interval_seconds: 60
  budget_defaults:
    less_100: "75.00"
    "100_500": "300.00"
    "501_1000": "750.00"
    "1001_2000": "1500.00"
    above_2000: "2500.00"

gateways:
  sandbox: false
  timeout_seconds: 15
  rate_per_second: 5
  burst: 10
  paypal:
    base_url: https://api-m.sandbox.paypal.com
  wise:
    base_url: https://api.sandbox.transferwise.tech
  mpesa:
    base_url: https://sandbox.safaricom.co.ke

pricing:
  timeout_seconds: 5

notifications:
  log: true
  buffer: 256

database:
  driver: sqlite
`
