package config

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.FeeRate().Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("fee rate = %s", cfg.FeeRate())
	}
	if got := cfg.BudgetDefault("501_1000"); !got.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("tier default = %s", got)
	}
	if got := cfg.BudgetDefault("unknown"); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("fallback = %s", got)
	}
}

func TestDefaultTemplateDecodes(t *testing.T) {
	dec := yaml.NewDecoder(bytes.NewBufferString(GenerateDefault()))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		t.Fatalf("default template: %v", err)
	}
	if cfg.Gateways.Sandbox {
		t.Fatalf("sandbox gateways must be opt-in")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("marketplace:\n  fee_rate: \"0.15\"\n  currency: KES\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Marketplace.Currency != "KES" {
		t.Fatalf("currency = %s", cfg.Marketplace.Currency)
	}
	if cfg.Marketplace.InvoicePrefix != "MG" {
		t.Fatalf("prefix should keep default, got %q", cfg.Marketplace.InvoicePrefix)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"fee rate too high": "marketplace:\n  fee_rate: \"1.5\"\n",
		"bad fee rate":      "marketplace:\n  fee_rate: abc\n",
		"unknown tier":      "marketplace:\n  budget_defaults:\n    huge: \"10\"\n",
		"zero default":      "marketplace:\n  budget_defaults:\n    less_100: \"0\"\n",
		"bad driver":        "database:\n  driver: mysql\n",
		"postgres no dsn":   "database:\n  driver: postgres\n",
		"webhook no url":    "notifications:\n  webhooks:\n    - secret: x\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
