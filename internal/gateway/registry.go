package gateway

import (
	"time"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

// FromConfig builds the adapters a deployment has credentials for, each
// bounded by the configured timeout and rate limit. In sandbox mode every
// method gets an in-process Sandbox.
func FromConfig(cfg config.Gateways) Registry {
	var adapters []Adapter
	if cfg.Sandbox {
		adapters = []Adapter{
			NewSandbox(domain.MethodPayPal),
			NewSandbox(domain.MethodWise),
			NewSandbox(domain.MethodMPesa),
		}
	} else {
		if cfg.PayPal.ClientID != "" {
			adapters = append(adapters, NewPayPal(cfg.PayPal))
		}
		if cfg.Wise.APIToken != "" {
			adapters = append(adapters, NewWise(cfg.Wise))
		}
		if cfg.MPesa.ConsumerKey != "" {
			adapters = append(adapters, NewMPesa(cfg.MPesa))
		}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	reg := Registry{}
	for _, a := range adapters {
		reg[a.Kind()] = WithTimeout(WithRateLimit(a, cfg.RatePerSecond, cfg.Burst), timeout)
	}
	return reg
}
