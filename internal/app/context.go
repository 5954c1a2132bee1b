// Package app builds the running marketplace from a workspace: config, store,
// lifecycle engine, payment orchestrator, gateways and notification sinks.
package app

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"maiguru/internal/config"
	"maiguru/internal/db"
	"maiguru/internal/engine"
	"maiguru/internal/gateway"
	mglog "maiguru/internal/log"
	"maiguru/internal/migrate"
	"maiguru/internal/notify"
	"maiguru/internal/payments"
	"maiguru/internal/pricing"
)

type Options struct {
	Workspace  string
	ConfigPath string
	Log        logrus.FieldLogger
}

// Context is one wired instance of the service.
type Context struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Engine    engine.Engine
	Payments  payments.Orchestrator
	Gateways  gateway.Registry
	Notifier  notify.Notifier
	Log       logrus.FieldLogger

	closers []func() error
}

// LoadConfig resolves the config for a workspace: an explicit path wins, then
// maiguru.yml in the workspace, then compiled defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open wires everything and migrates the store.
func Open(ctx context.Context, opts Options) (*Context, error) {
	log := opts.Log
	if log == nil {
		log = mglog.GetLogger()
	}
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	c := &Context{Workspace: opts.Workspace, Config: cfg, DB: conn, Log: log}
	c.closers = append(c.closers, conn.Close)

	c.Notifier = c.buildNotifier()
	c.Gateways = gateway.FromConfig(cfg.Gateways)
	if len(c.Gateways) == 0 {
		log.Warn("no payment gateway configured; charges and payouts will fail until one is")
	}

	c.Payments = payments.New(conn, cfg, c.Gateways)
	c.Payments.Notifier = c.Notifier
	c.Payments.Log = log

	c.Engine = engine.New(conn, cfg)
	c.Engine.Pricing = buildOracle(cfg)
	c.Engine.Invoices = c.Payments
	c.Engine.Notifier = c.Notifier
	c.Engine.Log = log
	return c, nil
}

// buildOracle uses the remote pricing service when one is configured and the
// budget tier table otherwise.
func buildOracle(cfg *config.Config) pricing.Oracle {
	if cfg.Pricing.OracleURL == "" {
		return pricing.TierOracle{Config: cfg}
	}
	timeout := time.Duration(cfg.Pricing.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return pricing.NewHTTPOracle(cfg.Pricing.OracleURL, timeout)
}

func (c *Context) buildNotifier() notify.Notifier {
	n := c.Config.Notifications
	var sinks notify.Multi
	if n.Log {
		sinks = append(sinks, notify.LogNotifier{Log: c.Log})
	}
	if n.Redis.Addr != "" {
		client := notify.NewRedisClient(n.Redis.Addr, n.Redis.Password, n.Redis.DB)
		c.closers = append(c.closers, client.Close)
		sinks = append(sinks, notify.NewRedisNotifier(client, n.Redis.Queue))
	}
	for _, hook := range n.Webhooks {
		sinks = append(sinks, notify.NewWebhookNotifier(hook))
	}
	if len(sinks) == 0 {
		return notify.Nop{}
	}
	if n.Buffer <= 0 {
		return sinks
	}
	async := notify.NewAsync(sinks, n.Buffer, c.Log)
	c.closers = append(c.closers, func() error { async.Close(); return nil })
	return async
}

// Close releases resources in reverse order of acquisition.
func (c *Context) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
