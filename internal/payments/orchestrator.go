// Package payments coordinates money movement for completed work: payment
// intents and their charges, invoices, expert payouts and refunds. Every
// uniqueness rule is enforced by the store; gateway calls happen between
// transactions so a slow provider never holds a row lock.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"maiguru/internal/config"
	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	"maiguru/internal/gateway"
	mglog "maiguru/internal/log"
	"maiguru/internal/notify"
	"maiguru/internal/repo"
)

// SystemActor is recorded on events caused by callbacks and background work.
const SystemActor = "system"

type Orchestrator struct {
	DB       *sqlx.DB
	Repo     repo.Repo
	Config   *config.Config
	Gateways gateway.Registry
	Notifier notify.Notifier
	Log      logrus.FieldLogger
	Metrics  Metrics
	Now      func() time.Time

	// AutoPayout starts the expert payout as soon as a charge completes.
	AutoPayout bool
}

func New(db *sqlx.DB, cfg *config.Config, gateways gateway.Registry) Orchestrator {
	return Orchestrator{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Config:     cfg,
		Gateways:   gateways,
		Notifier:   notify.Nop{},
		Log:        mglog.GetLogger(),
		Metrics:    DefaultMetrics(),
		Now:        time.Now,
		AutoPayout: true,
	}
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Orchestrator) ts() string {
	return o.now().UTC().Format(time.RFC3339)
}

func (o Orchestrator) journal() events.Writer {
	return events.Writer{Now: o.now}
}

func (o Orchestrator) logger() logrus.FieldLogger {
	if o.Log == nil {
		return mglog.GetLogger()
	}
	return o.Log
}

func (o Orchestrator) notify(ctx context.Context, n notify.Notification) {
	n.TS = o.ts()
	notify.Send(ctx, o.Notifier, o.logger(), n)
}

func (o Orchestrator) actor(ctx context.Context, q sqlx.ExtContext, id string, action auth.Action) (domain.Actor, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Actor{}, auth.UnauthorizedError{Action: action, Reason: "actor id required"}
	}
	a, err := o.Repo.GetActor(ctx, q, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, auth.UnauthorizedError{ActorID: id, Action: action, Reason: "unknown actor"}
	}
	return a, err
}

// authorize loads the caller and checks action against the task that owns the
// payment record.
func (o Orchestrator) authorize(ctx context.Context, q sqlx.ExtContext, actorID string, action auth.Action, t domain.Task) (domain.Actor, error) {
	caller, err := o.actor(ctx, q, actorID, action)
	if err != nil {
		return domain.Actor{}, err
	}
	return caller, auth.Check(caller, action, auth.ForTask(t))
}

// failureReason turns a gateway outcome into the text stored on the record.
func failureReason(res gateway.Result, err error) string {
	var gerr domain.GatewayError
	switch {
	case errors.As(err, &gerr):
		return gerr.Reason
	case err != nil:
		return err.Error()
	case res.Reason != "":
		return res.Reason
	}
	return "rejected by gateway"
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
