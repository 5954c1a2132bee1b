package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"maiguru/internal/config"
	"maiguru/internal/domain"
	"maiguru/internal/engine/auth"
	"maiguru/internal/events"
	mglog "maiguru/internal/log"
	"maiguru/internal/notify"
	"maiguru/internal/pricing"
	"maiguru/internal/repo"
)

// InvoiceIssuer is the billing side effect of task completion.
type InvoiceIssuer interface {
	IssueInvoice(ctx context.Context, taskID, actorID string) (domain.Invoice, error)
}

// Engine owns the task lifecycle and the submission review flow. Every
// operation is one transaction: load with a row lock, check the actor, check
// the transition, write, append events, commit.
type Engine struct {
	DB       *sqlx.DB
	Repo     repo.Repo
	Config   *config.Config
	Pricing  pricing.Oracle
	Invoices InvoiceIssuer
	Notifier notify.Notifier
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Pricing:  pricing.TierOracle{Config: cfg},
		Notifier: notify.Nop{},
		Log:      mglog.GetLogger(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) journal() events.Writer {
	return events.Writer{Now: e.now}
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return mglog.GetLogger()
	}
	return e.Log
}

func (e Engine) notify(ctx context.Context, n notify.Notification) {
	n.TS = e.ts()
	notify.Send(ctx, e.Notifier, e.logger(), n)
}

// actor resolves the caller. Roles always come from the store.
func (e Engine) actor(ctx context.Context, q sqlx.ExtContext, id string, action auth.Action) (domain.Actor, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Actor{}, auth.UnauthorizedError{Action: action, Reason: "actor id required"}
	}
	a, err := e.Repo.GetActor(ctx, q, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, auth.UnauthorizedError{ActorID: id, Action: action, Reason: "unknown actor"}
	}
	return a, err
}

// ActorCreateOptions describes a new marketplace account.
type ActorCreateOptions struct {
	ID          string
	Role        string
	DisplayName string
	Email       string
	ActorID     string
}

// CreateActor registers an account. The first actor of an empty store is
// accepted without a caller; after that an admin is required.
func (e Engine) CreateActor(ctx context.Context, opts ActorCreateOptions) (domain.Actor, error) {
	role, err := domain.ParseRole(opts.Role)
	if err != nil {
		return domain.Actor{}, err
	}
	if strings.TrimSpace(opts.ID) == "" {
		opts.ID = uuid.NewString()
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountActors(ctx, tx)
	if err != nil {
		return domain.Actor{}, err
	}
	createdBy := opts.ActorID
	if n > 0 {
		caller, err := e.actor(ctx, tx, opts.ActorID, auth.ActionManageActors)
		if err != nil {
			return domain.Actor{}, err
		}
		if err := auth.Check(caller, auth.ActionManageActors, auth.Target{}); err != nil {
			return domain.Actor{}, err
		}
	} else if createdBy == "" {
		createdBy = opts.ID
	}
	a := domain.Actor{
		ID:          opts.ID,
		Role:        role,
		DisplayName: opts.DisplayName,
		Email:       opts.Email,
		CreatedAt:   e.ts(),
	}
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		return domain.Actor{}, err
	}
	if err := e.journal().Append(ctx, tx, "actor.created", "actor", a.ID, createdBy, events.EventPayload{"role": a.Role}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// CreateAPIKey mints a key for actorID. The plaintext is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, ownerID, name, callerID string) (string, domain.APIKey, error) {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, callerID, auth.ActionManageActors)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	if caller.ID != ownerID {
		if err := auth.Check(caller, auth.ActionManageActors, auth.Target{}); err != nil {
			return "", domain.APIKey{}, err
		}
	}
	if _, err := e.Repo.GetActor(ctx, tx, ownerID); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "mg_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.journal().Append(ctx, tx, "api_key.created", "actor", ownerID, caller.ID, events.EventPayload{"key_id": key.ID}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// AddPaymentMethod registers a payout destination for an expert. A primary
// method demotes the previous primary.
func (e Engine) AddPaymentMethod(ctx context.Context, expertID string, method domain.PayoutMethod, primary bool, actorID string) (domain.ExpertPaymentMethod, error) {
	if method == nil {
		return domain.ExpertPaymentMethod{}, domain.ValidationError{Field: "method", Message: "payout method required"}
	}
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, auth.ActionAddPaymentMethod)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := auth.Check(caller, auth.ActionAddPaymentMethod, auth.ForOwner(expertID)); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	expert, err := e.Repo.GetActor(ctx, tx, expertID)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if expert.Role != domain.RoleExpert {
		return domain.ExpertPaymentMethod{}, domain.ValidationError{Field: "expert_id", Message: "actor " + expertID + " is not an expert"}
	}
	m := domain.ExpertPaymentMethod{
		ID:        uuid.NewString(),
		ExpertID:  expertID,
		Method:    method,
		IsPrimary: primary,
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertPaymentMethod(ctx, tx, m); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := e.journal().Append(ctx, tx, "payment_method.added", "actor", expertID, caller.ID, events.EventPayload{
		"method_id": m.ID,
		"kind":      method.Kind(),
		"primary":   primary,
	}); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	return m, nil
}

// VerifyPaymentMethod marks a payout destination as verified. Admin only.
func (e Engine) VerifyPaymentMethod(ctx context.Context, methodID, actorID string) (domain.ExpertPaymentMethod, error) {
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	defer tx.Rollback()

	caller, err := e.actor(ctx, tx, actorID, auth.ActionVerifyPaymentMethod)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := auth.Check(caller, auth.ActionVerifyPaymentMethod, auth.Target{}); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	m, err := e.Repo.GetPaymentMethod(ctx, tx, methodID)
	if err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := e.Repo.SetPaymentMethodVerified(ctx, tx, methodID, true); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	m.IsVerified = true
	if err := e.journal().Append(ctx, tx, "payment_method.verified", "actor", m.ExpertID, caller.ID, events.EventPayload{"method_id": m.ID}); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExpertPaymentMethod{}, err
	}
	return m, nil
}

// GetActor returns an account to itself or to an admin.
func (e Engine) GetActor(ctx context.Context, id, actorID string) (domain.Actor, error) {
	caller, err := e.actor(ctx, nil, actorID, auth.ActionManageActors)
	if err != nil {
		return domain.Actor{}, err
	}
	if caller.ID != id {
		if err := auth.Check(caller, auth.ActionManageActors, auth.Target{}); err != nil {
			return domain.Actor{}, err
		}
	}
	return e.Repo.GetActor(ctx, nil, id)
}

// Whoami resolves the caller's own account.
func (e Engine) Whoami(ctx context.Context, actorID string) (domain.Actor, error) {
	return e.actor(ctx, nil, actorID, auth.ActionViewTask)
}

// ListPaymentMethods returns an expert's payout destinations to the expert
// or an admin.
func (e Engine) ListPaymentMethods(ctx context.Context, expertID, actorID string) ([]domain.ExpertPaymentMethod, error) {
	caller, err := e.actor(ctx, nil, actorID, auth.ActionAddPaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := auth.Check(caller, auth.ActionAddPaymentMethod, auth.ForOwner(expertID)); err != nil {
		return nil, err
	}
	return e.Repo.ListPaymentMethods(ctx, expertID)
}

// ListEvents tails the audit log. Admin only.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter, actorID string) ([]domain.Event, error) {
	caller, err := e.actor(ctx, nil, actorID, auth.ActionViewEvents)
	if err != nil {
		return nil, err
	}
	if err := auth.Check(caller, auth.ActionViewEvents, auth.Target{}); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}
