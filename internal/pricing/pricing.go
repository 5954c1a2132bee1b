package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

// Quote is what the oracle sees of a task.
type Quote struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
	BudgetTier  string `json:"budget_tier"`
}

// Oracle suggests a price for a task.
type Oracle interface {
	SuggestPrice(ctx context.Context, q Quote) (decimal.Decimal, error)
}

// TierOracle answers with the configured budget tier default.
type TierOracle struct {
	Config *config.Config
}

func (o TierOracle) SuggestPrice(_ context.Context, q Quote) (decimal.Decimal, error) {
	return o.Config.BudgetDefault(q.BudgetTier), nil
}

// HTTPOracle posts the quote as JSON and expects {"price":"123.45"}.
type HTTPOracle struct {
	URL    string
	Client *http.Client
}

func NewHTTPOracle(url string, timeout time.Duration) HTTPOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return HTTPOracle{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (o HTTPOracle) SuggestPrice(ctx context.Context, q Quote) (decimal.Decimal, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return decimal.Zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := o.Client.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "pricing oracle")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return decimal.Zero, fmt.Errorf("pricing oracle: status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode pricing oracle response")
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing oracle: non-positive price %s", out.Price)
	}
	return domain.RoundMoney(out.Price), nil
}

// Suggest asks o for a price. Any error means no suggestion.
func Suggest(ctx context.Context, o Oracle, q Quote, log logrus.FieldLogger) *decimal.Decimal {
	if o == nil {
		return nil
	}
	price, err := o.SuggestPrice(ctx, q)
	if err != nil {
		if log != nil {
			log.WithError(err).WithField("budget_tier", q.BudgetTier).Warn("no price suggestion")
		}
		return nil
	}
	return &price
}

// Price sources, in resolution order.
const (
	SourceFinal       = "final_price"
	SourceEstimated   = "estimated_price"
	SourceAISuggested = "ai_suggested_price"
	SourceTierDefault = "budget_tier_default"
)

// ResolveAmount picks the billable amount of t: the first non-null of final,
// estimated and AI-suggested price, else the budget tier default.
func ResolveAmount(t domain.Task, cfg *config.Config) (decimal.Decimal, string) {
	switch {
	case t.FinalPrice != nil:
		return *t.FinalPrice, SourceFinal
	case t.EstimatedPrice != nil:
		return *t.EstimatedPrice, SourceEstimated
	case t.AISuggestedPrice != nil:
		return *t.AISuggestedPrice, SourceAISuggested
	}
	return cfg.BudgetDefault(t.BudgetTier), SourceTierDefault
}
