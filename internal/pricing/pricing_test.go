package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maiguru/internal/config"
	"maiguru/internal/domain"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestResolveAmountFallbackOrder(t *testing.T) {
	cfg := config.Default()
	task := domain.Task{BudgetTier: "501_1000"}

	amt, src := ResolveAmount(task, cfg)
	assert.Equal(t, SourceTierDefault, src)
	assert.True(t, amt.Equal(decimal.RequireFromString("750")))

	task.AISuggestedPrice = dec("640")
	amt, src = ResolveAmount(task, cfg)
	assert.Equal(t, SourceAISuggested, src)
	assert.True(t, amt.Equal(decimal.RequireFromString("640")))

	task.EstimatedPrice = dec("600")
	_, src = ResolveAmount(task, cfg)
	assert.Equal(t, SourceEstimated, src)

	task.FinalPrice = dec("610.50")
	amt, src = ResolveAmount(task, cfg)
	assert.Equal(t, SourceFinal, src)
	assert.True(t, amt.Equal(decimal.RequireFromString("610.50")))
}

func TestResolveAmountUnknownTierUsesFallback(t *testing.T) {
	amt, src := ResolveAmount(domain.Task{BudgetTier: "mystery"}, config.Default())
	assert.Equal(t, SourceTierDefault, src)
	assert.True(t, amt.Equal(decimal.RequireFromString("300")))
}

func TestHTTPOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q Quote
		_ = json.NewDecoder(r.Body).Decode(&q)
		if q.BudgetTier == "broken" {
			http.Error(w, "model offline", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"price":"123.456"}`))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	price, err := o.SuggestPrice(context.Background(), Quote{Title: "logo", BudgetTier: "less_100"})
	require.NoError(t, err)
	assert.Equal(t, "123.46", price.StringFixed(2))

	_, err = o.SuggestPrice(context.Background(), Quote{BudgetTier: "broken"})
	require.Error(t, err)
	assert.Nil(t, Suggest(context.Background(), o, Quote{BudgetTier: "broken"}, nil))
}

func TestTierOracle(t *testing.T) {
	got := Suggest(context.Background(), TierOracle{Config: config.Default()}, Quote{BudgetTier: "less_100"}, nil)
	require.NotNil(t, got)
	assert.Equal(t, "75.00", got.StringFixed(2))
}
