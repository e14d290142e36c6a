package consensus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/adalundhe/quorum/core/providers"
	"github.com/adalundhe/quorum/core/store"
)

// PricingSource supplies per-model token rates. Rates are dollars per token;
// callers loading per-million prices must pre-scale.
type PricingSource interface {
	PricingFor(ctx context.Context, model string) (*store.ModelPricing, error)
}

// Accountant converts completion usage into dollar cost. Unknown models cost
// zero rather than erroring; pricing lookups are cached for the accountant's
// lifetime.
type Accountant struct {
	source PricingSource
	logger *slog.Logger

	mu    sync.RWMutex
	rates map[string]store.ModelPricing
}

func NewAccountant(source PricingSource, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		source: source,
		logger: logger,
		rates:  make(map[string]store.ModelPricing),
	}
}

// Cost prices one completion call.
func (a *Accountant) Cost(ctx context.Context, model string, usage providers.Usage) float64 {
	rates := a.ratesFor(ctx, model)
	return float64(usage.InputTokens)*rates.InputRate + float64(usage.OutputTokens)*rates.OutputRate
}

func (a *Accountant) ratesFor(ctx context.Context, model string) store.ModelPricing {
	a.mu.RLock()
	cached, ok := a.rates[model]
	a.mu.RUnlock()
	if ok {
		return cached
	}

	rates := store.ModelPricing{Model: model}
	if a.source != nil {
		row, err := a.source.PricingFor(ctx, model)
		switch {
		case err == nil:
			rates = *row
		case errors.Is(err, store.ErrNotFound):
			a.logger.Debug("no pricing for model, charging zero", "model", model)
		default:
			a.logger.Warn("pricing lookup failed, charging zero", "model", model, "error", err)
			// transient failure, not cached
			return rates
		}
	}

	a.mu.Lock()
	a.rates[model] = rates
	a.mu.Unlock()
	return rates
}
