package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PricedAs is the rate class a color state is billed under. Unknown is
// priced as monochrome: ambiguity always resolves to the cheaper rate.
func PricedAs(color ColorState) ColorState {
	if color == ColorColor {
		return ColorColor
	}
	return ColorMonochrome
}

// RateFor selects the per-page rate for a color state.
func RateFor(color ColorState, pricing OrgPricing) decimal.Decimal {
	if PricedAs(color) == ColorColor {
		return pricing.PricePerPageColor
	}
	return pricing.PricePerPageMono
}

// Cost returns pages × rate for the color state and the rate used.
func Cost(pages int, color ColorState, pricing OrgPricing) (cost decimal.Decimal, rate decimal.Decimal) {
	rate = RateFor(color, pricing)
	return rate.Mul(decimal.NewFromInt(int64(pages))), rate
}

type cachedPricing struct {
	pricing   OrgPricing
	fetchedAt time.Time
}

// PricingResolver reads organization rates through a short-lived cache.
// Concurrent misses for the same organization share one fetch.
type PricingResolver struct {
	store MetadataStore
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedPricing
	group singleflight.Group
}

func NewPricingResolver(store MetadataStore, ttl time.Duration, log *zap.Logger) *PricingResolver {
	return &PricingResolver{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log.Named("pricing"),
		cache: make(map[string]cachedPricing),
	}
}

// GetRates returns the organization's rates. Any failure to obtain
// well-formed rates is reported as ErrPricingUnavailable; callers must
// not guess a rate.
func (p *PricingResolver) GetRates(ctx context.Context, orgID string) (*OrgPricing, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: no organization", ErrPricingUnavailable)
	}

	p.mu.Lock()
	if c, ok := p.cache[orgID]; ok && p.now().Sub(c.fetchedAt) < p.ttl {
		p.mu.Unlock()
		pricing := c.pricing
		return &pricing, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(orgID, func() (interface{}, error) {
		pricing, err := p.store.GetPricing(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPricingUnavailable, err)
		}
		if err := validatePricing(pricing); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[orgID] = cachedPricing{pricing: *pricing, fetchedAt: p.now()}
		p.mu.Unlock()
		p.log.Debug("fetched pricing",
			zap.String("org_id", orgID),
			zap.Stringer("mono", pricing.PricePerPageMono),
			zap.Stringer("color", pricing.PricePerPageColor))
		return *pricing, nil
	})
	if err != nil {
		return nil, err
	}
	pricing := v.(OrgPricing)
	return &pricing, nil
}

// Invalidate drops the cached rates for an organization.
func (p *PricingResolver) Invalidate(orgID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, orgID)
}

func validatePricing(pricing *OrgPricing) error {
	if pricing == nil {
		return fmt.Errorf("%w: empty pricing record", ErrPricingUnavailable)
	}
	if pricing.PricePerPageMono.IsNegative() || pricing.PricePerPageColor.IsNegative() {
		return fmt.Errorf("%w: negative rate (mono %s, color %s)", ErrPricingUnavailable,
			pricing.PricePerPageMono, pricing.PricePerPageColor)
	}
	return nil
}
