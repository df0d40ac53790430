package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCost(t *testing.T) {
	pricing := OrgPricing{
		PricePerPageMono:  decimal.RequireFromString("0.35"),
		PricePerPageColor: decimal.RequireFromString("1.10"),
	}

	tests := []struct {
		name     string
		pages    int
		color    ColorState
		wantCost string
		wantRate string
	}{
		{"mono", 5, ColorMonochrome, "1.75", "0.35"},
		{"color", 3, ColorColor, "3.3", "1.10"},
		{"unknown priced as mono", 4, ColorUnknown, "1.4", "0.35"},
		{"zero pages", 0, ColorColor, "0", "1.10"},
		{"no float drift", 10, ColorMonochrome, "3.5", "0.35"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, rate := Cost(tt.pages, tt.color, pricing)
			if !cost.Equal(decimal.RequireFromString(tt.wantCost)) {
				t.Errorf("cost = %s, want %s", cost, tt.wantCost)
			}
			if !rate.Equal(decimal.RequireFromString(tt.wantRate)) {
				t.Errorf("rate = %s, want %s", rate, tt.wantRate)
			}
		})
	}
}

func TestPricingResolverCaches(t *testing.T) {
	store := newMemPricing()
	store.set("org-1", "1", "3")
	resolver := NewPricingResolver(store, time.Minute, zap.NewNop())

	now := time.Unix(1000, 0)
	resolver.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := resolver.GetRates(context.Background(), "org-1"); err != nil {
			t.Fatal(err)
		}
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1", store.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := resolver.GetRates(context.Background(), "org-1"); err != nil {
		t.Fatal(err)
	}
	if store.calls != 2 {
		t.Errorf("store calls after ttl = %d, want 2", store.calls)
	}

	store.set("org-1", "2", "5")
	resolver.Invalidate("org-1")
	rates, err := resolver.GetRates(context.Background(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if !rates.PricePerPageMono.Equal(decimal.NewFromInt(2)) {
		t.Errorf("mono after invalidate = %s, want 2", rates.PricePerPageMono)
	}
}

func TestPricingResolverUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memPricing)
		org   string
	}{
		{"store error", func(s *memPricing) { s.err = errors.New("offline") }, "org-1"},
		{"unknown org", func(s *memPricing) {}, "org-2"},
		{"negative rate", func(s *memPricing) { s.set("org-1", "-1", "3") }, "org-1"},
		{"no org", func(s *memPricing) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemPricing()
			store.set("org-1", "1", "3")
			tt.setup(store)
			resolver := NewPricingResolver(store, time.Minute, zap.NewNop())

			_, err := resolver.GetRates(context.Background(), tt.org)
			if !errors.Is(err, ErrPricingUnavailable) {
				t.Errorf("err = %v, want ErrPricingUnavailable", err)
			}
		})
	}
}
