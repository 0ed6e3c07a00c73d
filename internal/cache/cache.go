package cache

import (
	"context"
	"time"

	"stockledger/backend/internal/domain"
)

// AvailabilityCache holds read-side availability snapshots keyed by variant
// key. Entries are dropped after every commit that touches the variant. A
// Set racing a Delete can still land after it; entries then live until their
// TTL, so writers must re-check stock under lock rather than trust the cache.
type AvailabilityCache interface {
	Get(ctx context.Context, key domain.VariantKey) (*domain.Availability, bool, error)
	Set(ctx context.Context, key domain.VariantKey, value *domain.Availability, ttl time.Duration) error
	Delete(ctx context.Context, keys ...domain.VariantKey) error
}

type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) Get(_ context.Context, _ domain.VariantKey) (*domain.Availability, bool, error) {
	return nil, false, nil
}

func (NoopAvailabilityCache) Set(_ context.Context, _ domain.VariantKey, _ *domain.Availability, _ time.Duration) error {
	return nil
}

func (NoopAvailabilityCache) Delete(_ context.Context, _ ...domain.VariantKey) error {
	return nil
}

func availabilityKey(key domain.VariantKey) string {
	return "stockledger:availability:" + key.String()
}
