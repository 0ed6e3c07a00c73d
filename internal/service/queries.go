package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// Availability reports on-hand quantity and effective price for a variant
// key. A key with no variant yet is reported as zero stock.
func (s *Service) Availability(ctx context.Context, key domain.VariantKey) (domain.Availability, error) {
	if cached, hit, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("availability cache read failed", zap.Error(err))
	} else if hit {
		return *cached, nil
	}

	generation := s.invalidations.Load()
	result := domain.Availability{VariantKey: key, Price: decimal.Zero}
	v, err := s.repo.FindVariant(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return domain.Availability{}, err
	default:
		id := v.ID
		result.VariantID = &id
		result.Qty = v.Qty
		result.Price = v.EffectivePrice()
	}

	if s.invalidations.Load() != generation {
		return result, nil
	}
	if err := s.cache.Set(ctx, key, &result, s.cacheTTL); err != nil {
		s.logger.Warn("availability cache write failed", zap.Error(err))
	}
	return result, nil
}

func (s *Service) GetVariant(ctx context.Context, id uuid.UUID) (domain.Variant, error) {
	v, err := s.repo.GetVariant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Variant{}, store.ErrVariantNotFound
		}
		return domain.Variant{}, err
	}
	return *v, nil
}

// StockHistory lists history entries newest first.
func (s *Service) StockHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, store.ErrInvalidReason
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, store.ErrInvalidRequest
	}
	filter.Limit = normalizeLimit(filter.Limit, 200, 1000)
	return s.repo.ListHistory(ctx, filter)
}

// Reconcile replays a variant's history from zero and compares the result
// with the stored quantity.
func (s *Service) Reconcile(ctx context.Context, variantID uuid.UUID) (domain.ReconcileReport, error) {
	v, err := s.GetVariant(ctx, variantID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	entries, err := s.repo.VariantHistory(ctx, variantID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	replayed := 0
	chained := true
	for _, entry := range entries {
		if entry.PreviousQty != replayed {
			chained = false
		}
		replayed += entry.ChangeQty
	}
	report := domain.ReconcileReport{
		VariantID:  variantID,
		OnHand:     v.Qty,
		Replayed:   replayed,
		Entries:    len(entries),
		Consistent: chained && replayed == v.Qty,
	}
	if !report.Consistent {
		s.logger.Error("stock ledger out of balance",
			zap.String("variant_id", variantID.String()),
			zap.Int("on_hand", report.OnHand),
			zap.Int("replayed", report.Replayed),
		)
	}
	return report, nil
}
