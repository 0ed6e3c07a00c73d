package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// RecordBackfill writes a historical sale against the product's untracked
// variant (no size, no color). It is a reporting record only: no quantity
// moves and no history entry is written.
func (s *Service) RecordBackfill(ctx context.Context, req domain.BackfillRequest) (domain.Sale, error) {
	if req.ProductID == uuid.Nil {
		return domain.Sale{}, fmt.Errorf("%w: product_id is required", store.ErrInvalidRequest)
	}
	if !domain.ValidQty(req.Qty) {
		return domain.Sale{}, store.ErrInvalidQuantity
	}
	if req.UnitCost.IsNegative() || req.UnitSellingPrice.IsNegative() {
		return domain.Sale{}, store.ErrInvalidPrice
	}
	if req.Date.IsZero() {
		return domain.Sale{}, fmt.Errorf("%w: date is required", store.ErrInvalidRequest)
	}
	now := s.now()
	if req.Date.After(now) {
		return domain.Sale{}, fmt.Errorf("%w: backfill date is in the future", store.ErrInvalidRequest)
	}

	var sale domain.Sale
	err := s.withinTx(ctx, "backfill", func(ctx context.Context, tx store.Tx) error {
		v, err := tx.FindOrCreateVariant(ctx, domain.VariantKey{ProductID: req.ProductID})
		if err != nil {
			return err
		}
		sale = domain.Sale{
			ID:            uuid.New(),
			VariantID:     v.ID,
			Qty:           req.Qty,
			SellingPrice:  domain.RoundMoney(req.UnitSellingPrice),
			UnitCost:      decimal.NewNullDecimal(domain.RoundMoney(req.UnitCost)),
			SaleDate:      req.Date.UTC(),
			PaymentMethod: domain.PaymentMethodBackfill,
			PaymentStatus: domain.PaymentPaid,
			CreatedAt:     now,
		}
		return tx.InsertSale(ctx, &sale)
	})
	if err != nil {
		s.logRejected(ctx, "backfill", err)
		return domain.Sale{}, err
	}

	s.logger.Info("backfill recorded",
		s.actorField(ctx),
		zap.String("sale_id", sale.ID.String()),
		zap.String("variant_id", sale.VariantID.String()),
		zap.Time("sale_date", sale.SaleDate),
		zap.Int("qty", sale.Qty),
	)
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, variantID uuid.UUID, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, variantID, normalizeLimit(limit, 50, 500))
}
