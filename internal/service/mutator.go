package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// change is one guarded stock mutation inside a ledger transaction.
type change struct {
	reason domain.Reason
	qty    int
	// price is written to the history entry as the price at change.
	price decimal.Decimal
	// newPrice, when set, replaces the variant's stored selling price.
	newPrice *decimal.Decimal
	// line is the 1-based order/return line, 0 for single mutations.
	line int
}

// applyChange is the only place a variant quantity moves. The variant must
// already be locked by the surrounding transaction; on success v reflects the
// new state so later lines in the same transaction see it.
func (s *Service) applyChange(ctx context.Context, tx store.Tx, v *domain.Variant, c change, at time.Time) (domain.HistoryEntry, error) {
	delta := c.reason.Signed(c.qty)
	if delta == 0 {
		return domain.HistoryEntry{}, store.ErrInvalidReason
	}
	if delta > 0 && v.Qty > domain.MaxQty-delta {
		return domain.HistoryEntry{}, fmt.Errorf("%w: stock would exceed %d", store.ErrInvalidQuantity, domain.MaxQty)
	}
	next := v.Qty + delta
	if next < 0 {
		return domain.HistoryEntry{}, &store.InsufficientStockError{
			VariantID: v.ID,
			Line:      c.line,
			Requested: c.qty,
			Available: v.Qty,
		}
	}

	if err := tx.SetVariantStock(ctx, v.ID, next, c.newPrice); err != nil {
		return domain.HistoryEntry{}, err
	}

	entry := domain.HistoryEntry{
		ID:            uuid.New(),
		VariantID:     v.ID,
		ChangeQty:     delta,
		Reason:        c.reason,
		PreviousQty:   v.Qty,
		NewQty:        next,
		PriceAtChange: domain.RoundMoney(c.price),
		CreatedAt:     at,
	}
	if err := tx.AppendHistory(ctx, &entry); err != nil {
		return domain.HistoryEntry{}, err
	}

	v.Qty = next
	if c.newPrice != nil {
		v.SellingPrice = decimal.NewNullDecimal(domain.RoundMoney(*c.newPrice))
	}
	return entry, nil
}

// Mutate applies one stock change to the variant identified by req's key,
// creating the variant with zero stock when it does not exist yet. A positive
// price replaces the variant's selling price; zero keeps the stored one.
func (s *Service) Mutate(ctx context.Context, req domain.MutationRequest) (domain.MutationResult, error) {
	if !domain.ValidQty(req.Qty) {
		return domain.MutationResult{}, store.ErrInvalidQuantity
	}
	if !req.Reason.Valid() {
		return domain.MutationResult{}, store.ErrInvalidReason
	}
	if req.Reason == domain.ReasonBackfill {
		return domain.MutationResult{}, fmt.Errorf("%w: backfills are recorded, not applied", store.ErrInvalidReason)
	}
	if req.Price.IsNegative() {
		return domain.MutationResult{}, store.ErrInvalidPrice
	}
	if req.ProductID == uuid.Nil {
		return domain.MutationResult{}, fmt.Errorf("%w: product_id is required", store.ErrInvalidRequest)
	}

	var newPrice *decimal.Decimal
	if req.Price.IsPositive() {
		price := domain.RoundMoney(req.Price)
		newPrice = &price
	}

	var result domain.MutationResult
	err := s.withinTx(ctx, "mutate", func(ctx context.Context, tx store.Tx) error {
		v, err := tx.FindOrCreateVariant(ctx, req.VariantKey)
		if err != nil {
			return err
		}
		previous := v.Qty
		entry, err := s.applyChange(ctx, tx, &v, change{
			reason:   req.Reason,
			qty:      req.Qty,
			price:    req.Price,
			newPrice: newPrice,
		}, s.now())
		if err != nil {
			return err
		}
		result = domain.MutationResult{
			VariantID:   v.ID,
			PreviousQty: previous,
			NewQty:      v.Qty,
			HistoryID:   entry.ID,
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "mutate", err)
		return domain.MutationResult{}, err
	}

	s.invalidate(ctx, req.VariantKey)
	s.metrics.ObserveMutation(string(req.Reason))
	s.logger.Info("stock mutated",
		s.actorField(ctx),
		zap.String("variant_id", result.VariantID.String()),
		zap.String("reason", string(req.Reason)),
		zap.Int("previous_qty", result.PreviousQty),
		zap.Int("new_qty", result.NewQty),
	)
	return result, nil
}

// QuickSale sells from an existing variant outside of an order: one sales
// trail row plus one "sale" mutation, committed together.
func (s *Service) QuickSale(ctx context.Context, req domain.QuickSaleRequest) (domain.QuickSaleResult, error) {
	if !domain.ValidQty(req.Qty) {
		return domain.QuickSaleResult{}, store.ErrInvalidQuantity
	}
	if req.SellingPrice.IsNegative() {
		return domain.QuickSaleResult{}, store.ErrInvalidPrice
	}

	var (
		result domain.QuickSaleResult
		key    domain.VariantKey
	)
	err := s.withinTx(ctx, "quick_sale", func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockVariants(ctx, []uuid.UUID{req.VariantID})
		if err != nil {
			return err
		}
		v, ok := locked[req.VariantID]
		if !ok {
			return store.ErrVariantNotFound
		}
		key = v.Key()

		price := req.SellingPrice
		if price.IsZero() {
			price = v.EffectivePrice()
		}
		now := s.now()
		previous := v.Qty
		entry, err := s.applyChange(ctx, tx, &v, change{reason: domain.ReasonSale, qty: req.Qty, price: price}, now)
		if err != nil {
			return err
		}

		sale := domain.Sale{
			ID:            uuid.New(),
			VariantID:     v.ID,
			Qty:           req.Qty,
			SellingPrice:  domain.RoundMoney(price),
			SaleDate:      now,
			PaymentMethod: domain.PaymentMethodCash,
			PaymentStatus: domain.PaymentPaid,
			CreatedAt:     now,
		}
		if err := tx.InsertSale(ctx, &sale); err != nil {
			return err
		}

		result = domain.QuickSaleResult{
			Sale: sale,
			Mutation: domain.MutationResult{
				VariantID:   v.ID,
				PreviousQty: previous,
				NewQty:      v.Qty,
				HistoryID:   entry.ID,
			},
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "quick_sale", err)
		return domain.QuickSaleResult{}, err
	}

	s.invalidate(ctx, key)
	s.metrics.ObserveMutation(string(domain.ReasonSale))
	s.logger.Info("quick sale committed",
		s.actorField(ctx),
		zap.String("sale_id", result.Sale.ID.String()),
		zap.String("variant_id", result.Mutation.VariantID.String()),
		zap.Int("qty", req.Qty),
	)
	return result, nil
}

func (s *Service) logRejected(ctx context.Context, operation string, err error) {
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		s.logger.Info("stock guard rejected operation",
			s.actorField(ctx),
			zap.String("operation", operation),
			zap.String("variant_id", stockErr.VariantID.String()),
			zap.Int("line", stockErr.Line),
			zap.Int("requested", stockErr.Requested),
			zap.Int("available", stockErr.Available),
		)
		return
	}
	if errors.Is(err, store.ErrTransactionAborted) {
		s.logger.Warn("ledger transaction aborted", zap.String("operation", operation), zap.Error(err))
		return
	}
	s.logger.Debug("ledger operation failed", zap.String("operation", operation), zap.Error(err))
}
