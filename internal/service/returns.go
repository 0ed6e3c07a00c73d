package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// CreateReturn books returned goods back into stock: header, lines and one
// "return" mutation per line in a single transaction. Quantities are not
// checked against what the referenced order sold.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.SalesReturn, error) {
	if len(req.Lines) == 0 {
		return domain.SalesReturn{}, store.ErrEmptyReturn
	}

	now := s.now()
	ret := domain.SalesReturn{
		ID:        uuid.New(),
		OrderID:   req.OrderID,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedAt: now,
	}
	lines := make([]domain.ReturnLine, 0, len(req.Lines))
	ids := make([]uuid.UUID, 0, len(req.Lines))
	seen := make(map[uuid.UUID]struct{}, len(req.Lines))
	for i, in := range req.Lines {
		if !domain.ValidQty(in.Qty) {
			return domain.SalesReturn{}, fmt.Errorf("line %d: %w", i+1, store.ErrInvalidQuantity)
		}
		lines = append(lines, domain.ReturnLine{
			ID:        uuid.New(),
			ReturnID:  ret.ID,
			VariantID: in.VariantID,
			Qty:       in.Qty,
		})
		if _, ok := seen[in.VariantID]; !ok {
			seen[in.VariantID] = struct{}{}
			ids = append(ids, in.VariantID)
		}
	}

	keys := make([]domain.VariantKey, 0, len(ids))
	err := s.withinTx(ctx, "return", func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockVariants(ctx, ids)
		if err != nil {
			return err
		}
		variants := make(map[uuid.UUID]*domain.Variant, len(locked))
		for id, v := range locked {
			v := v
			variants[id] = &v
			keys = append(keys, v.Key())
		}
		for i, line := range lines {
			if _, ok := variants[line.VariantID]; !ok {
				return fmt.Errorf("line %d: %w", i+1, store.ErrVariantNotFound)
			}
		}

		if err := tx.InsertReturn(ctx, &ret); err != nil {
			return err
		}
		if err := tx.InsertReturnLines(ctx, lines); err != nil {
			return err
		}
		for i, line := range lines {
			v := variants[line.VariantID]
			_, err := s.applyChange(ctx, tx, v, change{
				reason: domain.ReasonReturn,
				qty:    line.Qty,
				price:  v.EffectivePrice(),
				line:   i + 1,
			}, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "return", err)
		return domain.SalesReturn{}, err
	}

	ret.Lines = lines
	s.invalidate(ctx, keys...)
	for range lines {
		s.metrics.ObserveMutation(string(domain.ReasonReturn))
	}
	s.logger.Info("return committed",
		s.actorField(ctx),
		zap.String("return_id", ret.ID.String()),
		zap.Int("lines", len(lines)),
		zap.Bool("order_linked", ret.OrderID != nil),
	)
	return ret, nil
}

func (s *Service) RecentReturns(ctx context.Context, limit int) ([]domain.ReturnSummary, error) {
	return s.repo.ListRecentReturns(ctx, normalizeLimit(limit, 20, 200))
}
