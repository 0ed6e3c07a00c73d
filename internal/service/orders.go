package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// CreateOrder commits an order atomically: customer upsert, header, lines and
// one "sale" mutation per line. Lines are applied in the order given and are
// not merged, so a variant listed twice is guarded against what the earlier
// line left behind. Any failure leaves no trace.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	order, lines, err := s.prepareOrder(req)
	if err != nil {
		return domain.Order{}, err
	}

	keys := make([]domain.VariantKey, 0, len(lines))
	err = s.withinTx(ctx, "order", func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockVariants(ctx, distinctVariantIDs(lines))
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

		customerID, err := tx.UpsertCustomer(ctx, req.Customer, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrCustomerUpsertFailed, err)
		}
		order.CustomerID = customerID

		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		if err := tx.InsertOrderLines(ctx, lines); err != nil {
			return err
		}

		for i, line := range lines {
			_, err := s.applyChange(ctx, tx, variants[line.VariantID], change{
				reason: domain.ReasonSale,
				qty:    line.Qty,
				price:  line.SellingPrice,
				line:   i + 1,
			}, order.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "order", err)
		return domain.Order{}, err
	}

	order.Lines = lines
	s.invalidate(ctx, keys...)
	for range lines {
		s.metrics.ObserveMutation(string(domain.ReasonSale))
	}
	s.logger.Info("order committed",
		s.actorField(ctx),
		zap.String("order_id", order.ID.String()),
		zap.Int("lines", len(lines)),
		zap.String("total", order.Total.StringFixed(domain.MoneyScale)),
		zap.Bool("customer_linked", order.CustomerID != nil),
	)
	return order, nil
}

// prepareOrder validates the request and derives the header totals. Caller
// supplied subtotal and total are accepted only when they match the lines.
func (s *Service) prepareOrder(req domain.OrderRequest) (domain.Order, []domain.OrderLine, error) {
	if len(req.Lines) == 0 {
		return domain.Order{}, nil, store.ErrEmptyOrder
	}

	status := domain.PaymentPending
	if strings.TrimSpace(string(req.PaymentStatus)) != "" {
		parsed, ok := domain.ParsePaymentStatus(string(req.PaymentStatus))
		if !ok {
			return domain.Order{}, nil, store.ErrInvalidPaymentStatus
		}
		status = parsed
	}
	if req.Discount.IsNegative() || req.DeliveryFee.IsNegative() {
		return domain.Order{}, nil, store.ErrInvalidPrice
	}

	now := s.now()
	order := domain.Order{
		ID:            uuid.New(),
		PaymentStatus: status,
		OrderDate:     now,
		Discount:      domain.RoundMoney(req.Discount),
		DeliveryFee:   domain.RoundMoney(req.DeliveryFee),
		Note:          strings.TrimSpace(req.Note),
		CreatedAt:     now,
	}
	if req.OrderDate != nil && !req.OrderDate.IsZero() {
		order.OrderDate = req.OrderDate.UTC()
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		if in.VariantID == uuid.Nil {
			return domain.Order{}, nil, fmt.Errorf("line %d: %w", i+1, store.ErrVariantNotFound)
		}
		if !domain.ValidQty(in.Qty) {
			return domain.Order{}, nil, fmt.Errorf("line %d: %w", i+1, store.ErrInvalidQuantity)
		}
		if in.SellingPrice.IsNegative() {
			return domain.Order{}, nil, fmt.Errorf("line %d: %w", i+1, store.ErrInvalidPrice)
		}
		lines = append(lines, domain.OrderLine{
			ID:           uuid.New(),
			OrderID:      order.ID,
			LineNo:       i + 1,
			VariantID:    in.VariantID,
			Qty:          in.Qty,
			SellingPrice: domain.RoundMoney(in.SellingPrice),
		})
	}

	order.Subtotal = domain.ComputeSubtotal(lines)
	order.Total = domain.ComputeTotal(order.Subtotal, order.Discount, order.DeliveryFee)
	if !matchesSupplied(req.Subtotal, order.Subtotal) || !matchesSupplied(req.Total, order.Total) {
		return domain.Order{}, nil, store.ErrInvalidTotals
	}
	return order, lines, nil
}

func matchesSupplied(supplied, derived decimal.Decimal) bool {
	if supplied.IsZero() {
		return true
	}
	return domain.RoundMoney(supplied).Equal(derived)
}

// distinctVariantIDs keeps first-seen order; lock ordering is the store's job.
func distinctVariantIDs(lines []domain.OrderLine) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VariantID]; ok {
			continue
		}
		seen[line.VariantID] = struct{}{}
		ids = append(ids, line.VariantID)
	}
	return ids
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) RecentOrders(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	return s.repo.ListRecentOrders(ctx, normalizeLimit(limit, 20, 200))
}
