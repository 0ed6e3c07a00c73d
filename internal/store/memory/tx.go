package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type memTx struct {
	st *state
}

func (t *memTx) FindOrCreateVariant(_ context.Context, key domain.VariantKey) (domain.Variant, error) {
	if id, ok := t.st.variantIDs[key.String()]; ok {
		return t.st.variantView(id), nil
	}
	if _, ok := t.st.products[key.ProductID]; !ok {
		return domain.Variant{}, fmt.Errorf("product %s: %w", key.ProductID, store.ErrNotFound)
	}

	now := time.Now().UTC()
	v := domain.Variant{
		ID:        uuid.New(),
		ProductID: key.ProductID,
		SizeID:    key.SizeID,
		ColorID:   key.ColorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.st.variants[v.ID] = v
	t.st.variantIDs[key.String()] = v.ID
	return t.st.variantView(v.ID), nil
}

func (t *memTx) LockVariants(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Variant, error) {
	locked := make(map[uuid.UUID]domain.Variant, len(ids))
	for _, id := range ids {
		if _, ok := t.st.variants[id]; ok {
			locked[id] = t.st.variantView(id)
		}
	}
	return locked, nil
}

func (t *memTx) SetVariantStock(_ context.Context, id uuid.UUID, qty int, price *decimal.Decimal) error {
	v, ok := t.st.variants[id]
	if !ok {
		return store.ErrVariantNotFound
	}
	if qty < 0 {
		return &store.InsufficientStockError{VariantID: id, Available: v.Qty}
	}
	v.Qty = qty
	if price != nil {
		v.SellingPrice = nullPrice(price)
	}
	v.UpdatedAt = time.Now().UTC()
	t.st.variants[id] = v
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, entry *domain.HistoryEntry) error {
	if _, ok := t.st.variants[entry.VariantID]; !ok {
		return store.ErrVariantNotFound
	}
	if entry.NewQty != entry.PreviousQty+entry.ChangeQty {
		return fmt.Errorf("history entry does not balance: %w", store.ErrInvalidQuantity)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.st.seq++
	entry.Seq = t.st.seq
	t.st.history = append(t.st.history, *entry)
	return nil
}

func (t *memTx) UpsertCustomer(_ context.Context, in domain.CustomerInput, at time.Time) (*uuid.UUID, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil
	}
	phone := strings.TrimSpace(in.Phone)

	if phone != "" {
		if id, ok := t.st.customerByPhone[phone]; ok {
			customer := t.st.customers[id]
			customer.Name = name
			customer.Address = strings.TrimSpace(in.Address)
			customer.UpdatedAt = at
			t.st.customers[id] = customer
			return &id, nil
		}
	}

	customer := domain.Customer{
		ID:        uuid.New(),
		Name:      name,
		Phone:     phone,
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: at,
		UpdatedAt: at,
	}
	t.st.customers[customer.ID] = customer
	if phone != "" {
		t.st.customerByPhone[phone] = customer.ID
	}
	return &customer.ID, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if _, exists := t.st.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if order.CustomerID != nil {
		if _, ok := t.st.customers[*order.CustomerID]; !ok {
			return store.ErrCustomerUpsertFailed
		}
	}
	stored := *order
	stored.Customer = nil
	stored.Lines = nil
	t.st.orders[order.ID] = stored
	t.st.orderIDs = append(t.st.orderIDs, order.ID)
	return nil
}

func (t *memTx) InsertOrderLines(_ context.Context, lines []domain.OrderLine) error {
	for _, line := range lines {
		order, ok := t.st.orders[line.OrderID]
		if !ok {
			return fmt.Errorf("order %s: %w", line.OrderID, store.ErrNotFound)
		}
		if _, ok := t.st.variants[line.VariantID]; !ok {
			return store.ErrVariantNotFound
		}
		order.Lines = append(slices.Clip(order.Lines), line)
		t.st.orders[line.OrderID] = order
	}
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, ret *domain.SalesReturn) error {
	if ret.OrderID != nil {
		if _, ok := t.st.orders[*ret.OrderID]; !ok {
			return fmt.Errorf("order %s: %w", *ret.OrderID, store.ErrNotFound)
		}
	}
	stored := *ret
	stored.Lines = nil
	t.st.returns[ret.ID] = stored
	t.st.returnIDs = append(t.st.returnIDs, ret.ID)
	return nil
}

func (t *memTx) InsertReturnLines(_ context.Context, lines []domain.ReturnLine) error {
	for _, line := range lines {
		ret, ok := t.st.returns[line.ReturnID]
		if !ok {
			return fmt.Errorf("return %s: %w", line.ReturnID, store.ErrNotFound)
		}
		if _, ok := t.st.variants[line.VariantID]; !ok {
			return store.ErrVariantNotFound
		}
		ret.Lines = append(slices.Clip(ret.Lines), line)
		t.st.returns[line.ReturnID] = ret
	}
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale *domain.Sale) error {
	if _, ok := t.st.variants[sale.VariantID]; !ok {
		return store.ErrVariantNotFound
	}
	t.st.sales = append(t.st.sales, *sale)
	return nil
}
