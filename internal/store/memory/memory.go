package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// Store keeps the ledger in process memory. Transactions are serialized by a
// single lock and run against a staged copy that replaces the live state only
// on commit.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products        map[uuid.UUID]domain.Product
	variants        map[uuid.UUID]domain.Variant
	variantIDs      map[string]uuid.UUID
	history         []domain.HistoryEntry
	seq             int64
	customers       map[uuid.UUID]domain.Customer
	customerByPhone map[string]uuid.UUID
	orders          map[uuid.UUID]domain.Order
	orderIDs        []uuid.UUID
	returns         map[uuid.UUID]domain.SalesReturn
	returnIDs       []uuid.UUID
	sales           []domain.Sale
}

func New() *Store {
	return &Store{st: &state{
		products:        map[uuid.UUID]domain.Product{},
		variants:        map[uuid.UUID]domain.Variant{},
		variantIDs:      map[string]uuid.UUID{},
		customers:       map[uuid.UUID]domain.Customer{},
		customerByPhone: map[string]uuid.UUID{},
		orders:          map[uuid.UUID]domain.Order{},
		returns:         map[uuid.UUID]domain.SalesReturn{},
	}}
}

// PutProduct registers a product so variants can be created for it.
func (s *Store) PutProduct(product domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.DefaultPrice = domain.RoundMoney(product.DefaultPrice)
	s.st.products[product.ID] = product
	return product
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(&memTx{st: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) FindVariant(_ context.Context, key domain.VariantKey) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.variantIDs[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	v := s.st.variantView(id)
	return &v, nil
}

func (s *Store) GetVariant(_ context.Context, id uuid.UUID) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.st.variants[id]; !ok {
		return nil, store.ErrNotFound
	}
	v := s.st.variantView(id)
	return &v, nil
}

func (s *Store) ListHistory(_ context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HistoryEntry, 0, 32)
	for i := len(s.st.history) - 1; i >= 0; i-- {
		entry := s.st.history[i]
		if !s.st.matchesHistory(entry, filter) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) VariantHistory(_ context.Context, variantID uuid.UUID) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HistoryEntry, 0, 16)
	for _, entry := range s.st.history {
		if entry.VariantID == variantID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	if order.CustomerID != nil {
		if customer, ok := s.st.customers[*order.CustomerID]; ok {
			dup.Customer = &customer
		}
	}
	return &dup, nil
}

func (s *Store) ListRecentOrders(_ context.Context, limit int) ([]domain.OrderSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(s.st.orderIDs)
	slices.Reverse(ids)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.st.orders[ids[i]].OrderDate.After(s.st.orders[ids[j]].OrderDate)
	})

	result := make([]domain.OrderSummary, 0, 16)
	for _, id := range ids {
		if limit > 0 && len(result) >= limit {
			break
		}
		order := s.st.orders[id]
		summary := domain.OrderSummary{
			ID:            order.ID,
			PaymentStatus: order.PaymentStatus,
			OrderDate:     order.OrderDate,
			Total:         order.Total,
			LineCount:     len(order.Lines),
			CreatedAt:     order.CreatedAt,
		}
		if order.CustomerID != nil {
			summary.CustomerName = s.st.customers[*order.CustomerID].Name
		}
		result = append(result, summary)
	}
	return result, nil
}

func (s *Store) ListRecentReturns(_ context.Context, limit int) ([]domain.ReturnSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReturnSummary, 0, 16)
	for i := len(s.st.returnIDs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		ret := s.st.returns[s.st.returnIDs[i]]
		items := 0
		for _, line := range ret.Lines {
			items += line.Qty
		}
		result = append(result, domain.ReturnSummary{
			ID:        ret.ID,
			OrderID:   ret.OrderID,
			Reason:    ret.Reason,
			ItemCount: items,
			CreatedAt: ret.CreatedAt,
		})
	}
	return result, nil
}

func (s *Store) ListSales(_ context.Context, variantID uuid.UUID, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 16)
	for i := len(s.st.sales) - 1; i >= 0; i-- {
		sale := s.st.sales[i]
		if sale.VariantID != variantID {
			continue
		}
		result = append(result, sale)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (st *state) clone() *state {
	dup := &state{
		products:        maps.Clone(st.products),
		variants:        maps.Clone(st.variants),
		variantIDs:      maps.Clone(st.variantIDs),
		history:         slices.Clip(st.history),
		seq:             st.seq,
		customers:       maps.Clone(st.customers),
		customerByPhone: maps.Clone(st.customerByPhone),
		orders:          maps.Clone(st.orders),
		orderIDs:        slices.Clip(st.orderIDs),
		returns:         maps.Clone(st.returns),
		returnIDs:       slices.Clip(st.returnIDs),
		sales:           slices.Clip(st.sales),
	}
	return dup
}

func (st *state) variantView(id uuid.UUID) domain.Variant {
	v := st.variants[id]
	v.DefaultPrice = st.products[v.ProductID].DefaultPrice
	return v
}

func (st *state) matchesHistory(entry domain.HistoryEntry, f domain.HistoryFilter) bool {
	if f.VariantID != nil && entry.VariantID != *f.VariantID {
		return false
	}
	if f.Reason != "" && entry.Reason != f.Reason {
		return false
	}
	if f.From != nil && entry.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && entry.CreatedAt.After(*f.To) {
		return false
	}
	if f.ProductID == nil && f.SizeID == nil && f.ColorID == nil {
		return true
	}
	v := st.variants[entry.VariantID]
	if f.ProductID != nil && v.ProductID != *f.ProductID {
		return false
	}
	if f.SizeID != nil && (v.SizeID == nil || *v.SizeID != *f.SizeID) {
		return false
	}
	if f.ColorID != nil && (v.ColorID == nil || *v.ColorID != *f.ColorID) {
		return false
	}
	return true
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func nullPrice(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(domain.RoundMoney(*d))
}
