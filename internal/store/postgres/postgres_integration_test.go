package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("STOCKLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOCKLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, PoolConfig{MaxOpenConns: 16}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

// seedProduct inserts a product and removes everything hanging off it when
// the test ends.
func seedProduct(t *testing.T, s *Store) domain.Product {
	t.Helper()
	ctx := context.Background()
	product, err := s.UpsertProduct(ctx, domain.Product{
		Name:         "Produk IT " + uuid.NewString()[:8],
		DefaultPrice: decimal.RequireFromString("50000"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		variantIDs := `SELECT id FROM variants WHERE product_id = $1`
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE variant_id IN (`+variantIDs+`)`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_lines WHERE variant_id IN (`+variantIDs+`)`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_lines WHERE variant_id IN (`+variantIDs+`)`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_history WHERE variant_id IN (`+variantIDs+`)`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variants WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})
	return product
}

func TestOrderRollbackLeavesNoRows(t *testing.T) {
	s := openTestStore(t)
	svc := service.New(s)
	ctx := context.Background()
	product := seedProduct(t, s)

	small, large := uuid.New(), uuid.New()
	a, err := svc.Mutate(ctx, domain.MutationRequest{
		VariantKey: domain.VariantKey{ProductID: product.ID, SizeID: &large},
		Qty:        5,
		Reason:     domain.ReasonAdd,
	})
	require.NoError(t, err)
	b, err := svc.Mutate(ctx, domain.MutationRequest{
		VariantKey: domain.VariantKey{ProductID: product.ID, SizeID: &small},
		Qty:        1,
		Reason:     domain.ReasonAdd,
	})
	require.NoError(t, err)

	note := "it-" + uuid.NewString()
	_, err = svc.CreateOrder(ctx, domain.OrderRequest{
		Note: note,
		Lines: []domain.OrderLineInput{
			{VariantID: a.VariantID, Qty: 3, SellingPrice: decimal.RequireFromString("50000")},
			{VariantID: b.VariantID, Qty: 2, SellingPrice: decimal.RequireFromString("50000")},
		},
	})
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Line)

	v, err := s.GetVariant(ctx, a.VariantID)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Qty)

	var orders int
	require.NoError(t, s.db.GetContext(ctx, &orders, `SELECT count(*) FROM orders WHERE note = $1`, note))
	assert.Zero(t, orders)

	history, err := s.VariantHistory(ctx, a.VariantID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentSalesSerializeOnRowLock(t *testing.T) {
	s := openTestStore(t)
	svc := service.New(s, service.WithTxTimeout(10*time.Second))
	ctx := context.Background()
	product := seedProduct(t, s)
	key := domain.VariantKey{ProductID: product.ID}

	seeded, err := svc.Mutate(ctx, domain.MutationRequest{VariantKey: key, Qty: 10, Reason: domain.ReasonAdd})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Mutate(ctx, domain.MutationRequest{VariantKey: key, Qty: 1, Reason: domain.ReasonSale})
			if errors.Is(err, store.ErrInsufficientStock) {
				mu.Lock()
				rejected++
				mu.Unlock()
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, rejected)
	report, err := svc.Reconcile(ctx, seeded.VariantID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.OnHand)
	assert.True(t, report.Consistent)
}

func TestBackfillAndCustomerUpsert(t *testing.T) {
	s := openTestStore(t)
	svc := service.New(s)
	ctx := context.Background()
	product := seedProduct(t, s)

	sale, err := svc.RecordBackfill(ctx, domain.BackfillRequest{
		ProductID:        product.ID,
		Date:             time.Now().Add(-48 * time.Hour),
		Qty:              3,
		UnitCost:         decimal.RequireFromString("30000"),
		UnitSellingPrice: decimal.RequireFromString("50000"),
	})
	require.NoError(t, err)

	v, err := s.FindVariant(ctx, domain.VariantKey{ProductID: product.ID})
	require.NoError(t, err)
	assert.Equal(t, sale.VariantID, v.ID)
	assert.Equal(t, 0, v.Qty)

	history, err := s.VariantHistory(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.Mutate(ctx, domain.MutationRequest{VariantKey: v.Key(), Qty: 4, Reason: domain.ReasonAdd})
	require.NoError(t, err)

	phone := "08" + uuid.NewString()[:10]
	line := []domain.OrderLineInput{{VariantID: v.ID, Qty: 1, SellingPrice: decimal.RequireFromString("50000")}}
	first, err := svc.CreateOrder(ctx, domain.OrderRequest{Customer: domain.CustomerInput{Name: "Ani", Phone: phone}, Lines: line})
	require.NoError(t, err)
	second, err := svc.CreateOrder(ctx, domain.OrderRequest{Customer: domain.CustomerInput{Name: "Ani S.", Phone: phone}, Lines: line})
	require.NoError(t, err)
	require.NotNil(t, first.CustomerID)
	assert.Equal(t, *first.CustomerID, *second.CustomerID)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id IN ($1, $2)`, first.ID, second.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id IN ($1, $2)`, first.ID, second.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE phone = $1`, phone)
	})

	stored, err := svc.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Customer)
	assert.Equal(t, "Ani S.", stored.Customer.Name)
	assert.Len(t, stored.Lines, 1)
}
