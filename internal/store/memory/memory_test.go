package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

func TestWithinTxDiscardsStagedStateOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := s.PutProduct(domain.Product{Name: "Kaos", DefaultPrice: decimal.NewFromInt(50000)})
	key := domain.VariantKey{ProductID: product.ID}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindOrCreateVariant(ctx, key)
		require.NoError(t, err)
		require.NoError(t, tx.SetVariantStock(ctx, v.ID, 5, nil))
		require.NoError(t, tx.AppendHistory(ctx, &domain.HistoryEntry{
			VariantID:   v.ID,
			ChangeQty:   5,
			Reason:      domain.ReasonAdd,
			PreviousQty: 0,
			NewQty:      5,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.FindVariant(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	history, err := s.ListHistory(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWithinTxCommitsAndAssignsSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := s.PutProduct(domain.Product{Name: "Kaos", DefaultPrice: decimal.NewFromInt(50000)})

	var id uuid.UUID
	for i := 1; i <= 2; i++ {
		require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
			v, err := tx.FindOrCreateVariant(ctx, domain.VariantKey{ProductID: product.ID})
			if err != nil {
				return err
			}
			id = v.ID
			if err := tx.SetVariantStock(ctx, v.ID, v.Qty+1, nil); err != nil {
				return err
			}
			return tx.AppendHistory(ctx, &domain.HistoryEntry{
				VariantID:   v.ID,
				ChangeQty:   1,
				Reason:      domain.ReasonAdd,
				PreviousQty: v.Qty,
				NewQty:      v.Qty + 1,
			})
		}))
	}

	v, err := s.GetVariant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Qty)
	assert.True(t, v.DefaultPrice.Equal(decimal.NewFromInt(50000)))

	history, err := s.VariantHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Seq)
	assert.Equal(t, int64(2), history[1].Seq)
}

func TestTxGuardsAgainstBadWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	product := s.PutProduct(domain.Product{Name: "Kaos"})

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindOrCreateVariant(ctx, domain.VariantKey{ProductID: uuid.New()})
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindOrCreateVariant(ctx, domain.VariantKey{ProductID: product.ID})
		if err != nil {
			return err
		}
		return tx.SetVariantStock(ctx, v.ID, -1, nil)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindOrCreateVariant(ctx, domain.VariantKey{ProductID: product.ID})
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &domain.HistoryEntry{VariantID: v.ID, ChangeQty: 2, PreviousQty: 0, NewQty: 3})
	})
	assert.ErrorIs(t, err, store.ErrInvalidQuantity)
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUpsertCustomerMatchesOnPhone(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var first, second, nameless *uuid.UUID
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.UpsertCustomer(ctx, domain.CustomerInput{Name: "Dewi", Phone: " 0812 "}, at)
		if err != nil {
			return err
		}
		second, err = tx.UpsertCustomer(ctx, domain.CustomerInput{Name: "Dewi A.", Phone: "0812", Address: "Solo"}, at)
		if err != nil {
			return err
		}
		nameless, err = tx.UpsertCustomer(ctx, domain.CustomerInput{Phone: "0812"}, at)
		return err
	}))

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Nil(t, nameless)
	assert.Equal(t, "Dewi A.", s.st.customers[*first].Name)
	assert.Equal(t, "Solo", s.st.customers[*first].Address)
}

func TestSeededStoreIsConsistent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for id, v := range s.st.variants {
		history, err := s.VariantHistory(ctx, id)
		require.NoError(t, err)
		replayed := 0
		for _, entry := range history {
			replayed += entry.ChangeQty
		}
		assert.Equal(t, v.Qty, replayed, "variant %s", id)
	}
	assert.Len(t, s.st.products, 4)
}

func TestSeededVariantIDsAreStable(t *testing.T) {
	key := domain.VariantKey{ProductID: SeedID("product/topi-baseball")}
	require.NotPanics(t, func() { NewSeeded() })

	first, err := NewSeeded().FindVariant(context.Background(), key)
	require.NoError(t, err)
	second, err := NewSeeded().FindVariant(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, SeedVariantID(key), first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 24, first.Qty)
}
