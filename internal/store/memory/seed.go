package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
)

// SeedID derives the stable id used for demo catalogue rows, so a restarted
// dev server hands out the same ids.
func SeedID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("stockledger/"+name))
}

// NewSeeded returns a store with a small demo catalogue. Opening stock is
// booked as "add" history entries so the ledger reconciles from the start.
func NewSeeded() *Store {
	s := New()

	products := []struct {
		slug  string
		name  string
		price string
	}{
		{"kaos-polos", "Kaos Polos", "75000"},
		{"kemeja-flanel", "Kemeja Flanel", "165000"},
		{"celana-chino", "Celana Chino", "189000"},
		{"topi-baseball", "Topi Baseball", "55000"},
	}
	for _, p := range products {
		s.PutProduct(domain.Product{
			ID:           SeedID("product/" + p.slug),
			Name:         p.name,
			DefaultPrice: decimal.RequireFromString(p.price),
		})
	}

	sizes := []string{"s", "m", "l"}
	colors := []string{"black", "white"}
	now := time.Now().UTC()

	for _, p := range products[:3] {
		for i, size := range sizes {
			for _, color := range colors {
				sizeID := SeedID("size/" + size)
				colorID := SeedID("color/" + color)
				s.seedVariant(domain.VariantKey{
					ProductID: SeedID("product/" + p.slug),
					SizeID:    &sizeID,
					ColorID:   &colorID,
				}, 10+i*5, now)
			}
		}
	}
	// Caps are sold without size or color.
	s.seedVariant(domain.VariantKey{ProductID: SeedID("product/topi-baseball")}, 24, now)

	return s
}

// SeedVariantID is the id NewSeeded assigns to the variant with the given key.
func SeedVariantID(key domain.VariantKey) uuid.UUID {
	return SeedID("variant/" + key.String())
}

func (s *Store) seedVariant(key domain.VariantKey, qty int, at time.Time) {
	id := SeedVariantID(key)
	s.st.variants[id] = domain.Variant{
		ID:        id,
		ProductID: key.ProductID,
		SizeID:    key.SizeID,
		ColorID:   key.ColorID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.st.variantIDs[key.String()] = id

	ctx := context.Background()
	tx := &memTx{st: s.st}
	if err := tx.SetVariantStock(ctx, id, qty, nil); err != nil {
		panic(fmt.Sprintf("seed variant %s: %v", key, err))
	}
	if err := tx.AppendHistory(ctx, &domain.HistoryEntry{
		VariantID:     id,
		ChangeQty:     qty,
		Reason:        domain.ReasonAdd,
		PreviousQty:   0,
		NewQty:        qty,
		PriceAtChange: s.st.variantView(id).EffectivePrice(),
		CreatedAt:     at,
	}); err != nil {
		panic(fmt.Sprintf("seed history %s: %v", key, err))
	}
}
