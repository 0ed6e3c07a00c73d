package postgres

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) FindOrCreateVariant(ctx context.Context, key domain.VariantKey) (domain.Variant, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO variants (id, product_id, size_id, color_id, qty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, now(), now())
		ON CONFLICT ON CONSTRAINT variants_identity DO NOTHING
	`, uuid.New(), key.ProductID, key.SizeID, key.ColorID)
	if err != nil {
		return domain.Variant{}, mapError(err)
	}

	var v domain.Variant
	err = t.tx.GetContext(ctx, &v, variantSelect+`
		WHERE v.product_id = $1
			AND v.size_id IS NOT DISTINCT FROM $2::uuid
			AND v.color_id IS NOT DISTINCT FROM $3::uuid
		FOR UPDATE OF v
	`, key.ProductID, key.SizeID, key.ColorID)
	if err != nil {
		return domain.Variant{}, mapError(err)
	}
	return v, nil
}

// LockVariants locks rows in id order so concurrent multi-line orders cannot
// deadlock on each other. Missing ids are simply absent from the result.
func (t *pgTx) LockVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Variant, error) {
	locked := make(map[uuid.UUID]domain.Variant, len(ids))
	if len(ids) == 0 {
		return locked, nil
	}

	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	query, args, err := sqlx.In(variantSelect+`
		WHERE v.id IN (?)
		ORDER BY v.id
		FOR UPDATE OF v
	`, sorted)
	if err != nil {
		return nil, err
	}

	var rows []domain.Variant
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, mapError(err)
	}
	for _, v := range rows {
		locked[v.ID] = v
	}
	return locked, nil
}

func (t *pgTx) SetVariantStock(ctx context.Context, id uuid.UUID, qty int, price *decimal.Decimal) error {
	var newPrice decimal.NullDecimal
	if price != nil {
		newPrice = decimal.NewNullDecimal(domain.RoundMoney(*price))
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE variants
		SET qty = $2, selling_price = COALESCE($3::numeric, selling_price), updated_at = now()
		WHERE id = $1
	`, id, qty, newPrice)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrVariantNotFound
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO stock_history (id, variant_id, change_qty, reason, previous_qty, new_qty, price_at_change, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`, entry.ID, entry.VariantID, entry.ChangeQty, string(entry.Reason), entry.PreviousQty, entry.NewQty,
		entry.PriceAtChange, entry.CreatedAt).Scan(&entry.Seq)
	return mapError(err)
}

func (t *pgTx) UpsertCustomer(ctx context.Context, in domain.CustomerInput, at time.Time) (*uuid.UUID, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil
	}
	phone := strings.TrimSpace(in.Phone)
	address := strings.TrimSpace(in.Address)

	var id uuid.UUID
	if phone == "" {
		err := t.tx.QueryRowxContext(ctx, `
			INSERT INTO customers (id, name, phone, address, created_at, updated_at)
			VALUES ($1, $2, '', $3, $4, $4)
			RETURNING id
		`, uuid.New(), name, address, at).Scan(&id)
		if err != nil {
			return nil, mapError(err)
		}
		return &id, nil
	}

	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (phone) WHERE phone <> ''
		DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, uuid.New(), name, phone, address, at).Scan(&id)
	if err != nil {
		return nil, mapError(err)
	}
	return &id, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, payment_status, order_date, subtotal, discount,
			delivery_fee, total, note, created_at
		)
		VALUES (
			:id, :customer_id, :payment_status, :order_date, :subtotal, :discount,
			:delivery_fee, :total, :note, :created_at
		)
	`, order)
	return mapError(err)
}

func (t *pgTx) InsertOrderLines(ctx context.Context, lines []domain.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, line_no, variant_id, qty, selling_price)
		VALUES (:id, :order_id, :line_no, :variant_id, :qty, :selling_price)
	`, lines)
	return mapError(err)
}

func (t *pgTx) InsertReturn(ctx context.Context, ret *domain.SalesReturn) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO returns (id, order_id, reason, created_at)
		VALUES (:id, :order_id, :reason, :created_at)
	`, ret)
	return mapError(err)
}

func (t *pgTx) InsertReturnLines(ctx context.Context, lines []domain.ReturnLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO return_lines (id, return_id, variant_id, qty)
		VALUES (:id, :return_id, :variant_id, :qty)
	`, lines)
	return mapError(err)
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sales (
			id, variant_id, qty, selling_price, unit_cost, sale_date,
			payment_method, payment_status, created_at
		)
		VALUES (
			:id, :variant_id, :qty, :selling_price, :unit_cost, :sale_date,
			:payment_method, :payment_status, :created_at
		)
	`, sale)
	return mapError(err)
}
