package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, pool PoolConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	maxOpen := pool.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 30
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle < 1 {
		maxIdle = 8
	}
	db.SetMaxIdleConns(maxIdle)
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// UpsertProduct writes a catalog product. Products are owned by the catalog
// service; this exists for seeding and tests.
func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.DefaultPrice = domain.RoundMoney(product.DefaultPrice)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, default_price, created_at)
		VALUES (:id, :name, :default_price, :created_at)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, default_price = EXCLUDED.default_price
	`, product)
	if err != nil {
		return domain.Product{}, mapError(err)
	}
	return product, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("ledger commit failed", zap.Error(err))
		return mapError(err)
	}
	return nil
}

const variantSelect = `
	SELECT v.id, v.product_id, v.size_id, v.color_id, v.qty, v.selling_price,
		p.default_price, v.created_at, v.updated_at
	FROM variants v
	JOIN products p ON p.id = v.product_id
`

func (s *Store) FindVariant(ctx context.Context, key domain.VariantKey) (*domain.Variant, error) {
	var v domain.Variant
	err := s.db.GetContext(ctx, &v, variantSelect+`
		WHERE v.product_id = $1
			AND v.size_id IS NOT DISTINCT FROM $2::uuid
			AND v.color_id IS NOT DISTINCT FROM $3::uuid
	`, key.ProductID, key.SizeID, key.ColorID)
	if err != nil {
		return nil, mapError(err)
	}
	return &v, nil
}

func (s *Store) GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error) {
	var v domain.Variant
	if err := s.db.GetContext(ctx, &v, variantSelect+`WHERE v.id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &v, nil
}

func (s *Store) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	conditions := []string{}
	args := map[string]any{}

	if filter.VariantID != nil {
		conditions = append(conditions, "h.variant_id = :variant_id")
		args["variant_id"] = *filter.VariantID
	}
	if filter.ProductID != nil {
		conditions = append(conditions, "v.product_id = :product_id")
		args["product_id"] = *filter.ProductID
	}
	if filter.SizeID != nil {
		conditions = append(conditions, "v.size_id = :size_id")
		args["size_id"] = *filter.SizeID
	}
	if filter.ColorID != nil {
		conditions = append(conditions, "v.color_id = :color_id")
		args["color_id"] = *filter.ColorID
	}
	if filter.Reason != "" {
		conditions = append(conditions, "h.reason = :reason")
		args["reason"] = string(filter.Reason)
	}
	if filter.From != nil {
		conditions = append(conditions, "h.created_at >= :from")
		args["from"] = *filter.From
	}
	if filter.To != nil {
		conditions = append(conditions, "h.created_at <= :to")
		args["to"] = *filter.To
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := `
		SELECT h.id, h.seq, h.variant_id, h.change_qty, h.reason, h.previous_qty, h.new_qty,
			h.price_at_change, h.created_at
		FROM stock_history h
		JOIN variants v ON v.id = h.variant_id` + whereClause + `
		ORDER BY h.seq DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	query, namedArgs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.HistoryEntry, 0, 32)
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), namedArgs...); err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (s *Store) VariantHistory(ctx context.Context, variantID uuid.UUID) ([]domain.HistoryEntry, error) {
	entries := make([]domain.HistoryEntry, 0, 16)
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, seq, variant_id, change_qty, reason, previous_qty, new_qty, price_at_change, created_at
		FROM stock_history
		WHERE variant_id = $1
		ORDER BY seq ASC
	`, variantID)
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT id, customer_id, payment_status, order_date, subtotal, discount, delivery_fee, total, note, created_at
		FROM orders
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, mapError(err)
	}

	if order.CustomerID != nil {
		var customer domain.Customer
		err := s.db.GetContext(ctx, &customer, `
			SELECT id, name, phone, address, created_at, updated_at
			FROM customers
			WHERE id = $1
		`, *order.CustomerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			order.Customer = &customer
		}
	}

	order.Lines = make([]domain.OrderLine, 0, 8)
	err = s.db.SelectContext(ctx, &order.Lines, `
		SELECT id, order_id, line_no, variant_id, qty, selling_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	summaries := make([]domain.OrderSummary, 0, 16)
	err := s.db.SelectContext(ctx, &summaries, `
		SELECT o.id, COALESCE(c.name, '') AS customer_name, o.payment_status, o.order_date, o.total,
			(SELECT count(*) FROM order_lines l WHERE l.order_id = o.id) AS line_count,
			o.created_at
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		ORDER BY o.order_date DESC, o.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) ListRecentReturns(ctx context.Context, limit int) ([]domain.ReturnSummary, error) {
	summaries := make([]domain.ReturnSummary, 0, 16)
	err := s.db.SelectContext(ctx, &summaries, `
		SELECT r.id, r.order_id, r.reason,
			COALESCE((SELECT sum(l.qty) FROM return_lines l WHERE l.return_id = r.id), 0) AS item_count,
			r.created_at
		FROM returns r
		ORDER BY r.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) ListSales(ctx context.Context, variantID uuid.UUID, limit int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 16)
	err := s.db.SelectContext(ctx, &sales, `
		SELECT id, variant_id, qty, selling_price, unit_cost, sale_date, payment_method, payment_status, created_at
		FROM sales
		WHERE variant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, variantID, limit)
	if err != nil {
		return nil, err
	}
	return sales, nil
}

// mapError turns driver errors the ledger cares about into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		case "22003":
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrInvalidQuantity)
		case "23514":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrInvalidRequest)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", store.ErrTransactionAborted, pgErr.Message)
		}
	}
	return err
}
