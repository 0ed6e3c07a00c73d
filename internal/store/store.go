package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrVariantNotFound      = errors.New("variant not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrEmptyOrder           = errors.New("order has no lines")
	ErrEmptyReturn          = errors.New("return has no lines")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must not be negative")
	ErrInvalidReason        = errors.New("invalid stock reason")
	ErrInvalidTotals        = errors.New("order totals do not match lines")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrCustomerUpsertFailed = errors.New("customer upsert failed")
	ErrTransactionAborted   = errors.New("transaction aborted")
)

// InsufficientStockError reports a guard rejection. Line is the 1-based order
// line that failed, or 0 for a single mutation.
type InsufficientStockError struct {
	VariantID uuid.UUID
	Line      int
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: only %d in stock", e.Line, e.Available)
	}
	return fmt.Sprintf("only %d in stock", e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	// WithinTx runs fn in one transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	FindVariant(ctx context.Context, key domain.VariantKey) (*domain.Variant, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error)
	ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error)
	VariantHistory(ctx context.Context, variantID uuid.UUID) ([]domain.HistoryEntry, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListRecentOrders(ctx context.Context, limit int) ([]domain.OrderSummary, error)
	ListRecentReturns(ctx context.Context, limit int) ([]domain.ReturnSummary, error)
	ListSales(ctx context.Context, variantID uuid.UUID, limit int) ([]domain.Sale, error)
	Ping(ctx context.Context) error
}

// Tx is the write side of the ledger. Variants returned by FindOrCreateVariant
// and LockVariants stay locked until the transaction ends.
type Tx interface {
	FindOrCreateVariant(ctx context.Context, key domain.VariantKey) (domain.Variant, error)
	LockVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Variant, error)
	SetVariantStock(ctx context.Context, id uuid.UUID, qty int, price *decimal.Decimal) error
	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error
	UpsertCustomer(ctx context.Context, in domain.CustomerInput, at time.Time) (*uuid.UUID, error)
	InsertOrder(ctx context.Context, order *domain.Order) error
	InsertOrderLines(ctx context.Context, lines []domain.OrderLine) error
	InsertReturn(ctx context.Context, ret *domain.SalesReturn) error
	InsertReturnLines(ctx context.Context, lines []domain.ReturnLine) error
	InsertSale(ctx context.Context, sale *domain.Sale) error
}
