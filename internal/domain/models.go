package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	DefaultPrice decimal.Decimal `json:"default_price" db:"default_price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type Variant struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	ProductID    uuid.UUID           `json:"product_id" db:"product_id"`
	SizeID       *uuid.UUID          `json:"size_id,omitempty" db:"size_id"`
	ColorID      *uuid.UUID          `json:"color_id,omitempty" db:"color_id"`
	Qty          int                 `json:"qty" db:"qty"`
	SellingPrice decimal.NullDecimal `json:"selling_price" db:"selling_price"`
	DefaultPrice decimal.Decimal     `json:"default_price" db:"default_price"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// EffectivePrice is the variant's own selling price, or the product default
// when the variant has none.
func (v Variant) EffectivePrice() decimal.Decimal {
	if v.SellingPrice.Valid {
		return v.SellingPrice.Decimal
	}
	return v.DefaultPrice
}

func (v Variant) Key() VariantKey {
	return VariantKey{ProductID: v.ProductID, SizeID: v.SizeID, ColorID: v.ColorID}
}

type HistoryEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Seq           int64           `json:"seq" db:"seq"`
	VariantID     uuid.UUID       `json:"variant_id" db:"variant_id"`
	ChangeQty     int             `json:"change_qty" db:"change_qty"`
	Reason        Reason          `json:"reason" db:"reason"`
	PreviousQty   int             `json:"previous_qty" db:"previous_qty"`
	NewQty        int             `json:"new_qty" db:"new_qty"`
	PriceAtChange decimal.Decimal `json:"price_at_change" db:"price_at_change"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type HistoryFilter struct {
	VariantID *uuid.UUID
	ProductID *uuid.UUID
	SizeID    *uuid.UUID
	ColorID   *uuid.UUID
	Reason    Reason
	From      *time.Time
	To        *time.Time
	Limit     int
}

type MutationRequest struct {
	VariantKey
	Qty    int             `json:"qty"`
	Reason Reason          `json:"reason"`
	Price  decimal.Decimal `json:"price"`
}

type MutationResult struct {
	VariantID   uuid.UUID `json:"variant_id"`
	PreviousQty int       `json:"previous_qty"`
	NewQty      int       `json:"new_qty"`
	HistoryID   uuid.UUID `json:"history_id"`
}

type Availability struct {
	VariantKey
	VariantID *uuid.UUID      `json:"variant_id,omitempty"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type ReconcileReport struct {
	VariantID  uuid.UUID `json:"variant_id"`
	OnHand     int       `json:"on_hand"`
	Replayed   int       `json:"replayed"`
	Entries    int       `json:"entries"`
	Consistent bool      `json:"consistent"`
}

type Customer struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CustomerInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Order struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CustomerID    *uuid.UUID      `json:"customer_id,omitempty" db:"customer_id"`
	Customer      *Customer       `json:"customer,omitempty" db:"-"`
	PaymentStatus PaymentStatus   `json:"payment_status" db:"payment_status"`
	OrderDate     time.Time       `json:"order_date" db:"order_date"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount      decimal.Decimal `json:"discount" db:"discount"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee" db:"delivery_fee"`
	Total         decimal.Decimal `json:"total" db:"total"`
	Note          string          `json:"note" db:"note"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Lines         []OrderLine     `json:"lines" db:"-"`
}

type OrderLine struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrderID      uuid.UUID       `json:"order_id" db:"order_id"`
	LineNo       int             `json:"line_no" db:"line_no"`
	VariantID    uuid.UUID       `json:"variant_id" db:"variant_id"`
	Qty          int             `json:"qty" db:"qty"`
	SellingPrice decimal.Decimal `json:"selling_price" db:"selling_price"`
}

func (l OrderLine) Amount() decimal.Decimal {
	return l.SellingPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

type OrderLineInput struct {
	VariantID    uuid.UUID       `json:"variant_id"`
	Qty          int             `json:"qty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type OrderRequest struct {
	Customer      CustomerInput    `json:"customer"`
	PaymentStatus PaymentStatus    `json:"payment_status"`
	OrderDate     *time.Time       `json:"order_date,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Discount      decimal.Decimal  `json:"discount"`
	DeliveryFee   decimal.Decimal  `json:"delivery_fee"`
	Total         decimal.Decimal  `json:"total"`
	Note          string           `json:"note"`
	Lines         []OrderLineInput `json:"lines"`
}

type OrderSummary struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CustomerName  string          `json:"customer_name" db:"customer_name"`
	PaymentStatus PaymentStatus   `json:"payment_status" db:"payment_status"`
	OrderDate     time.Time       `json:"order_date" db:"order_date"`
	Total         decimal.Decimal `json:"total" db:"total"`
	LineCount     int             `json:"line_count" db:"line_count"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type SalesReturn struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	OrderID   *uuid.UUID   `json:"order_id,omitempty" db:"order_id"`
	Reason    string       `json:"reason" db:"reason"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	Lines     []ReturnLine `json:"lines" db:"-"`
}

type ReturnLine struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ReturnID  uuid.UUID `json:"return_id" db:"return_id"`
	VariantID uuid.UUID `json:"variant_id" db:"variant_id"`
	Qty       int       `json:"qty" db:"qty"`
}

type ReturnLineInput struct {
	VariantID uuid.UUID `json:"variant_id"`
	Qty       int       `json:"qty"`
}

type ReturnRequest struct {
	OrderID *uuid.UUID        `json:"order_id,omitempty"`
	Reason  string            `json:"reason"`
	Lines   []ReturnLineInput `json:"lines"`
}

type ReturnSummary struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty" db:"order_id"`
	Reason    string     `json:"reason" db:"reason"`
	ItemCount int        `json:"item_count" db:"item_count"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Sale is a row in the sales trail. Quick sales and backfills both land here;
// only quick sales have a matching stock history entry.
type Sale struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	VariantID     uuid.UUID           `json:"variant_id" db:"variant_id"`
	Qty           int                 `json:"qty" db:"qty"`
	SellingPrice  decimal.Decimal     `json:"selling_price" db:"selling_price"`
	UnitCost      decimal.NullDecimal `json:"unit_cost" db:"unit_cost"`
	SaleDate      time.Time           `json:"sale_date" db:"sale_date"`
	PaymentMethod string              `json:"payment_method" db:"payment_method"`
	PaymentStatus PaymentStatus       `json:"payment_status" db:"payment_status"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

type QuickSaleRequest struct {
	VariantID    uuid.UUID       `json:"variant_id"`
	Qty          int             `json:"qty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type QuickSaleResult struct {
	Sale     Sale           `json:"sale"`
	Mutation MutationResult `json:"mutation"`
}

type BackfillRequest struct {
	ProductID        uuid.UUID       `json:"product_id"`
	Date             time.Time       `json:"date"`
	Qty              int             `json:"qty"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	UnitSellingPrice decimal.Decimal `json:"unit_selling_price"`
}

type Actor struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

const (
	PaymentMethodCash     = "cash"
	PaymentMethodBackfill = "backfill"
)
