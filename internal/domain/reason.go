package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Reason is the closed set of causes for a stock change. The direction of the
// change is a property of the reason, never of the caller.
type Reason string

const (
	ReasonAdd      Reason = "add"
	ReasonRemove   Reason = "remove"
	ReasonSale     Reason = "sale"
	ReasonReturn   Reason = "return"
	ReasonBackfill Reason = "backfill"
)

func (r Reason) Valid() bool {
	return r.Direction() != 0
}

// Direction is +1 for reasons that add stock, -1 for reasons that take it
// away and 0 for anything outside the enumeration.
func (r Reason) Direction() int {
	switch r {
	case ReasonAdd, ReasonReturn, ReasonBackfill:
		return 1
	case ReasonRemove, ReasonSale:
		return -1
	default:
		return 0
	}
}

// MaxQty is the largest quantity a single line or variant may hold; quantity
// columns are 32-bit integers.
const MaxQty = math.MaxInt32

// ValidQty reports whether qty is a usable line magnitude.
func ValidQty(qty int) bool {
	return qty >= 1 && qty <= MaxQty
}

// Signed turns a positive magnitude into the signed change for this reason.
func (r Reason) Signed(qty int) int {
	return r.Direction() * qty
}

func ParseReason(raw string) (Reason, bool) {
	r := Reason(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentPartial  PaymentStatus = "Partial"
	PaymentCanceled PaymentStatus = "Canceled"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentPartial, PaymentCanceled:
		return true
	}
	return false
}

func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, status := range []PaymentStatus{PaymentPending, PaymentPaid, PaymentPartial, PaymentCanceled} {
		if strings.EqualFold(trimmed, string(status)) {
			return status, true
		}
	}
	return PaymentStatus(trimmed), false
}

// VariantKey identifies a sellable unit. Nil size or color means "unset" and
// two unset values compare equal.
type VariantKey struct {
	ProductID uuid.UUID  `json:"product_id"`
	SizeID    *uuid.UUID `json:"size_id,omitempty"`
	ColorID   *uuid.UUID `json:"color_id,omitempty"`
}

func (k VariantKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ProductID, optionalID(k.SizeID), optionalID(k.ColorID))
}

func (k VariantKey) Untracked() bool {
	return k.SizeID == nil && k.ColorID == nil
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
