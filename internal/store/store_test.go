package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("commit order: %w", &InsufficientStockError{
		VariantID: uuid.New(),
		Line:      2,
		Requested: 2,
		Available: 1,
	})

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrVariantNotFound))

	var stockErr *InsufficientStockError
	if assert.True(t, errors.As(err, &stockErr)) {
		assert.Equal(t, 2, stockErr.Line)
		assert.Equal(t, 1, stockErr.Available)
	}
	assert.Contains(t, err.Error(), "line 2: only 1 in stock")
}

func TestInsufficientStockErrorWithoutLine(t *testing.T) {
	err := &InsufficientStockError{Requested: 20, Available: 7}
	assert.Equal(t, "only 7 in stock", err.Error())
}
