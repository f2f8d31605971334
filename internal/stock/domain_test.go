package stock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMovementVocabulary(t *testing.T) {
	require.True(t, MovementTypeIn.Valid())
	require.True(t, MovementTypeAudit.Valid())
	require.False(t, MovementType("sideways").Valid())

	require.True(t, ReasonPurchaseOrderReceipt.Valid())
	require.False(t, MovementReason("because").Valid())

	require.True(t, ReasonTheft.Loss())
	require.False(t, ReasonSale.Loss())
}

func TestOverrideMovement(t *testing.T) {
	require.True(t, overrideMovement(MovementTypeAdjustment, ReasonAdjustmentNegative))
	require.True(t, overrideMovement(MovementTypeAudit, ReasonAuditCorrection))
	require.True(t, overrideMovement(MovementTypeOut, ReasonDamaged))
	require.True(t, overrideMovement(MovementTypeOut, ReasonExpired))
	require.False(t, overrideMovement(MovementTypeOut, ReasonSale))
	require.False(t, overrideMovement(MovementTypeTransfer, ReasonTransferOut))
}

func TestStockInsufficientErrorIs(t *testing.T) {
	err := &StockInsufficientError{Key: LevelKey{ProductID: 1, LocationID: 2}, Current: 3, Requested: -5}
	require.ErrorIs(t, err, ErrStockInsufficient)
	require.Contains(t, err.Error(), "have 3")
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(ErrLockTimeout))
	require.True(t, Retryable(ErrContention))
	require.False(t, Retryable(ErrStockInsufficient))
	require.False(t, Retryable(errors.New("boom")))
}

func TestLevelAccounting(t *testing.T) {
	level := StockLevel{CurrentStock: 10, ReservedStock: 4, CostPerUnit: 2.5}
	require.EqualValues(t, 6, level.AvailableStock())
	require.InDelta(t, 25.0, level.TotalCost(), 0.0001)
}
