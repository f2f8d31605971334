package purchasing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{
		StatusDraft, StatusPending, StatusApproved, StatusShipped,
		StatusPartiallyReceived, StatusReceived, StatusCompleted, StatusCancelled,
	}
	allowed := map[Status]map[Status]bool{
		StatusDraft:             {StatusPending: true, StatusCancelled: true},
		StatusPending:           {StatusApproved: true, StatusCancelled: true},
		StatusApproved:          {StatusShipped: true, StatusCancelled: true},
		StatusShipped:           {StatusReceived: true, StatusPartiallyReceived: true},
		StatusPartiallyReceived: {StatusReceived: true, StatusShipped: true},
		StatusReceived:          {StatusCompleted: true},
		StatusCompleted:         {},
		StatusCancelled:         {},
	}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			require.Equalf(t, allowed[from][to], got, "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, StatusDraft.Valid())
	require.False(t, Status("limbo").Valid())

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusReceived.Terminal())
	require.False(t, Status("limbo").Terminal())

	require.True(t, StatusReceived.receiving())
	require.True(t, StatusPartiallyReceived.receiving())
	require.False(t, StatusShipped.receiving())
}

func TestStatusTransitionErrorIs(t *testing.T) {
	err := &StatusTransitionError{From: StatusApproved, To: StatusCompleted}
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	require.Contains(t, err.Error(), "approved")
	require.Contains(t, err.Error(), "completed")
}

func TestOutstandingQuantity(t *testing.T) {
	po := PurchaseOrder{Items: []PurchaseOrderItem{
		{QuantityOrdered: 5, QuantityReceived: 2},
		{QuantityOrdered: 3},
	}}
	require.EqualValues(t, 6, po.OutstandingQuantity())
}
