package inventory_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/inventory/inventorytest"
	"github.com/iliyamo/event-seat-bot/internal/model"
)

func fresh(child, adult int) model.Counters {
	return model.Counters{ChildTotal: child, ChildFree: child, AdultTotal: adult, AdultFree: adult}
}

func TestReserveMovesFreeToPending(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(5, 10))

	after, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{Child: 2, Adult: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, after.ChildFree)
	assert.Equal(t, 2, after.ChildPending)
	assert.Equal(t, 9, after.AdultFree)
	assert.Equal(t, 1, after.AdultPending)
	assert.Equal(t, after, k.DB.Get(1))
	assert.Equal(t, after, k.Sheet.Get(1))
}

func TestReserveInsufficientChangesNothing(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(1, 10))

	_, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{Child: 2, Adult: 1})
	assert.ErrorIs(t, err, inventory.ErrInsufficient)
	assert.Equal(t, fresh(1, 10), k.DB.Get(1))
	assert.Equal(t, 0, k.DB.ApplyCount())
}

func TestReserveThenReleaseRestoresCounters(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(5, 5))
	ctx := context.Background()
	seats := model.Seats{Child: 2, Adult: 3}

	_, err := k.Ledger.Reserve(ctx, 1, seats)
	require.NoError(t, err)
	after, err := k.Ledger.Settle(ctx, 1, seats, inventory.OutcomeRelease)
	require.NoError(t, err)
	assert.Equal(t, fresh(5, 5), after)
}

func TestApproveConsumesPending(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(5, 5))
	ctx := context.Background()
	seats := model.Seats{Child: 1, Adult: 2}

	_, err := k.Ledger.Reserve(ctx, 1, seats)
	require.NoError(t, err)
	after, err := k.Ledger.Settle(ctx, 1, seats, inventory.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.Counters{ChildTotal: 5, ChildFree: 4, AdultTotal: 5, AdultFree: 3}, after)

	after, err = k.Ledger.ReturnConsumed(ctx, 1, seats)
	require.NoError(t, err)
	assert.Equal(t, fresh(5, 5), after)
}

func TestDoubleReleaseIsRejected(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(5, 5))
	ctx := context.Background()
	seats := model.Seats{Child: 2}

	_, err := k.Ledger.Reserve(ctx, 1, seats)
	require.NoError(t, err)
	_, err = k.Ledger.Settle(ctx, 1, seats, inventory.OutcomeRelease)
	require.NoError(t, err)
	_, err = k.Ledger.Settle(ctx, 1, seats, inventory.OutcomeRelease)
	assert.ErrorIs(t, err, inventory.ErrOutOfBounds)
	assert.Equal(t, fresh(5, 5), k.DB.Get(1))
}

func TestZeroSeatsIsNoop(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(0, 0))

	after, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{})
	require.NoError(t, err)
	assert.Equal(t, fresh(0, 0), after)
	assert.Equal(t, 0, k.DB.ApplyCount())
}

func TestNegativeSeatsRejected(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(3, 3))

	_, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{Child: -1})
	assert.ErrorIs(t, err, inventory.ErrOutOfBounds)
}

func TestConcurrentReserveOfLastSeat(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(1, 0))

	const n = 20
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{Child: 1})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficient)
	}
	assert.Equal(t, 1, ok)
	c := k.DB.Get(1)
	assert.Equal(t, 0, c.ChildFree)
	assert.Equal(t, 1, c.ChildPending)
}

func TestGuardRejectsForeignWriter(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(1, 0))
	// Another process takes the seat after our read.
	k.DB.BeforeApply = func(rows map[uint64]model.Counters) {
		c := rows[1]
		c.ChildFree, c.ChildPending = 0, 1
		rows[1] = c
	}

	_, err := k.Ledger.Reserve(context.Background(), 1, model.Seats{Child: 1})
	assert.ErrorIs(t, err, inventory.ErrInsufficient)
	assert.Equal(t, 1, k.DB.Get(1).ChildPending)
}

func TestRandomOperationsStayInBounds(t *testing.T) {
	k := inventorytest.NewKit()
	k.Seed(1, fresh(4, 6))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var held []model.Seats
	for i := 0; i < 500; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(held) == 0:
			s := model.Seats{Child: rng.Intn(3), Adult: rng.Intn(3)}
			if _, err := k.Ledger.Reserve(ctx, 1, s); err == nil {
				held = append(held, s)
			} else {
				require.ErrorIs(t, err, inventory.ErrInsufficient)
			}
		default:
			j := rng.Intn(len(held))
			s := held[j]
			held = append(held[:j], held[j+1:]...)
			outcome := inventory.OutcomeRelease
			if op == 2 {
				outcome = inventory.OutcomeApprove
			}
			_, err := k.Ledger.Settle(ctx, 1, s, outcome)
			require.NoError(t, err)
			if outcome == inventory.OutcomeApprove {
				_, err = k.Ledger.ReturnConsumed(ctx, 1, s)
				require.NoError(t, err)
			}
		}
		require.True(t, k.DB.Get(1).Valid(), "step %d: %+v", i, k.DB.Get(1))
		require.Equal(t, k.DB.Get(1), k.Sheet.Get(1))
	}
}

func TestAvailabilityReadsDatabase(t *testing.T) {
	k := inventorytest.NewKit()
	k.DB.Put(1, fresh(2, 2))
	k.Sheet.Put(1, fresh(9, 9))

	c, err := k.Ledger.Availability(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, fresh(2, 2), c)
}

func TestUnknownScheduleIsStoreError(t *testing.T) {
	k := inventorytest.NewKit()

	_, err := k.Ledger.Reserve(context.Background(), 99, model.Seats{Child: 1})
	var serr *inventory.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, uint64(99), serr.ScheduleID)
}
