package pnl

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispose(t *testing.T, e *Engine, txID string, n int, amount, price string) (*ConsumeResult, error) {
	t.Helper()
	return e.Consume(context.Background(), Disposal{
		Address:      testAddr,
		ContractID:   testAsset,
		TxID:         txID,
		DisposedAt:   day(n),
		Amount:       dec(t, amount),
		SalePriceUSD: dec(t, price),
	})
}

func TestConsume_FIFOOrderConsumesOldestLotOnly(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "10", "1.00")
	acquire(t, e, "tx-b", day(2), "10", "2.00")
	acquire(t, e, "tx-c", day(3), "10", "3.00")

	result, err := dispose(t, e, "tx-sell", 4, "4", "5.00")
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, "tx-a", result.Events[0].AcquireTxID)
	assert.True(t, result.Events[0].Amount.Equal(dec(t, "4")))

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.True(t, lots[0].Remaining.Equal(dec(t, "6")), "oldest lot partially consumed")
	assert.True(t, lots[1].Remaining.Equal(dec(t, "10")), "newer lots untouched")
	assert.True(t, lots[2].Remaining.Equal(dec(t, "10")))
}

func TestConsume_SplitAcrossLots(t *testing.T) {
	// Lot A: day 1, 30 units at 1.00. Lot B: day 2, 50 units at 2.00.
	// Dispose 60 at 3.00 -> 30 from A (+60.00), 30 from B (+30.00).
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "30", "1.00")
	acquire(t, e, "tx-b", day(2), "50", "2.00")

	result, err := dispose(t, e, "tx-sell", 3, "60", "3.00")
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	assert.Equal(t, "tx-a", result.Events[0].AcquireTxID)
	assert.True(t, result.Events[0].Amount.Equal(dec(t, "30")))
	assert.True(t, result.Events[0].PnLUSD.Equal(dec(t, "60.00")))
	assert.Equal(t, "tx-b", result.Events[1].AcquireTxID)
	assert.True(t, result.Events[1].Amount.Equal(dec(t, "30")))
	assert.True(t, result.Events[1].PnLUSD.Equal(dec(t, "30.00")))

	assert.True(t, result.Realized.Equal(dec(t, "90.00")))
	assert.True(t, result.Unsatisfied.IsZero())

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	assert.True(t, lots[0].Remaining.IsZero())
	assert.True(t, lots[1].Remaining.Equal(dec(t, "20")))
}

func TestConsume_ProfitFormula(t *testing.T) {
	tests := []struct {
		name   string
		cost   string
		sale   string
		amount string
		profit string
	}{
		{"gain", "1.25", "2.00", "8", "6.00"},
		{"loss", "2.00", "1.25", "8", "-6.00"},
		{"breakeven", "1.50", "1.50", "8", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			acquire(t, e, "tx-a", day(1), "10", tt.cost)

			result, err := dispose(t, e, "tx-sell", 2, tt.amount, tt.sale)
			require.NoError(t, err)
			require.Len(t, result.Events, 1)
			assert.True(t, result.Events[0].PnLUSD.Equal(dec(t, tt.profit)),
				"profit = (sale - cost) * amount, got %s", result.Events[0].PnLUSD)
		})
	}
}

func TestConsume_RemainingInvariant(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "25", "1.00")
	acquire(t, e, "tx-b", day(2), "25", "1.10")

	for i, amount := range []string{"7", "11", "13"} {
		_, err := dispose(t, e, "tx-sell-"+string(rune('a'+i)), 3+i, amount, "2.00")
		require.NoError(t, err)
	}

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	events, err := repo.RealizedEvents(context.Background(), testAddr, testAsset)
	require.NoError(t, err)

	for _, lot := range lots {
		assert.False(t, lot.Remaining.IsNegative())
		assert.True(t, lot.Remaining.LessThanOrEqual(lot.Amount))

		consumed := decimal.Zero
		for _, ev := range events {
			if ev.AcquireTxID == lot.TxID {
				consumed = consumed.Add(ev.Amount)
			}
		}
		assert.True(t, consumed.Add(lot.Remaining).Equal(lot.Amount),
			"lot %s: consumed %s + remaining %s != amount %s",
			lot.TxID, consumed, lot.Remaining, lot.Amount)
	}
}

func TestConsume_FullyConsumedLotIsNeverReconsumed(t *testing.T) {
	e, _ := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "10", "1.00")
	acquire(t, e, "tx-b", day(2), "10", "2.00")

	_, err := dispose(t, e, "tx-sell-1", 3, "10", "3.00")
	require.NoError(t, err)

	result, err := dispose(t, e, "tx-sell-2", 4, "5", "3.00")
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "tx-b", result.Events[0].AcquireTxID)
}

func TestConsume_InsufficientLots(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "10", "1.00")

	result, err := dispose(t, e, "tx-sell", 2, "25", "2.00")

	var insufficient *InsufficientLotsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Unsatisfied.Equal(dec(t, "15")))
	assert.True(t, insufficient.Consumed.Equal(dec(t, "10")))

	// The partial consumption is committed and returned, not rolled back.
	require.NotNil(t, result)
	require.Len(t, result.Events, 1)
	assert.True(t, result.Consumed.Equal(dec(t, "10")))
	assert.True(t, result.Realized.Equal(dec(t, "10.00")))
	assert.True(t, result.Unsatisfied.Equal(dec(t, "15")))

	lots, lotsErr := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, lotsErr)
	assert.True(t, lots[0].Remaining.IsZero())

	events, evErr := repo.RealizedEvents(context.Background(), testAddr, testAsset)
	require.NoError(t, evErr)
	require.Len(t, events, 1, "no event beyond what was actually available")
}

func TestConsume_ReplayIsNoOp(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "30", "1.00")
	acquire(t, e, "tx-b", day(2), "50", "2.00")

	first, err := dispose(t, e, "tx-sell", 3, "60", "3.00")
	require.NoError(t, err)

	replay, err := dispose(t, e, "tx-sell", 3, "60", "3.00")
	require.NoError(t, err)

	assert.True(t, replay.Realized.Equal(first.Realized))
	assert.True(t, replay.Consumed.Equal(first.Consumed))
	require.Len(t, replay.Events, len(first.Events))

	events, err := repo.RealizedEvents(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	assert.Len(t, events, 2, "replay must not create new events")

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	assert.True(t, lots[0].Remaining.IsZero())
	assert.True(t, lots[1].Remaining.Equal(dec(t, "20")), "replay must not decrement again")
}

func TestRecordAcquisition_Idempotent(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "30", "1.00")
	acquire(t, e, "tx-a", day(1), "30", "1.00")

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	assert.Len(t, lots, 1)
}

func TestRecordAcquisition_InvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.RecordAcquisition(context.Background(), Acquisition{
		Address:      testAddr,
		ContractID:   testAsset,
		TxID:         "tx-a",
		AcquiredAt:   day(1),
		Amount:       decimal.Zero,
		CostBasisUSD: dec(t, "1.00"),
	})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = e.RecordAcquisition(context.Background(), Acquisition{
		Address:      testAddr,
		ContractID:   testAsset,
		TxID:         "tx-b",
		AcquiredAt:   day(1),
		Amount:       dec(t, "10"),
		CostBasisUSD: dec(t, "-1.00"),
	})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestConsume_InvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "10", "1.00")

	_, err := dispose(t, e, "tx-sell", 2, "0", "1.00")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = dispose(t, e, "tx-sell", 2, "5", "-1.00")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = e.Consume(context.Background(), Disposal{
		Address:      "",
		ContractID:   testAsset,
		TxID:         "tx-sell",
		DisposedAt:   day(2),
		Amount:       dec(t, "5"),
		SalePriceUSD: dec(t, "1.00"),
	})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestConsume_TimestampTieBreaksOnTxID(t *testing.T) {
	e, _ := newTestEngine(t)
	// Same acquisition timestamp: order must fall back to tx id.
	acquire(t, e, "tx-b", day(1), "10", "2.00")
	acquire(t, e, "tx-a", day(1), "10", "1.00")

	result, err := dispose(t, e, "tx-sell", 2, "5", "3.00")
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "tx-a", result.Events[0].AcquireTxID)
}

func TestConsume_DeterministicReplayOfFullSequence(t *testing.T) {
	run := func() ([]RealizedEvent, []Lot) {
		e, repo := newTestEngine(t)
		acquire(t, e, "tx-a", day(1), "30", "1.00")
		acquire(t, e, "tx-b", day(2), "50", "2.00")
		acquire(t, e, "tx-c", day(4), "20", "1.50")
		_, err := dispose(t, e, "tx-sell-1", 3, "40", "3.00")
		require.NoError(t, err)
		_, err = dispose(t, e, "tx-sell-2", 5, "35", "2.50")
		require.NoError(t, err)

		events, err := repo.RealizedEvents(context.Background(), testAddr, testAsset)
		require.NoError(t, err)
		lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
		require.NoError(t, err)
		return events, lots
	}

	events1, lots1 := run()
	events2, lots2 := run()

	require.Len(t, events2, len(events1))
	for i := range events1 {
		assert.Equal(t, events1[i].AcquireTxID, events2[i].AcquireTxID)
		assert.True(t, events1[i].Amount.Equal(events2[i].Amount))
		assert.True(t, events1[i].PnLUSD.Equal(events2[i].PnLUSD))
	}
	require.Len(t, lots2, len(lots1))
	for i := range lots1 {
		assert.True(t, lots1[i].Remaining.Equal(lots2[i].Remaining))
	}
}

func TestConsume_ConcurrentDisposalsDoNotDoubleConsume(t *testing.T) {
	e, repo := newTestEngine(t)
	acquire(t, e, "tx-a", day(1), "100", "1.00")

	var wg sync.WaitGroup
	amounts := []string{"30", "40"}
	for i, amount := range amounts {
		wg.Add(1)
		go func(txID, amount string) {
			defer wg.Done()
			_, err := e.Consume(context.Background(), Disposal{
				Address:      testAddr,
				ContractID:   testAsset,
				TxID:         txID,
				DisposedAt:   day(2),
				Amount:       dec(t, amount),
				SalePriceUSD: dec(t, "2.00"),
			})
			assert.NoError(t, err)
		}("tx-sell-"+string(rune('a'+i)), amount)
	}
	wg.Wait()

	lots, err := repo.AllLots(context.Background(), testAddr, testAsset)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Remaining.Equal(dec(t, "30")),
		"30 + 40 disposed from 100 must leave exactly 30")
}
