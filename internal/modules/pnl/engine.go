package pnl

import (
	"context"
	"database/sql"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/stkpulse/stackwatch/internal/database"
	"github.com/stkpulse/stackwatch/internal/metrics"
)

// Engine applies disposals to the lot ledger using strict FIFO order.
//
// Correctness depends on lots for one (address, contract) pair being read
// and mutated as a single atomic unit per disposal. The engine enforces
// at-most-one in-flight consumption per pair with a keyed mutex, and runs
// the whole read-decrement-insert sequence inside one SQL transaction.
// Acquisitions and aggregation reads for other pairs proceed in parallel.
type Engine struct {
	repo *Repository
	log  zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // (address, contract) -> consumption lock
}

// NewEngine creates a new FIFO consumption engine over the lot ledger.
func NewEngine(repo *Repository, log zerolog.Logger) *Engine {
	return &Engine{
		repo:  repo,
		log:   log.With().Str("component", "fifo_engine").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

// RecordAcquisition appends a lot to the ledger. See Repository.RecordAcquisition.
func (e *Engine) RecordAcquisition(ctx context.Context, acq Acquisition) error {
	return e.repo.RecordAcquisition(ctx, acq)
}

// pairLock returns the mutex guarding consumptions for one (address,
// contract) pair, creating it on first use. Locks are never removed; the
// set of actively traded pairs per process is small.
func (e *Engine) pairLock(address, contractID string) *sync.Mutex {
	key := address + "\x00" + contractID
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// Consume applies one disposal to the open lots for (address, contract),
// oldest lot first, and records one realized event per lot touched.
//
// The same sequence of acquisitions and disposals, replayed in order,
// always produces identical realized events and lot states: lot order is
// total (acquired_at, then tx id), arithmetic is exact decimal, and
// replayed disposals are detected via the realized-event identity and
// skipped.
//
// When open lots cannot cover the full amount, the available portion is
// consumed and committed, and Consume returns the partial result together
// with an *InsufficientLotsError. Callers must treat that error as a
// data-quality signal attached to a valid result, not as a failure.
func (e *Engine) Consume(ctx context.Context, d Disposal) (*ConsumeResult, error) {
	if d.Address == "" || d.ContractID == "" || d.TxID == "" {
		return nil, invalidInputf("disposal identity must be non-empty")
	}
	if !d.Amount.IsPositive() {
		return nil, invalidInputf("disposal amount must be positive, got %s", d.Amount)
	}
	if d.SalePriceUSD.IsNegative() {
		return nil, invalidInputf("sale price must be non-negative, got %s", d.SalePriceUSD)
	}

	lock := e.pairLock(d.Address, d.ContractID)
	lock.Lock()
	defer lock.Unlock()

	result := &ConsumeResult{
		Realized:    decimal.Zero,
		Consumed:    decimal.Zero,
		Unsatisfied: decimal.Zero,
	}

	err := database.WithTransaction(e.repo.DB(), func(tx *sql.Tx) error {
		return e.consumeTx(ctx, tx, d, result)
	})
	if err != nil {
		return nil, err
	}

	metrics.ConsumptionsTotal.Inc()

	if result.Unsatisfied.IsPositive() {
		metrics.InsufficientLotsTotal.Inc()
		e.log.Warn().
			Str("address", d.Address).
			Str("contract", d.ContractID).
			Str("tx", d.TxID).
			Str("requested", d.Amount.String()).
			Str("unsatisfied", result.Unsatisfied.String()).
			Msg("Disposal exceeds open lot inventory")
		return result, &InsufficientLotsError{
			Address:     d.Address,
			ContractID:  d.ContractID,
			Requested:   d.Amount,
			Consumed:    result.Consumed,
			Unsatisfied: result.Unsatisfied,
		}
	}

	return result, nil
}

// consumeTx runs the FIFO selection loop inside the consumption transaction.
func (e *Engine) consumeTx(ctx context.Context, tx *sql.Tx, d Disposal, result *ConsumeResult) error {
	// A replayed disposal must not double-count. Load whatever this
	// disposal already realized, credit it against the outstanding
	// amount, and never touch those lots again.
	prior, err := e.repo.eventsForDisposal(ctx, tx, d.Address, d.ContractID, d.TxID)
	if err != nil {
		return err
	}

	outstanding := d.Amount
	touched := make(map[string]bool, len(prior))
	for _, ev := range prior {
		outstanding = outstanding.Sub(ev.Amount)
		result.Realized = result.Realized.Add(ev.PnLUSD)
		result.Consumed = result.Consumed.Add(ev.Amount)
		result.Events = append(result.Events, ev)
		touched[ev.AcquireTxID] = true
	}

	if !outstanding.IsPositive() {
		// Full replay: nothing left to consume.
		return nil
	}

	lots, err := e.repo.openLots(ctx, tx, d.Address, d.ContractID)
	if err != nil {
		return err
	}

	for _, lot := range lots {
		if !outstanding.IsPositive() {
			break
		}
		if touched[lot.TxID] {
			continue
		}

		consumed := decimal.Min(lot.Remaining, outstanding)
		profit := d.SalePriceUSD.Sub(lot.CostBasisUSD).Mul(consumed)

		ev := RealizedEvent{
			Address:      d.Address,
			ContractID:   d.ContractID,
			DisposeTxID:  d.TxID,
			AcquireTxID:  lot.TxID,
			DisposedAt:   d.DisposedAt,
			Amount:       consumed,
			CostBasisUSD: lot.CostBasisUSD,
			SalePriceUSD: d.SalePriceUSD,
			PnLUSD:       profit,
		}

		inserted, err := e.repo.insertRealized(tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			// Raced with a concurrent replay of the same disposal;
			// the pair lock makes this unreachable in-process, but a
			// second process sharing the ledger could hit it.
			continue
		}

		if err := e.repo.decrementLot(tx, lot.ID, lot.Remaining.Sub(consumed)); err != nil {
			return err
		}

		outstanding = outstanding.Sub(consumed)
		result.Realized = result.Realized.Add(profit)
		result.Consumed = result.Consumed.Add(consumed)
		result.Events = append(result.Events, ev)
	}

	if outstanding.IsPositive() {
		result.Unsatisfied = outstanding
	}

	return nil
}
