package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/database"
	"github.com/stkpulse/stackwatch/internal/modules/pnl"
)

const walletAddr = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"

// fakeSource serves a fixed transaction history in pages.
type fakeSource struct {
	txs  []hiro.Tx
	err  error
}

func (f *fakeSource) Transactions(_ context.Context, _ string, offset int) (*hiro.TxPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	end := offset + hiro.PageSize
	if end > len(f.txs) {
		end = len(f.txs)
	}
	var results []hiro.Tx
	if offset < len(f.txs) {
		results = f.txs[offset:end]
	}
	return &hiro.TxPage{Results: results, Total: len(f.txs), Offset: offset, Limit: hiro.PageSize}, nil
}

// fixedPrices resolves every asset to one price.
type fixedPrices struct {
	price decimal.Decimal
}

func (f *fixedPrices) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fixedPrices) GetBulk(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		out[id] = f.price
	}
	return out, nil
}

func newTestDB(t *testing.T, name string, profile database.DatabaseProfile) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	service *Service
	repo    *Repository
	wallets *WalletRepository
	lots    *pnl.Repository
}

func newFixture(t *testing.T, source *fakeSource) *fixture {
	t.Helper()
	log := zerolog.Nop()

	ledgerDB := newTestDB(t, "ledger", database.ProfileLedger).Conn()
	portfolioDB := newTestDB(t, "portfolio", database.ProfileStandard).Conn()

	repo := NewRepository(ledgerDB, log)
	wallets := NewWalletRepository(portfolioDB, log)
	lots := pnl.NewRepository(ledgerDB, log)
	engine := pnl.NewEngine(lots, log)

	service := NewService(source, repo, wallets, engine, &fixedPrices{price: decimal.NewFromInt(2)}, nil, 500, log)
	return &fixture{service: service, repo: repo, wallets: wallets, lots: lots}
}

func transferIn(txID, amountMicro, at string) hiro.Tx {
	return hiro.Tx{
		TxID:             txID,
		BlockHeight:      100,
		BurnBlockTimeISO: at,
		TxType:           "token_transfer",
		SenderAddress:    "SP000000000000000000002Q6VF78",
		TokenTransfer: &hiro.TokenTransfer{
			RecipientAddress: walletAddr,
			SenderAddress:    "SP000000000000000000002Q6VF78",
			Amount:           amountMicro,
		},
	}
}

func transferOut(txID, amountMicro, at string) hiro.Tx {
	return hiro.Tx{
		TxID:             txID,
		BlockHeight:      101,
		BurnBlockTimeISO: at,
		TxType:           "token_transfer",
		SenderAddress:    walletAddr,
		TokenTransfer: &hiro.TokenTransfer{
			RecipientAddress: "SP000000000000000000002Q6VF78",
			SenderAddress:    walletAddr,
			Amount:           amountMicro,
		},
	}
}

func TestSync_IndexesAndFeedsLedger(t *testing.T) {
	source := &fakeSource{txs: []hiro.Tx{
		// Hiro returns newest first; the FIFO ledger orders by block time.
		transferOut("tx-out", "40000000", "2026-01-03T00:00:00Z"),
		transferIn("tx-in", "100000000", "2026-01-01T00:00:00Z"),
	}}
	f := newFixture(t, source)

	result, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 0, result.Errors)

	// 100 STX acquired, 40 disposed: one lot with 60 remaining and one
	// realized event, even though the API served the disposal first.
	lots, err := f.lots.OpenLots(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Remaining.Equal(decimal.NewFromInt(60)))

	realized, err := f.lots.RealizedEvents(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	assert.Len(t, realized, 1)

	// A re-sync sees only already-indexed transactions and must not
	// move the ledger.
	_, err = f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)

	lots, err = f.lots.OpenLots(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Remaining.Equal(decimal.NewFromInt(60)))

	realized, err = f.lots.RealizedEvents(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	assert.Len(t, realized, 1)

	wallet, err := f.wallets.Get(context.Background(), walletAddr)
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, "done", wallet.SyncStatus)
	assert.NotNil(t, wallet.LastSyncedAt)
}

func TestSync_Idempotent(t *testing.T) {
	source := &fakeSource{txs: []hiro.Tx{
		transferIn("tx-in", "100000000", "2026-01-01T00:00:00Z"),
	}}
	f := newFixture(t, source)

	_, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)
	_, err = f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)

	records, err := f.repo.Transactions(context.Background(), walletAddr, TxFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1, "re-sync must not duplicate history")

	lots, err := f.lots.OpenLots(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Remaining.Equal(decimal.NewFromInt(100)), "re-sync must not re-feed the ledger")
}

func TestSync_DisposalBeyondLotsIsTolerated(t *testing.T) {
	source := &fakeSource{txs: []hiro.Tx{
		transferOut("tx-out", "50000000", "2026-01-01T00:00:00Z"),
	}}
	f := newFixture(t, source)

	result, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err, "missing cost basis data must not fail the sync")
	assert.Equal(t, 1, result.Indexed)
}

func TestSync_MaxTxsBound(t *testing.T) {
	var txs []hiro.Tx
	for i := 0; i < 10; i++ {
		txs = append(txs, transferIn("tx-"+string(rune('a'+i)), "1000000", "2026-01-01T00:00:00Z"))
	}
	source := &fakeSource{txs: txs}
	f := newFixture(t, source)
	f.service.maxTxs = 3

	result, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Indexed)
}

func TestSync_SourceFailureMarksWalletErrored(t *testing.T) {
	source := &fakeSource{err: errors.New("api down")}
	f := newFixture(t, source)

	_, err := f.service.Sync(context.Background(), walletAddr)
	require.Error(t, err)

	wallet, werr := f.wallets.Get(context.Background(), walletAddr)
	require.NoError(t, werr)
	require.NotNil(t, wallet)
	assert.Equal(t, "error", wallet.SyncStatus)
}

func TestClassify(t *testing.T) {
	call := func(fn string) *hiro.Tx {
		return &hiro.Tx{
			TxType:       "contract_call",
			ContractCall: &hiro.ContractCall{ContractID: "SP1.amm", FunctionName: fn},
		}
	}

	tests := []struct {
		name string
		tx   *hiro.Tx
		want TxType
	}{
		{"incoming transfer", &hiro.Tx{TxType: "token_transfer", TokenTransfer: &hiro.TokenTransfer{RecipientAddress: walletAddr}}, TxTokenTransferIn},
		{"outgoing transfer", &hiro.Tx{TxType: "token_transfer", TokenTransfer: &hiro.TokenTransfer{RecipientAddress: "SP1OTHER"}}, TxTokenTransferOut},
		{"swap call", call("swap-x-for-y"), TxSwap},
		{"mint call", call("mint-token"), TxMint},
		{"burn call", call("burn-token"), TxBurn},
		{"stacking call", call("stack-aggregation-commit"), TxStackingReward},
		{"plain call", call("transfer-memo"), TxContractCall},
		{"coinbase", &hiro.Tx{TxType: "coinbase"}, TxContractCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.tx, walletAddr))
		})
	}
}

func TestDirection(t *testing.T) {
	assert.Equal(t, "in", Direction(TxTokenTransferIn))
	assert.Equal(t, "in", Direction(TxStackingReward))
	assert.Equal(t, "out", Direction(TxTokenTransferOut))
	assert.Equal(t, "out", Direction(TxBurn))
	assert.Equal(t, "neutral", Direction(TxSwap))
	assert.Equal(t, "neutral", Direction(TxContractCall))
}

func TestAssetActivity(t *testing.T) {
	source := &fakeSource{txs: []hiro.Tx{
		transferOut("tx-out", "30000000", "2026-01-02T00:00:00Z"),
		transferIn("tx-in", "100000000", "2026-01-01T00:00:00Z"),
	}}
	f := newFixture(t, source)

	_, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)

	stats, err := f.repo.AssetActivity(context.Background(), walletAddr, "stx")
	require.NoError(t, err)
	assert.Equal(t, "STX", stats.Symbol)
	assert.True(t, stats.TotalBought.Equal(decimal.NewFromInt(100)))
	assert.True(t, stats.TotalSold.Equal(decimal.NewFromInt(30)))
}

func TestTransactions_FilterAndPagination(t *testing.T) {
	source := &fakeSource{txs: []hiro.Tx{
		transferOut("tx-out", "30000000", "2026-01-02T00:00:00Z"),
		transferIn("tx-in", "100000000", "2026-01-01T00:00:00Z"),
	}}
	f := newFixture(t, source)

	_, err := f.service.Sync(context.Background(), walletAddr)
	require.NoError(t, err)

	all, err := f.repo.Transactions(context.Background(), walletAddr, TxFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx-out", all[0].TxID, "newest first")

	outs, err := f.repo.Transactions(context.Background(), walletAddr, TxFilter{Type: TxTokenTransferOut})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "tx-out", outs[0].TxID)

	total, err := f.repo.CountTransactions(context.Background(), walletAddr, TxFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	page, err := f.repo.Transactions(context.Background(), walletAddr, TxFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "tx-in", page[0].TxID)
}
