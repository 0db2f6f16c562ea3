package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stkpulse/stackwatch/internal/clients/hiro"
	"github.com/stkpulse/stackwatch/internal/database"
)

const (
	testUser    = "user-1"
	watchedAddr = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
)

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

func newTestEngine(t *testing.T, dailyLimit int) (*Engine, *Repository) {
	t.Helper()
	log := zerolog.Nop()
	repo := NewRepository(newTestDB(t, "portfolio", database.ProfileStandard).Conn(), log)
	limiter := NewRateLimiter(repo, dailyLimit, log)
	return NewEngine(repo, limiter, nil, nil, nil, log), repo
}

func createAlert(t *testing.T, repo *Repository, condition Condition, cooldownMinutes int) *Alert {
	t.Helper()
	alert := &Alert{
		UserID:          testUser,
		Name:            "test alert",
		Condition:       condition,
		Notify:          Notification{Webhook: "https://example.com/hook", InApp: true},
		CooldownMinutes: cooldownMinutes,
		IsActive:        true,
	}
	require.NoError(t, repo.Create(context.Background(), alert))
	return alert
}

func transferEvent(sender, recipient, amountMicro string) hiro.ChainEvent {
	return hiro.ChainEvent{
		Type:          "transaction",
		TxID:          "0xabc",
		BlockHeight:   500,
		TxType:        "token_transfer",
		SenderAddress: sender,
		Tx: &hiro.Tx{
			TxID:   "0xabc",
			TxType: "token_transfer",
			TokenTransfer: &hiro.TokenTransfer{
				SenderAddress:    sender,
				RecipientAddress: recipient,
				Amount:           amountMicro,
			},
		},
	}
}

func TestEvaluateChainEvent_WalletActivity(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	alert := createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "1000000"))
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, alert.ID, triggered[0].AlertID)

	history, err := repo.History(context.Background(), alert.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "pending", history[0].WebhookStatus)

	stored, err := repo.Get(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastTriggeredAt)
}

func TestEvaluateChainEvent_NoMatchForOtherWallet(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent("SP1OTHER", "SP2OTHER", "1000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestEvaluateChainEvent_TokenTransferAmountThreshold(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	minAmount := decimal.NewFromInt(100)
	createAlert(t, repo, Condition{
		Type: CondTokenTransfer, Asset: "stx", Direction: "any", AmountGTE: &minAmount,
	}, 0)

	// 50 STX is below the 100 STX threshold.
	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "50000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)

	triggered, err = engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "150000000"))
	require.NoError(t, err)
	assert.Len(t, triggered, 1)
}

func TestEvaluateChainEvent_ContractCall(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	createAlert(t, repo, Condition{
		Type: CondContractCall, ContractID: "SP1.amm", FunctionName: "swap-x-for-y",
	}, 0)

	event := hiro.ChainEvent{
		Type:   "transaction",
		TxID:   "0xcall",
		TxType: "contract_call",
		Tx: &hiro.Tx{
			TxType:       "contract_call",
			ContractCall: &hiro.ContractCall{ContractID: "SP1.amm", FunctionName: "swap-x-for-y"},
		},
	}
	triggered, err := engine.EvaluateChainEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, triggered, 1)

	event.Tx.ContractCall.FunctionName = "add-liquidity"
	triggered, err = engine.EvaluateChainEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestEvaluateChainEvent_CooldownSuppressesRepeat(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 30)

	event := transferEvent(watchedAddr, "SP1OTHER", "1000000")

	triggered, err := engine.EvaluateChainEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, triggered, 1)

	triggered, err = engine.EvaluateChainEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, triggered, "second trigger inside the cooldown window is suppressed")
}

func TestEvaluateChainEvent_RateLimit(t *testing.T) {
	engine, repo := newTestEngine(t, 2)
	createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	event := transferEvent(watchedAddr, "SP1OTHER", "1000000")

	for i := 0; i < 2; i++ {
		triggered, err := engine.EvaluateChainEvent(context.Background(), event)
		require.NoError(t, err)
		require.Len(t, triggered, 1)
	}

	triggered, err := engine.EvaluateChainEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, triggered, "third trigger exceeds the daily cap")

	alert, err := repo.ListByUser(context.Background(), testUser)
	require.NoError(t, err)
	history, err := repo.History(context.Background(), alert[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2, "suppressed triggers leave no history")
}

func TestEvaluatePrice_Threshold(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	threshold := decimal.NewFromInt(70000)
	alert := createAlert(t, repo, Condition{
		Type: CondPriceThreshold, Asset: "stx", Operator: "gt", PriceUSD: &threshold,
	}, 0)
	// A second asset's threshold must not fire.
	createAlert(t, repo, Condition{
		Type:     CondPriceThreshold,
		Asset:    "SP102V8P0F7JX67ARQ77WEA3D3CFB5XW39REDT0AM.token-alex",
		Operator: "gt", PriceUSD: &threshold,
	}, 0)

	triggered, err := engine.EvaluatePrice(context.Background(), "stx", decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.Empty(t, triggered)

	triggered, err = engine.EvaluatePrice(context.Background(), "stx", decimal.NewFromInt(80000))
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, alert.ID, triggered[0].AlertID)
}

func nftSaleEvent(contractID, priceMicro string) hiro.ChainEvent {
	return hiro.ChainEvent{
		Type:        "transaction",
		TxID:        "0xsale",
		BlockHeight: 600,
		TxType:      "contract_call",
		Tx: &hiro.Tx{
			TxType: "contract_call",
			ContractCall: &hiro.ContractCall{
				ContractID:   contractID,
				FunctionName: "buy-item",
				FunctionArgs: []hiro.FunctionArg{
					{Name: "price", Type: "uint", Repr: "u" + priceMicro},
				},
			},
		},
	}
}

func TestEvaluateChainEvent_NFTSale(t *testing.T) {
	const collection = "SP1V0CWVD3TSQ3QT.gamma.io-punks"

	engine, repo := newTestEngine(t, 100)
	floor := decimal.NewFromInt(100)
	createAlert(t, repo, Condition{
		Type: CondNFTSale, CollectionID: collection, PriceGTE: &floor,
	}, 0)

	// 50 STX sale is below the 100 STX floor.
	triggered, err := engine.EvaluateChainEvent(context.Background(),
		nftSaleEvent(collection, "50000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)

	triggered, err = engine.EvaluateChainEvent(context.Background(),
		nftSaleEvent(collection, "150000000"))
	require.NoError(t, err)
	assert.Len(t, triggered, 1)

	// Another collection on the same marketplace must not fire.
	triggered, err = engine.EvaluateChainEvent(context.Background(),
		nftSaleEvent("SP1V0CWVD3TSQ3QT.gamma.io-apes", "150000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)

	// A call outside the known marketplaces is not a sale.
	triggered, err = engine.EvaluateChainEvent(context.Background(),
		nftSaleEvent("SP1.amm", "150000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestEvaluateStackingCycle(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	alert := createAlert(t, repo, Condition{Type: CondStackingCycle, CycleEvent: "start"}, 0)

	triggered, err := engine.EvaluateStackingCycle(context.Background(),
		CycleEvent{CycleNumber: 101, Phase: "end", BlockHeight: 700})
	require.NoError(t, err)
	assert.Empty(t, triggered, "an end transition must not fire a start alert")

	triggered, err = engine.EvaluateStackingCycle(context.Background(),
		CycleEvent{CycleNumber: 102, Phase: "start", BlockHeight: 700})
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, alert.ID, triggered[0].AlertID)
	assert.Equal(t, int64(700), triggered[0].BlockHeight)
}

// fakePoxSource serves a scripted sequence of cycle observations.
type fakePoxSource struct {
	cycles []hiro.PoxCycle
	calls  int
}

func (f *fakePoxSource) CurrentPoxCycle(context.Context) (*hiro.PoxCycle, error) {
	c := f.cycles[f.calls]
	if f.calls < len(f.cycles)-1 {
		f.calls++
	}
	return &c, nil
}

func TestStackingCycleJob_FiresOnTransition(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	startAlert := createAlert(t, repo, Condition{Type: CondStackingCycle, CycleEvent: "start"}, 0)
	endAlert := createAlert(t, repo, Condition{Type: CondStackingCycle, CycleEvent: "end"}, 0)

	source := &fakePoxSource{cycles: []hiro.PoxCycle{
		{CycleNumber: 100, BlockHeight: 1000},
		{CycleNumber: 100, BlockHeight: 1010},
		{CycleNumber: 101, BlockHeight: 1050},
	}}
	job := NewStackingCycleJob(source, engine, zerolog.Nop())

	// Baseline, then an unchanged cycle: nothing fires.
	require.NoError(t, job.Run())
	require.NoError(t, job.Run())
	for _, a := range []*Alert{startAlert, endAlert} {
		history, err := repo.History(context.Background(), a.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	}

	// The roll to cycle 101 fires both phases once.
	require.NoError(t, job.Run())
	for _, a := range []*Alert{startAlert, endAlert} {
		history, err := repo.History(context.Background(), a.ID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	}

	// A repeated observation of cycle 101 stays quiet.
	require.NoError(t, job.Run())
	history, err := repo.History(context.Background(), startAlert.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// fakeEmail records deliveries without touching the network.
type fakeEmail struct {
	recipients []string
}

func (f *fakeEmail) Deliver(_ context.Context, _ *Event, recipient string) {
	f.recipients = append(f.recipients, recipient)
}

func TestTrigger_DeliversEmail(t *testing.T) {
	log := zerolog.Nop()
	repo := NewRepository(newTestDB(t, "portfolio", database.ProfileStandard).Conn(), log)
	limiter := NewRateLimiter(repo, 100, log)
	email := &fakeEmail{}
	engine := NewEngine(repo, limiter, nil, email, nil, log)

	alert := &Alert{
		UserID:    testUser,
		Name:      "email alert",
		Condition: Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr},
		Notify:    Notification{Email: "ops@example.com"},
		IsActive:  true,
	}
	require.NoError(t, repo.Create(context.Background(), alert))

	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "1000000"))
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, []string{"ops@example.com"}, email.recipients)
}

func TestTrigger_EmailWithoutSenderMarksFailed(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	alert := &Alert{
		UserID:    testUser,
		Name:      "email alert",
		Condition: Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr},
		Notify:    Notification{Email: "ops@example.com"},
		IsActive:  true,
	}
	require.NoError(t, repo.Create(context.Background(), alert))

	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "1000000"))
	require.NoError(t, err)
	require.Len(t, triggered, 1)

	history, err := repo.History(context.Background(), alert.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].EmailStatus)
}

func TestEvaluateChainEvent_InactiveAlertIgnored(t *testing.T) {
	engine, repo := newTestEngine(t, 100)
	alert := createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	alert.IsActive = false
	updated, err := repo.Update(context.Background(), alert)
	require.NoError(t, err)
	require.True(t, updated)

	triggered, err := engine.EvaluateChainEvent(context.Background(),
		transferEvent(watchedAddr, "SP1OTHER", "1000000"))
	require.NoError(t, err)
	assert.Empty(t, triggered)
}

func TestRepository_CRUD(t *testing.T) {
	_, repo := newTestEngine(t, 100)

	alert := createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 5)
	require.NotEmpty(t, alert.ID)

	loaded, err := repo.Get(context.Background(), alert.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, CondWalletActivity, loaded.Condition.Type)
	assert.Equal(t, watchedAddr, loaded.Condition.WatchedAddress)
	assert.Equal(t, 5, loaded.CooldownMinutes)
	assert.True(t, loaded.IsActive)

	deleted, err := repo.Delete(context.Background(), alert.ID, "wrong-user")
	require.NoError(t, err)
	assert.False(t, deleted, "only the owner may delete")

	deleted, err = repo.Delete(context.Background(), alert.ID, testUser)
	require.NoError(t, err)
	assert.True(t, deleted)

	loaded, err = repo.Get(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCleanupJob_RemovesOldHistory(t *testing.T) {
	_, repo := newTestEngine(t, 100)
	alert := createAlert(t, repo, Condition{Type: CondWalletActivity, WatchedAddress: watchedAddr}, 0)

	_, err := repo.RecordTrigger(context.Background(), &Event{AlertID: alert.ID, AlertName: alert.Name})
	require.NoError(t, err)

	// Nothing is old enough yet.
	removed, err := repo.DeleteHistoryOlderThan(context.Background(), time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A future cutoff removes everything.
	removed, err = repo.DeleteHistoryOlderThan(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
