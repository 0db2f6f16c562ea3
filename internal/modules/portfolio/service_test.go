package portfolio

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
	walletAddr   = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	sbtcContract = "SM3VDXK3WZZSA84XXFKAFAF15NNZX32CTSG82JFQ4.sbtc-token"
)

type fakeBalances struct {
	balances *hiro.Balances
	err      error
}

func (f *fakeBalances) Balances(context.Context, string) (*hiro.Balances, error) {
	return f.balances, f.err
}

type mapPrices struct {
	prices map[string]string
}

func (m *mapPrices) GetPrice(ctx context.Context, contractID string) (decimal.Decimal, error) {
	out, err := m.GetBulk(ctx, []string{contractID})
	if err != nil {
		return decimal.Zero, err
	}
	return out[contractID], nil
}

func (m *mapPrices) GetBulk(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, id := range ids {
		if s, ok := m.prices[id]; ok {
			out[id] = decimal.RequireFromString(s)
		}
	}
	return out, nil
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop())
}

func newTestService(t *testing.T, balances *hiro.Balances, priceMap map[string]string) (*Service, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	svc := NewService(&fakeBalances{balances: balances}, &mapPrices{prices: priceMap}, repo, nil, zerolog.Nop())
	return svc, repo
}

func TestSnapshot_ValuesBalances(t *testing.T) {
	balances := &hiro.Balances{
		STX: hiro.STXBalance{Balance: "100000000"}, // 100 STX
		FungibleTokens: map[string]hiro.FungibleBalance{
			sbtcContract + "::sbtc-token": {Balance: "50000000"}, // 0.5 sBTC, 8 decimals
		},
	}
	svc, _ := newTestService(t, balances, map[string]string{
		"stx":        "2.00",
		sbtcContract: "60000",
	})

	snapshot, err := svc.Snapshot(context.Background(), walletAddr)
	require.NoError(t, err)

	// 100*2.00 + 0.5*60000 = 30200
	assert.True(t, snapshot.TotalValueUSD.Equal(decimal.RequireFromString("30200")),
		"got %s", snapshot.TotalValueUSD)
	require.Len(t, snapshot.Tokens, 2)
	assert.Equal(t, "STX", snapshot.Tokens[0].Symbol)
	assert.Equal(t, "sBTC", snapshot.Tokens[1].Symbol)
	assert.True(t, snapshot.Tokens[1].Balance.Equal(decimal.RequireFromString("0.5")))
}

func TestSnapshot_DropsZeroValueTokensButKeepsNative(t *testing.T) {
	balances := &hiro.Balances{
		STX: hiro.STXBalance{Balance: "0"},
		FungibleTokens: map[string]hiro.FungibleBalance{
			"SP000000000000000000002Q6VF78.dust-token::dust": {Balance: "123"},
		},
	}
	svc, _ := newTestService(t, balances, map[string]string{"stx": "2.00"})

	snapshot, err := svc.Snapshot(context.Background(), walletAddr)
	require.NoError(t, err)

	require.Len(t, snapshot.Tokens, 1, "unpriced SIP-010 dust is dropped")
	assert.Equal(t, "STX", snapshot.Tokens[0].Symbol)
}

func TestSnapshot_PersistsValueSample(t *testing.T) {
	balances := &hiro.Balances{STX: hiro.STXBalance{Balance: "100000000"}}
	svc, repo := newTestService(t, balances, map[string]string{"stx": "2.00"})

	_, err := svc.Snapshot(context.Background(), walletAddr)
	require.NoError(t, err)

	points, err := repo.History(context.Background(), walletAddr, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].ValueUSD.Equal(decimal.RequireFromString("200")))
}

func TestValueHistory_ChangeStats(t *testing.T) {
	svc, repo := newTestService(t, &hiro.Balances{}, nil)

	base := time.Now().UTC().Add(-72 * time.Hour)
	for i, value := range []string{"100", "110", "120", "150"} {
		require.NoError(t, repo.SaveSnapshot(context.Background(), walletAddr,
			base.Add(time.Duration(i)*24*time.Hour), decimal.RequireFromString(value)))
	}

	history, err := svc.ValueHistory(context.Background(), walletAddr, "30d")
	require.NoError(t, err)

	require.Len(t, history.Points, 4)
	assert.True(t, history.StartValue.Equal(decimal.RequireFromString("100")))
	assert.True(t, history.EndValue.Equal(decimal.RequireFromString("150")))
	assert.True(t, history.ChangeUSD.Equal(decimal.RequireFromString("50")))
	assert.True(t, history.ChangePct.Equal(decimal.RequireFromString("50")))
	assert.Greater(t, history.AnnualizedVolatility, 0.0)
}

func TestValueHistory_WindowBounds(t *testing.T) {
	svc, repo := newTestService(t, &hiro.Balances{}, nil)

	now := time.Now().UTC()
	require.NoError(t, repo.SaveSnapshot(context.Background(), walletAddr, now.Add(-40*24*time.Hour), decimal.NewFromInt(1)))
	require.NoError(t, repo.SaveSnapshot(context.Background(), walletAddr, now.Add(-10*24*time.Hour), decimal.NewFromInt(2)))

	short, err := svc.ValueHistory(context.Background(), walletAddr, "30d")
	require.NoError(t, err)
	assert.Len(t, short.Points, 1)

	long, err := svc.ValueHistory(context.Background(), walletAddr, "90d")
	require.NoError(t, err)
	assert.Len(t, long.Points, 2)
}

func TestValueHistory_UnknownWindow(t *testing.T) {
	svc, _ := newTestService(t, &hiro.Balances{}, nil)

	_, err := svc.ValueHistory(context.Background(), walletAddr, "7d")
	assert.ErrorIs(t, err, ErrUnknownWindow)
}

func TestValueHistory_EmptySeries(t *testing.T) {
	svc, _ := newTestService(t, &hiro.Balances{}, nil)

	history, err := svc.ValueHistory(context.Background(), walletAddr, "30d")
	require.NoError(t, err)

	assert.Empty(t, history.Points)
	assert.True(t, history.StartValue.IsZero())
	assert.True(t, history.ChangePct.IsZero())
	assert.Zero(t, history.AnnualizedVolatility)
}

func TestAnnualizedVolatility_FlatSeriesIsZero(t *testing.T) {
	base := time.Now().UTC()
	var points []HistoryPoint
	for i := 0; i < 5; i++ {
		points = append(points, HistoryPoint{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			ValueUSD:  decimal.NewFromInt(100),
		})
	}
	assert.Zero(t, annualizedVolatility(points))
}
