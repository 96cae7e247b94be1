package portfolio

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-assistant/internal/exchange"
)

type fakeGateway struct {
	prices     map[string]float64
	history    map[string][]exchange.Trade
	historyErr error
	balances   map[string]float64
	balanceErr error
}

func (f *fakeGateway) GetPrice(ctx context.Context, pair exchange.Pair) (float64, error) {
	if p, ok := f.prices[pair.String()]; ok {
		return p, nil
	}
	return 0, exchange.ErrUnavailable
}

func (f *fakeGateway) GetTradeHistory(ctx context.Context, pair exchange.Pair) ([]exchange.Trade, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[pair.String()], nil
}

func (f *fakeGateway) GetBalance(ctx context.Context, assets ...string) (map[string]float64, error) {
	return f.balances, f.balanceErr
}

var (
	adaEUR = exchange.Pair{Base: "ADA", Quote: "EUR"}
	cqtEUR = exchange.Pair{Base: "CQT", Quote: "EUR"}
)

func TestBuyPrice_NewestBuyWins(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		prices: map[string]float64{"ADAEUR": 0.5},
		history: map[string][]exchange.Trade{"ADAEUR": {
			{Pair: "ADAEUR", Side: exchange.SideSell, Price: 0.6, Timestamp: now},
			{Pair: "ADAEUR", Side: exchange.SideBuy, Price: 0.42, Timestamp: now.Add(-time.Hour)},
			{Pair: "ADAEUR", Side: exchange.SideBuy, Price: 0.30, Timestamp: now.Add(-2 * time.Hour)},
		}},
	}

	price, err := BuyPrice(context.Background(), gw, adaEUR)
	require.NoError(t, err)
	assert.Equal(t, 0.42, price)
}

func TestBuyPrice_FallsBackToMarket(t *testing.T) {
	gw := &fakeGateway{prices: map[string]float64{"ADAEUR": 0.5}}

	price, err := BuyPrice(context.Background(), gw, adaEUR)
	require.NoError(t, err)
	assert.Equal(t, 0.5, price)
}

func TestBuyPrice_HistoryUnavailable(t *testing.T) {
	gw := &fakeGateway{prices: map[string]float64{"ADAEUR": 0.5}, historyErr: exchange.ErrUnavailable}

	_, err := BuyPrice(context.Background(), gw, adaEUR)
	assert.ErrorIs(t, err, exchange.ErrUnavailable)
}

func TestDeviationAndRounding(t *testing.T) {
	dev, ok := Deviation(110, 100)
	require.True(t, ok)
	assert.InDelta(t, 10, dev, 1e-9)

	_, ok = Deviation(110, 0)
	assert.False(t, ok)

	assert.Equal(t, 12.35, RoundCents(12.345001))
}

func TestBuilder_BuildIsolatesPairs(t *testing.T) {
	gw := &fakeGateway{
		prices:   map[string]float64{"ADAEUR": 0.5},
		balances: map[string]float64{"ADA": 100, "CQT": 5},
		history: map[string][]exchange.Trade{"ADAEUR": {
			{Pair: "ADAEUR", Side: exchange.SideBuy, Price: 0.4},
		}},
	}

	report, err := NewBuilder(gw, nil).Build(context.Background(), []exchange.Pair{adaEUR, cqtEUR})
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	ada := report.Rows[0]
	require.NotNil(t, ada.Value)
	assert.Equal(t, 50.0, *ada.Value)
	require.NotNil(t, ada.Deviation)
	assert.InDelta(t, 25, *ada.Deviation, 1e-9)

	cqt := report.Rows[1]
	assert.Nil(t, cqt.MarketPrice)
	assert.Nil(t, cqt.Value)
	require.NotNil(t, cqt.Available)
	assert.Equal(t, 5.0, *cqt.Available)
}

func TestBuilder_BalanceUnavailableLeavesAvailableEmpty(t *testing.T) {
	gw := &fakeGateway{prices: map[string]float64{"ADAEUR": 0.5}, balanceErr: exchange.ErrUnavailable}

	report, err := NewBuilder(gw, nil).Build(context.Background(), []exchange.Pair{adaEUR})
	require.NoError(t, err)
	assert.Nil(t, report.Rows[0].Available)
	assert.Nil(t, report.Rows[0].Value)
	assert.NotNil(t, report.Rows[0].MarketPrice)
}

func TestWriteCSV(t *testing.T) {
	price, value := 0.5, 50.0
	report := Report{Rows: []Row{
		{Pair: "ADAEUR", MarketPrice: &price, Value: &value},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, report))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, columns, records[0])
	assert.Equal(t, []string{"ADAEUR", "N/A", "0.5", "N/A", "50.00", "N/A"}, records[1])
}

func TestRenderTable(t *testing.T) {
	price := 0.5
	var buf bytes.Buffer
	require.NoError(t, RenderTable(&buf, Report{Rows: []Row{{Pair: "ADAEUR", MarketPrice: &price}}}))
	assert.Contains(t, buf.String(), "ADAEUR")
	assert.Contains(t, buf.String(), "N/A")
}
