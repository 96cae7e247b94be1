package position

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	saved   map[string]Position
	saves   int
	failErr error
}

func (m *memoryRepo) LoadPositions(ctx context.Context) (map[string]Position, error) {
	return clonePositions(m.saved), nil
}

func (m *memoryRepo) SavePositions(ctx context.Context, positions map[string]Position) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.saved = clonePositions(positions)
	return nil
}

func newTestLedger(t *testing.T, initial map[string]Position) (*Ledger, *memoryRepo) {
	t.Helper()
	repo := &memoryRepo{saved: initial}
	ledger, err := LoadLedger(context.Background(), repo, nil)
	require.NoError(t, err)
	return ledger, repo
}

func TestApplyBuy_WeightedAverage(t *testing.T) {
	pos, err := ApplyBuy(nil, "ada", 10, 1.0)
	require.NoError(t, err)
	assert.Equal(t, "ADA", pos.Symbol)

	pos, err = ApplyBuy(&pos, "ADA", 30, 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 40, pos.Quantity, 1e-12)
	assert.InDelta(t, 1.75, pos.AverageCost, 1e-12)
}

func TestApplyBuy_ReorderInvariant(t *testing.T) {
	type fill struct{ qty, price float64 }
	fills := []fill{{10, 1.2}, {5, 0.9}, {2.5, 1.4}, {100, 1.01}, {0.3, 2.2}, {7, 0.75}}

	var sumQty, sumCost float64
	for _, f := range fills {
		sumQty += f.qty
		sumCost += f.qty * f.price
	}
	expected := sumCost / sumQty

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		rng.Shuffle(len(fills), func(i, j int) { fills[i], fills[j] = fills[j], fills[i] })

		var pos *Position
		for _, f := range fills {
			next, err := ApplyBuy(pos, "ADA", f.qty, f.price)
			require.NoError(t, err)
			pos = &next
		}
		require.NotNil(t, pos)
		assert.InDelta(t, sumQty, pos.Quantity, 1e-9)
		assert.InDelta(t, expected, pos.AverageCost, 1e-12)
	}
}

func TestApplyBuy_RejectsInvalidFill(t *testing.T) {
	_, err := ApplyBuy(nil, "ADA", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidFill)

	_, err = ApplyBuy(nil, "ADA", 1, -1)
	assert.ErrorIs(t, err, ErrInvalidFill)
}

func TestApplySell_PartialKeepsAverage(t *testing.T) {
	existing := Position{Symbol: "ADA", Quantity: 10, AverageCost: 1.5}

	pos, closed, err := ApplySell(&existing, 4)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.InDelta(t, 6, pos.Quantity, 1e-12)
	assert.Equal(t, 1.5, pos.AverageCost)
}

func TestApplySell_FullCloses(t *testing.T) {
	existing := Position{Symbol: "ADA", Quantity: 10, AverageCost: 1.5}

	_, closed, err := ApplySell(&existing, 10)
	require.NoError(t, err)
	assert.True(t, closed)

	_, closed, err = ApplySell(&existing, 12)
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestApplySell_WithoutPosition(t *testing.T) {
	_, _, err := ApplySell(nil, 1)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestLedger_BuyThenSellRemovesPosition(t *testing.T) {
	ledger, repo := newTestLedger(t, nil)
	ctx := context.Background()

	pos, err := ledger.Apply(ctx, Fill{Symbol: "ADA", Side: SideBuy, Quantity: 10, Price: 1.0})
	require.NoError(t, err)
	assert.Equal(t, Position{Symbol: "ADA", Quantity: 10, AverageCost: 1.0}, pos)
	assert.Equal(t, 1, repo.saves)
	assert.Contains(t, repo.saved, "ADA")

	_, err = ledger.Apply(ctx, Fill{Symbol: "ADA", Side: SideSell, Quantity: 10, Price: 1.03})
	require.NoError(t, err)

	_, ok := ledger.Get("ADA")
	assert.False(t, ok)
	assert.Empty(t, ledger.Snapshot())
	assert.Empty(t, repo.saved)
	assert.Equal(t, 2, repo.saves)
}

func TestLedger_SaveFailureRollsBack(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]Position{
		"ADA": {Symbol: "ADA", Quantity: 5, AverageCost: 2},
	})
	before := ledger.Snapshot()

	repo.failErr = errors.New("disk full")
	_, err := ledger.Apply(context.Background(), Fill{Symbol: "ADA", Side: SideBuy, Quantity: 5, Price: 4})
	require.Error(t, err)

	assert.Equal(t, before, ledger.Snapshot())
}

func TestLedger_LoadDropsEmptyPositions(t *testing.T) {
	ledger, _ := newTestLedger(t, map[string]Position{
		"ada": {Quantity: 3, AverageCost: 1},
		"DOT": {Quantity: 0, AverageCost: 5},
	})

	assert.Equal(t, []string{"ADA"}, ledger.Symbols())
	pos, ok := ledger.Get("ada")
	require.True(t, ok)
	assert.Equal(t, "ADA", pos.Symbol)
}

func TestLedger_Forget(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]Position{
		"ADA": {Symbol: "ADA", Quantity: 5, AverageCost: 2},
	})

	require.NoError(t, ledger.Forget(context.Background(), "ADA"))
	assert.Empty(t, repo.saved)
	assert.ErrorIs(t, ledger.Forget(context.Background(), "ADA"), ErrNoPosition)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	ledger, _ := newTestLedger(t, map[string]Position{
		"ADA": {Symbol: "ADA", Quantity: 5, AverageCost: 2},
	})

	snap := ledger.Snapshot()
	delete(snap, "ADA")

	_, ok := ledger.Get("ADA")
	assert.True(t, ok)
}
