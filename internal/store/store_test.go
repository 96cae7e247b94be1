package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/position"
)

func TestJSONFiles_MissingFilesLoadEmpty(t *testing.T) {
	dir := t.TempDir()
	files, err := NewJSONFiles(filepath.Join(dir, "data", "portfolio.json"), filepath.Join(dir, "data", "favorites.json"))
	require.NoError(t, err)

	positions, err := files.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	pairs, err := files.LoadFavorites(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestJSONFiles_LedgerSchema(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "portfolio.json")
	files, err := NewJSONFiles(ledgerPath, filepath.Join(dir, "favorites.json"))
	require.NoError(t, err)

	err = files.SavePositions(context.Background(), map[string]position.Position{
		"ADA": {Symbol: "ADA", Quantity: 10, AverageCost: 1.25},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ADA":{"price":1.25,"volume":10}}`, string(raw))

	positions, err := files.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.Position{Symbol: "ADA", Quantity: 10, AverageCost: 1.25}, positions["ADA"])
}

func TestJSONFiles_FavoritesArray(t *testing.T) {
	dir := t.TempDir()
	favPath := filepath.Join(dir, "favorites.json")
	files, err := NewJSONFiles(filepath.Join(dir, "portfolio.json"), favPath)
	require.NoError(t, err)

	require.NoError(t, files.SaveFavorites(context.Background(), []string{"ADAEUR", "CQTEUR"}))

	raw, err := os.ReadFile(favPath)
	require.NoError(t, err)
	assert.JSONEq(t, `["ADAEUR","CQTEUR"]`, string(raw))
}

func TestJSONFiles_CorruptFileIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "portfolio.json")
	require.NoError(t, os.WriteFile(ledgerPath, []byte("{oops"), 0o644))

	files, err := NewJSONFiles(ledgerPath, filepath.Join(dir, "favorites.json"))
	require.NoError(t, err)

	_, err = files.LoadPositions(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	db, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewSQLiteRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.SavePositions(ctx, map[string]position.Position{
		"ADA": {Symbol: "ADA", Quantity: 10, AverageCost: 1.1},
		"DOT": {Symbol: "DOT", Quantity: 2, AverageCost: 6},
	}))
	require.NoError(t, repo.SavePositions(ctx, map[string]position.Position{
		"ADA": {Symbol: "ADA", Quantity: 4, AverageCost: 1.1},
	}))

	positions, err := repo.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 4, positions["ADA"].Quantity, 1e-12)

	require.NoError(t, repo.SaveFavorites(ctx, []string{"XBTEUR", "ADAEUR"}))
	pairs, err := repo.LoadFavorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"XBTEUR", "ADAEUR"}, pairs)
}

func TestAcquireLock_SecondHolderIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "assistant.lock")

	first, err := AcquireLock(path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())

	_, err = AcquireLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
