package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kraken-assistant/internal/position"
)

// SQLiteRepository 将账本与自选列表保存在 SQLite 中。
type SQLiteRepository struct {
	store *Store
}

// NewSQLiteRepository 初始化表结构。
func NewSQLiteRepository(store *Store) (*SQLiteRepository, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}

	r := &SQLiteRepository{store: store}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS ledger_positions (
			symbol TEXT PRIMARY KEY,
			price REAL NOT NULL,
			volume REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS favorite_pairs (
			position INTEGER NOT NULL,
			pair TEXT NOT NULL UNIQUE
		);`,
	}

	for _, stmt := range schema {
		if _, err := r.store.DB().Exec(stmt); err != nil {
			return fmt.Errorf("%w: 初始化表结构失败: %w", ErrPersistence, err)
		}
	}
	return nil
}

// LoadPositions 读取全部持仓。
func (r *SQLiteRepository) LoadPositions(ctx context.Context) (map[string]position.Position, error) {
	rows, err := r.store.DB().QueryContext(ctx, `SELECT symbol, price, volume FROM ledger_positions`)
	if err != nil {
		return nil, fmt.Errorf("%w: 查询持仓失败: %w", ErrPersistence, err)
	}
	defer rows.Close()

	positions := make(map[string]position.Position)
	for rows.Next() {
		var (
			symbol string
			price  float64
			volume float64
		)
		if err := rows.Scan(&symbol, &price, &volume); err != nil {
			return nil, fmt.Errorf("%w: 解析持仓失败: %w", ErrPersistence, err)
		}
		positions[symbol] = position.Position{Symbol: symbol, Quantity: volume, AverageCost: price}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 读取持仓失败: %w", ErrPersistence, err)
	}
	return positions, nil
}

// SavePositions 在单个事务内整体替换持仓表。
func (r *SQLiteRepository) SavePositions(ctx context.Context, positions map[string]position.Position) (err error) {
	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: 开启事务失败: %w", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM ledger_positions`); err != nil {
		return fmt.Errorf("%w: 清理持仓失败: %w", ErrPersistence, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for symbol, pos := range positions {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_positions (symbol, price, volume, updated_at) VALUES (?, ?, ?, ?)`,
			symbol, pos.AverageCost, pos.Quantity, now,
		); err != nil {
			return fmt.Errorf("%w: 写入持仓失败: %w", ErrPersistence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: 提交事务失败: %w", ErrPersistence, err)
	}
	return nil
}

// LoadFavorites 按保存顺序读取自选列表。
func (r *SQLiteRepository) LoadFavorites(ctx context.Context) ([]string, error) {
	rows, err := r.store.DB().QueryContext(ctx, `SELECT pair FROM favorite_pairs ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: 查询自选列表失败: %w", ErrPersistence, err)
	}
	defer rows.Close()

	pairs := make([]string, 0)
	for rows.Next() {
		var pair string
		if err := rows.Scan(&pair); err != nil {
			return nil, fmt.Errorf("%w: 解析自选列表失败: %w", ErrPersistence, err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: 读取自选列表失败: %w", ErrPersistence, err)
	}
	return pairs, nil
}

// SaveFavorites 在单个事务内整体替换自选列表。
func (r *SQLiteRepository) SaveFavorites(ctx context.Context, pairs []string) (err error) {
	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: 开启事务失败: %w", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM favorite_pairs`); err != nil {
		return fmt.Errorf("%w: 清理自选列表失败: %w", ErrPersistence, err)
	}
	for i, pair := range pairs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO favorite_pairs (position, pair) VALUES (?, ?)`, i, pair,
		); err != nil {
			return fmt.Errorf("%w: 写入自选列表失败: %w", ErrPersistence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: 提交事务失败: %w", ErrPersistence, err)
	}
	return nil
}
