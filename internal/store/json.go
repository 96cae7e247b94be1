package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kraken-assistant/internal/position"
)

// ledgerEntry 为账本文件中的单条记录，字段名与既有 portfolio.json 保持一致。
type ledgerEntry struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// JSONFiles 以两个 JSON 文件保存账本与自选列表。
type JSONFiles struct {
	ledgerPath    string
	favoritesPath string

	mu sync.Mutex
}

// NewJSONFiles 创建文件存储，目录不存在时自动创建。
func NewJSONFiles(ledgerPath, favoritesPath string) (*JSONFiles, error) {
	for _, p := range []string{ledgerPath, favoritesPath} {
		if p == "" {
			return nil, fmt.Errorf("%w: 文件路径不能为空", ErrPersistence)
		}
		if err := ensureDir(filepath.Dir(p)); err != nil {
			return nil, err
		}
	}
	return &JSONFiles{ledgerPath: ledgerPath, favoritesPath: favoritesPath}, nil
}

// LoadPositions 读取账本文件，文件不存在时返回空账本。
func (f *JSONFiles) LoadPositions(ctx context.Context) (map[string]position.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make(map[string]ledgerEntry)
	found, err := readJSON(f.ledgerPath, &entries)
	if err != nil {
		return nil, err
	}

	positions := make(map[string]position.Position, len(entries))
	if !found {
		return positions, nil
	}
	for symbol, entry := range entries {
		key := position.NormalizeSymbol(symbol)
		positions[key] = position.Position{
			Symbol:      key,
			Quantity:    entry.Volume,
			AverageCost: entry.Price,
		}
	}
	return positions, nil
}

// SavePositions 整体写入账本文件。
func (f *JSONFiles) SavePositions(ctx context.Context, positions map[string]position.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make(map[string]ledgerEntry, len(positions))
	for symbol, pos := range positions {
		entries[symbol] = ledgerEntry{Price: pos.AverageCost, Volume: pos.Quantity}
	}
	return writeJSON(f.ledgerPath, entries)
}

// LoadFavorites 读取自选列表，文件不存在时返回空列表。
func (f *JSONFiles) LoadFavorites(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pairs := make([]string, 0)
	if _, err := readJSON(f.favoritesPath, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// SaveFavorites 写入自选列表。
func (f *JSONFiles) SaveFavorites(ctx context.Context, pairs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pairs == nil {
		pairs = []string{}
	}
	return writeJSON(f.favoritesPath, pairs)
}

func readJSON(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: 读取 %q 失败: %w", ErrPersistence, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: 解析 %q 失败: %w", ErrPersistence, path, err)
	}
	return true, nil
}

// writeJSON 先写临时文件再重命名，避免中途失败留下半个文件。
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: 序列化失败: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: 创建临时文件失败: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: 写入 %q 失败: %w", ErrPersistence, path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: 同步 %q 失败: %w", ErrPersistence, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: 关闭临时文件失败: %w", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: 替换 %q 失败: %w", ErrPersistence, path, err)
	}
	return nil
}
