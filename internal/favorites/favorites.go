// Package favorites 维护关注的交易对列表，保持插入顺序并拒绝重复。
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDuplicate 表示交易对已在列表中。
	ErrDuplicate = errors.New("favorites: pair already present")
	// ErrNotFound 表示交易对不在列表中。
	ErrNotFound = errors.New("favorites: pair not found")
	// ErrInvalidPair 表示交易对标识为空。
	ErrInvalidPair = errors.New("favorites: invalid pair")
)

// Repository 持久化自选列表。
type Repository interface {
	LoadFavorites(ctx context.Context) ([]string, error)
	SaveFavorites(ctx context.Context, pairs []string) error
}

// Set 为有序且去重的交易对集合，每次修改后立即保存。
type Set struct {
	mu     sync.RWMutex
	pairs  []string
	repo   Repository
	logger *zap.Logger
}

// Normalize 将 "ada/eur" 之类的输入统一为 "ADAEUR"。
func Normalize(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	return strings.ReplaceAll(s, "/", "")
}

// Load 从仓库读取自选列表。
func Load(ctx context.Context, repo Repository, logger *zap.Logger) (*Set, error) {
	if repo == nil {
		return nil, errors.New("favorites: repository 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pairs, err := repo.LoadFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("favorites: 加载自选列表失败: %w", err)
	}

	s := &Set{repo: repo, logger: logger}
	s.pairs = dedupe(pairs)
	logger.Info("自选列表已加载", zap.Int("count", len(s.pairs)))
	return s, nil
}

// List 返回自选列表副本。
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pairs...)
}

// Contains 判断交易对是否在列表中。
func (s *Set) Contains(pair string) bool {
	key := Normalize(pair)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.pairs, key) >= 0
}

// Add 追加交易对。
func (s *Set) Add(ctx context.Context, pair string) error {
	key := Normalize(pair)
	if key == "" {
		return ErrInvalidPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.pairs, key) >= 0 {
		s.logger.Warn("交易对已在自选列表中", zap.String("pair", key))
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	next := append(append([]string(nil), s.pairs...), key)
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("已添加自选交易对", zap.String("pair", key))
	return nil
}

// Remove 删除交易对。
func (s *Set) Remove(ctx context.Context, pair string) error {
	key := Normalize(pair)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := indexOf(s.pairs, key)
	if idx < 0 {
		s.logger.Warn("交易对不在自选列表中", zap.String("pair", key))
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	next := make([]string, 0, len(s.pairs)-1)
	next = append(next, s.pairs[:idx]...)
	next = append(next, s.pairs[idx+1:]...)
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("已移除自选交易对", zap.String("pair", key))
	return nil
}

// Clear 清空列表。
func (s *Set) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commit(ctx, []string{}); err != nil {
		return err
	}
	s.logger.Info("自选列表已清空")
	return nil
}

// Replace 用给定列表覆盖当前内容，重复项只保留第一次出现。
func (s *Set) Replace(ctx context.Context, pairs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(ctx, dedupe(pairs))
}

// ReadFile 读取 JSON 或 YAML 格式的交易对列表，按扩展名区分格式。
func ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("favorites: 读取导入文件失败: %w", err)
	}

	var pairs []string
	if isYAML(path) {
		err = yaml.Unmarshal(data, &pairs)
	} else {
		err = json.Unmarshal(data, &pairs)
	}
	if err != nil {
		return nil, fmt.Errorf("favorites: 解析导入文件失败: %w", err)
	}
	return pairs, nil
}

// Import 从 JSON 或 YAML 文件导入并覆盖当前列表。
func (s *Set) Import(ctx context.Context, path string) error {
	pairs, err := ReadFile(path)
	if err != nil {
		return err
	}

	if err := s.Replace(ctx, pairs); err != nil {
		return err
	}
	s.logger.Info("自选列表已导入", zap.String("path", path), zap.Int("count", len(s.List())))
	return nil
}

// Export 将当前列表写入 JSON 或 YAML 文件。
func (s *Set) Export(path string) error {
	pairs := s.List()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(pairs)
	} else {
		data, err = json.MarshalIndent(pairs, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("favorites: 序列化失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("favorites: 写入导出文件失败: %w", err)
	}
	s.logger.Info("自选列表已导出", zap.String("path", path))
	return nil
}

func (s *Set) commit(ctx context.Context, next []string) error {
	if err := s.repo.SaveFavorites(ctx, append([]string(nil), next...)); err != nil {
		s.logger.Error("保存自选列表失败", zap.Error(err))
		return fmt.Errorf("favorites: 保存自选列表失败: %w", err)
	}
	s.pairs = next
	return nil
}

func dedupe(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		key := Normalize(p)
		if key == "" || indexOf(out, key) >= 0 {
			continue
		}
		out = append(out, key)
	}
	return out
}

func indexOf(pairs []string, key string) int {
	for i, p := range pairs {
		if p == key {
			return i
		}
	}
	return -1
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
