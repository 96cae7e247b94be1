package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kraken-assistant/internal/app"
	"kraken-assistant/internal/execution"
)

var errDaemonUnreachable = errors.New("无法连接运行中的 trader 监控接口")

// daemonError 为监控接口返回的非 200 响应。
type daemonError struct {
	Status  int
	Message string
}

func (e *daemonError) Error() string {
	return fmt.Sprintf("trader 返回 %d: %s", e.Status, e.Message)
}

func (e *daemonError) Unwrap() error {
	switch e.Status {
	case http.StatusConflict:
		return app.ErrCycleInProgress
	case http.StatusForbidden:
		return app.ErrReadOnly
	default:
		return nil
	}
}

// daemonClient 把写入类命令转发给持有账本锁的 trader 进程。
type daemonClient struct {
	baseURL string
	http    *http.Client
}

func newDaemonClient(baseURL string) *daemonClient {
	return &daemonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *daemonClient) ExecuteManualTrade(ctx context.Context, pair string, volume float64, side string) (execution.Fill, error) {
	var fill execution.Fill
	err := c.do(ctx, http.MethodPost, "/trade", app.TradeRequest{Pair: pair, Volume: volume, Side: side}, &fill)
	return fill, err
}

func (c *daemonClient) TriggerManualCycle(ctx context.Context) (app.CycleReport, error) {
	var report app.CycleReport
	err := c.do(ctx, http.MethodPost, "/cycle", nil, &report)
	return report, err
}

func (c *daemonClient) ForgetPosition(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/ledger/"+url.PathEscape(symbol), nil, nil)
}

func (c *daemonClient) UpdateFavorites(ctx context.Context, req app.FavoritesRequest) error {
	return c.do(ctx, http.MethodPost, "/favorites", req, nil)
}

func (c *daemonClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w (%s): %w", errDaemonUnreachable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &daemonError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 trader 响应失败: %w", err)
	}
	return nil
}
