package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/favorites"
	"kraken-assistant/internal/monitor"
	"kraken-assistant/internal/position"
)

// TradeRequest 为 POST /trade 的请求体。
type TradeRequest struct {
	Pair   string  `json:"pair"`
	Volume float64 `json:"volume"`
	Side   string  `json:"side"`
}

// FavoritesRequest 为 POST /favorites 的请求体，Action 取 add、remove、clear 或 replace。
type FavoritesRequest struct {
	Action string   `json:"action"`
	Pair   string   `json:"pair,omitempty"`
	Pairs  []string `json:"pairs,omitempty"`
}

type stateResponse struct {
	State     string   `json:"state"`
	Favorites []string `json:"favorites"`
}

func newMonitorHandler(a *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ledger", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.logger, http.StatusOK, a.LedgerSnapshot())
	})

	mux.HandleFunc("GET /favorites", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.logger, http.StatusOK, a.FavoritesList())
	})

	mux.HandleFunc("POST /favorites", func(w http.ResponseWriter, r *http.Request) {
		var req FavoritesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("请求格式错误: %v", err), http.StatusBadRequest)
			return
		}
		if err := a.UpdateFavorites(r.Context(), req); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, a.logger, http.StatusOK, a.FavoritesList())
	})

	mux.HandleFunc("DELETE /ledger/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		if err := a.ForgetPosition(r.Context(), r.PathValue("symbol")); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, a.logger, http.StatusOK, a.LedgerSnapshot())
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.logger, http.StatusOK, stateResponse{State: a.State().String(), Favorites: a.FavoritesList()})
	})

	mux.HandleFunc("GET /portfolio", func(w http.ResponseWriter, r *http.Request) {
		report, err := a.Portfolio(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, a.logger, http.StatusOK, report)
	})

	mux.HandleFunc("POST /cycle", func(w http.ResponseWriter, r *http.Request) {
		report, err := a.TriggerManualCycle(r.Context())
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, a.logger, http.StatusOK, report)
	})

	mux.HandleFunc("POST /trade", func(w http.ResponseWriter, r *http.Request) {
		var req TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("请求格式错误: %v", err), http.StatusBadRequest)
			return
		}
		fill, err := a.ExecuteManualTrade(r.Context(), req.Pair, req.Volume, req.Side)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, a.logger, http.StatusOK, fill)
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		if a.monitor == nil {
			http.Error(w, "事件记录未启用", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := a.monitor.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, a.logger, http.StatusOK, events)
	})

	mux.Handle("GET /metrics", a.metrics.Handler())

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrCycleInProgress),
		errors.Is(err, favorites.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, favorites.ErrNotFound),
		errors.Is(err, position.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrInvalidPair),
		errors.Is(err, exchange.ErrInvalidSide),
		errors.Is(err, favorites.ErrInvalidPair),
		errors.Is(err, ErrInvalidVolume),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, execution.ErrExecutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func startMonitorServer(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
