package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kraken-assistant/internal/decision"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	cycle_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_cycle ON monitor_events(cycle_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, cycle_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.CycleID, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordCycle 记录一轮对账汇总。
func (s *Service) RecordCycle(ctx context.Context, cycleID string, summary CyclePayload) {
	s.recordQuietly(ctx, Event{Type: EventCycle, CycleID: cycleID, Payload: summary}, "记录对账事件失败")
}

// RecordDecision 记录决策结果。
func (s *Service) RecordDecision(ctx context.Context, cycleID string, intent decision.Intent, price, quoteBalance float64) {
	s.recordQuietly(ctx, Event{
		Type:    EventDecision,
		CycleID: cycleID,
		Payload: DecisionPayload{Intent: intent, Price: price, QuoteBalance: quoteBalance},
	}, "记录决策事件失败")
}

// RecordExecution 记录订单成交。
func (s *Service) RecordExecution(ctx context.Context, cycleID string, fill execution.Fill) {
	s.recordQuietly(ctx, Event{
		Type:    EventExecution,
		CycleID: cycleID,
		Payload: executionPayload(fill),
	}, "记录执行事件失败")
}

// RecordExecutionFailure 记录被拒绝的订单。
func (s *Service) RecordExecutionFailure(ctx context.Context, cycleID string, failure *execution.Failure) {
	if failure == nil {
		return
	}
	s.recordQuietly(ctx, Event{
		Type:    EventExecutionFailure,
		CycleID: cycleID,
		Payload: ExecutionFailurePayload{
			Pair:   failure.Pair.String(),
			Side:   string(failure.Side),
			Volume: failure.Volume,
			Error:  failure.Err.Error(),
		},
	}, "记录执行失败事件失败")
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, cycleID, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.recordQuietly(ctx, Event{Type: EventError, CycleID: cycleID, Payload: payload}, "记录异常事件失败")
}

func (s *Service) recordQuietly(ctx context.Context, event Event, msg string) {
	event.Timestamp = time.Now().UTC()
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn(msg, zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, cycle_id, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			cycleID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &cycleID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			CycleID:   cycleID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
