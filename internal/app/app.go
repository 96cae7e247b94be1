package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"kraken-assistant/internal/config"
	"kraken-assistant/internal/decision"
	"kraken-assistant/internal/exchange"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/favorites"
	"kraken-assistant/internal/metrics"
	"kraken-assistant/internal/monitor"
	"kraken-assistant/internal/portfolio"
	"kraken-assistant/internal/position"
	"kraken-assistant/internal/store"
)

var (
	// ErrLedgerLocked 表示账本由另一个进程持有，通常是正在运行的 trader。
	ErrLedgerLocked = fmt.Errorf("%w: ledger owned by another process", ErrCycleInProgress)
	// ErrReadOnly 表示以只读方式打开，不允许下单或修改账本。
	ErrReadOnly = errors.New("app opened read-only")
	// ErrInvalidRequest 表示请求参数无法识别。
	ErrInvalidRequest = errors.New("invalid request")
)

// Dependencies 为 App 的外部依赖，便于在测试中替换交易所与执行器。
type Dependencies struct {
	Gateway   Gateway
	Trader    execution.Trader
	Ledger    *position.Ledger
	Favorites *favorites.Set
	Monitor   *monitor.Service
	Metrics   *metrics.Collector
}

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	gateway   Gateway
	ledger    *position.Ledger
	favorites *favorites.Set
	monitor   *monitor.Service
	metrics   *metrics.Collector
	recon     *reconciler
	report    *portfolio.Builder
	readOnly  bool
	closers   []func() error
}

// New 创建 App 实例。
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if deps.Gateway == nil || deps.Trader == nil || deps.Ledger == nil || deps.Favorites == nil {
		return nil, errors.New("app: 交易所、执行器、账本与自选列表均不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	var journal Journal = nopJournal{}
	if deps.Monitor != nil {
		journal = deps.Monitor
	}

	recon := &reconciler{
		gateway:   deps.Gateway,
		market:    exchange.NewMarketDataService(deps.Gateway, logger),
		trader:    deps.Trader,
		ledger:    deps.Ledger,
		favorites: deps.Favorites,
		strategy: decision.Config{
			SellThresholdRatio: cfg.Strategy.SellThresholdRatio,
			BuyVolume:          cfg.Strategy.BuyVolume,
			BudgetRatio:        cfg.Strategy.BudgetRatio,
			FeeRate:            cfg.Strategy.FeeRate,
		},
		quote:      cfg.Exchange.QuoteCurrency,
		journal:    journal,
		metrics:    deps.Metrics,
		logger:     logger,
		lastPrices: make(map[string]observation),
		priceTTL:   loopInterval(cfg),
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		gateway:   deps.Gateway,
		ledger:    deps.Ledger,
		favorites: deps.Favorites,
		monitor:   deps.Monitor,
		metrics:   deps.Metrics,
		recon:     recon,
		report:    portfolio.NewBuilder(deps.Gateway, logger),
	}, nil
}

// Bootstrap 按配置装配真实依赖：SQLite 事件库、持久化后端、Kraken 客户端与执行器。
// 账本只允许一个进程写入：锁文件已被占用时返回 ErrLedgerLocked。
// 任何持久化读取失败都会中止启动。
func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	return bootstrap(ctx, cfg, logger, false)
}

// BootstrapReadOnly 不获取锁，只读取账本与自选列表的当前内容，用于查询类命令。
// 返回的 App 拒绝下单与对账，任何保存操作都返回 ErrReadOnly。
func BootstrapReadOnly(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	return bootstrap(ctx, cfg, logger, true)
}

type repository interface {
	position.Repository
	favorites.Repository
}

// readOnlyRepository 允许读取，拒绝一切写入。
type readOnlyRepository struct {
	repository
}

func (readOnlyRepository) SavePositions(context.Context, map[string]position.Position) error {
	return ErrReadOnly
}

func (readOnlyRepository) SaveFavorites(context.Context, []string) error {
	return ErrReadOnly
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger, readOnly bool) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var closers []func() error
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		return nil, err
	}

	if !readOnly && cfg.Storage.LockPath != "" {
		lock, err := store.AcquireLock(cfg.Storage.LockPath)
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("%w: %w", ErrLedgerLocked, err)
		}
		if err != nil {
			return nil, err
		}
		closers = append(closers, lock.Release)
		logger.Debug("已获取账本锁", zap.String("path", lock.Path()))
	}

	db, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("初始化数据库失败: %w", err))
	}
	// 先关闭数据库再释放锁。
	closers = append([]func() error{db.Close}, closers...)

	var repo repository
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		sqliteRepo, err := store.NewSQLiteRepository(db)
		if err != nil {
			return fail(err)
		}
		repo = sqliteRepo
	default:
		files, err := store.NewJSONFiles(cfg.Storage.LedgerPath, cfg.Storage.FavoritesPath)
		if err != nil {
			return fail(err)
		}
		repo = files
	}
	if readOnly {
		repo = readOnlyRepository{repo}
	}

	ledger, err := position.LoadLedger(ctx, repo, logger)
	if err != nil {
		return fail(err)
	}
	favs, err := favorites.Load(ctx, repo, logger)
	if err != nil {
		return fail(err)
	}

	monitorSvc, err := monitor.NewService(db, logger)
	if err != nil {
		return fail(fmt.Errorf("初始化监控服务失败: %w", err))
	}

	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return fail(fmt.Errorf("初始化交易所客户端失败: %w", err))
	}

	var trader execution.Trader
	if cfg.Execution.Simulation {
		logger.Info("执行器处于模拟模式")
		trader = execution.NewSimulatedExecutor(client, logger)
	} else {
		trader = execution.NewExecutor(client, logger)
	}

	a, err := New(cfg, Dependencies{
		Gateway:   client,
		Trader:    trader,
		Ledger:    ledger,
		Favorites: favs,
		Monitor:   monitorSvc,
		Metrics:   metrics.New(),
	}, logger)
	if err != nil {
		return fail(err)
	}
	a.readOnly = readOnly
	a.closers = closers
	return a, nil
}

// Close 释放底层资源。
func (a *App) Close() error {
	var err error
	for _, c := range a.closers {
		err = multierr.Append(err, c())
	}
	a.closers = nil
	return err
}

// Run 启动监控接口，立即执行首轮对账，之后按固定间隔循环直至退出。
func (a *App) Run(ctx context.Context) error {
	if a.readOnly {
		return ErrReadOnly
	}
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("quote", a.cfg.Exchange.QuoteCurrency),
		zap.Strings("favorites", a.favorites.List()),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, newMonitorHandler(a), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	a.scheduledCycle(ctx)

	ticker := time.NewTicker(loopInterval(a.cfg))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.scheduledCycle(ctx)
		}
	}
}

func loopInterval(cfg *config.Config) time.Duration {
	if cfg.Scheduler.LoopInterval <= 0 {
		return time.Minute
	}
	return cfg.Scheduler.LoopInterval
}

func (a *App) scheduledCycle(ctx context.Context) {
	_, err := a.recon.runCycle(ctx, TriggerScheduled)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		a.logger.Info("上一轮对账尚未结束，跳过本次调度")
	case errors.Is(err, context.Canceled):
	default:
		a.logger.Error("执行调度失败", zap.Error(err))
	}
}

// State 返回对账循环当前阶段。
func (a *App) State() State {
	return a.recon.State()
}

// LedgerSnapshot 返回账本副本。
func (a *App) LedgerSnapshot() map[string]position.Position {
	return a.ledger.Snapshot()
}

// FavoritesList 返回自选交易对。
func (a *App) FavoritesList() []string {
	return a.favorites.List()
}

// Favorites 返回自选列表，供命令行导出。
func (a *App) Favorites() *favorites.Set {
	return a.favorites
}

// Monitor 返回事件服务，未启用时为 nil。
func (a *App) Monitor() *monitor.Service {
	return a.monitor
}

// TriggerManualCycle 立即执行一轮对账；已有对账进行中时返回 ErrCycleInProgress。
func (a *App) TriggerManualCycle(ctx context.Context) (CycleReport, error) {
	if a.readOnly {
		return CycleReport{}, ErrReadOnly
	}
	return a.recon.runCycle(ctx, TriggerManual)
}

// ExecuteManualTrade 校验参数后执行一笔手工交易，成功成交会计入账本。
func (a *App) ExecuteManualTrade(ctx context.Context, rawPair string, volume float64, rawSide string) (execution.Fill, error) {
	if a.readOnly {
		return execution.Fill{}, ErrReadOnly
	}
	pair, err := exchange.ParsePair(rawPair, a.cfg.Exchange.QuoteCurrency)
	if err != nil {
		return execution.Fill{}, err
	}
	side, err := exchange.ParseSide(rawSide)
	if err != nil {
		return execution.Fill{}, err
	}
	if !(volume > 0) || math.IsInf(volume, 0) {
		return execution.Fill{}, fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	return a.recon.manualTrade(ctx, pair, volume, side)
}

// UpdateFavorites 按请求修改自选列表。
func (a *App) UpdateFavorites(ctx context.Context, req FavoritesRequest) error {
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "add":
		return a.favorites.Add(ctx, req.Pair)
	case "remove":
		return a.favorites.Remove(ctx, req.Pair)
	case "clear":
		return a.favorites.Clear(ctx)
	case "replace":
		return a.favorites.Replace(ctx, req.Pairs)
	default:
		return fmt.Errorf("%w: 未知操作 %q", ErrInvalidRequest, req.Action)
	}
}

// ForgetPosition 删除某资产的账本记录。与对账共用同一把锁。
func (a *App) ForgetPosition(ctx context.Context, symbol string) error {
	if !a.recon.guard.TryLock() {
		return ErrCycleInProgress
	}
	defer a.recon.guard.Unlock()
	return a.ledger.Forget(ctx, symbol)
}

// Balance 返回账户余额。assets 为空时返回全部资产。
func (a *App) Balance(ctx context.Context, assets ...string) (map[string]float64, error) {
	return a.gateway.GetBalance(ctx, assets...)
}

// Portfolio 为全部自选交易对生成持仓报表。
func (a *App) Portfolio(ctx context.Context) (portfolio.Report, error) {
	raw := a.favorites.List()
	pairs := make([]exchange.Pair, 0, len(raw))
	for _, p := range raw {
		pair, err := exchange.ParsePair(p, a.cfg.Exchange.QuoteCurrency)
		if err != nil {
			a.logger.Warn("忽略无法解析的自选交易对", zap.String("pair", p), zap.Error(err))
			continue
		}
		pairs = append(pairs, pair)
	}
	return a.report.Build(ctx, pairs)
}
