package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"kraken-assistant/internal/app"
	"kraken-assistant/internal/execution"
	"kraken-assistant/internal/favorites"
	"kraken-assistant/internal/portfolio"
)

var errUsage = errors.New("参数错误")

// mutator 为会修改账本或自选列表的操作，由本进程的 App 或运行中的 trader 提供。
type mutator interface {
	ExecuteManualTrade(ctx context.Context, pair string, volume float64, side string) (execution.Fill, error)
	TriggerManualCycle(ctx context.Context) (app.CycleReport, error)
	ForgetPosition(ctx context.Context, symbol string) error
	UpdateFavorites(ctx context.Context, req app.FavoritesRequest) error
}

// isMutating 判断命令是否需要写入账本或自选列表。
func isMutating(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "forget", "trade", "cycle":
		return true
	case "favorites":
		if len(args) < 2 {
			return false
		}
		switch args[1] {
		case "add", "remove", "clear", "import":
			return true
		}
	}
	return false
}

// runQuery 执行只读命令。
func runQuery(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "balance":
		return runBalance(ctx, a, out)
	case "portfolio":
		return runPortfolio(ctx, a, out, rest)
	case "ledger":
		return runLedger(a, out)
	case "favorites":
		return runFavoritesQuery(a, out, rest)
	default:
		return fmt.Errorf("%w: 未知命令 %q", errUsage, cmd)
	}
}

// runMutation 执行写入类命令。
func runMutation(ctx context.Context, m mutator, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "forget":
		if len(rest) != 1 {
			return fmt.Errorf("%w: forget <ASSET>", errUsage)
		}
		return m.ForgetPosition(ctx, rest[0])
	case "trade":
		return runTrade(ctx, m, out, rest)
	case "cycle":
		report, err := m.TriggerManualCycle(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, report)
	case "favorites":
		return runFavoritesMutation(ctx, m, rest)
	default:
		return fmt.Errorf("%w: 未知命令 %q", errUsage, cmd)
	}
}

func runBalance(ctx context.Context, a *app.App, out io.Writer) error {
	balances, err := a.Balance(ctx)
	if err != nil {
		return err
	}

	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	table := tablewriter.NewWriter(out)
	table.Header("Asset", "Available")
	for _, asset := range assets {
		if err := table.Append(asset, strconv.FormatFloat(balances[asset], 'f', -1, 64)); err != nil {
			return err
		}
	}
	return table.Render()
}

func runPortfolio(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("portfolio", flag.ContinueOnError)
	csvPath := fs.String("csv", "", "导出 CSV 文件路径")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	report, err := a.Portfolio(ctx)
	if err != nil {
		return err
	}
	if err := portfolio.RenderTable(out, report); err != nil {
		return err
	}
	if *csvPath == "" {
		return nil
	}

	f, err := os.Create(*csvPath)
	if err != nil {
		return fmt.Errorf("创建 CSV 文件失败: %w", err)
	}
	if err := portfolio.WriteCSV(f, report); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "已导出 %s\n", *csvPath)
	return nil
}

func runLedger(a *app.App, out io.Writer) error {
	snapshot := a.LedgerSnapshot()
	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	table := tablewriter.NewWriter(out)
	table.Header("Asset", "Volume", "Average Price")
	for _, symbol := range symbols {
		pos := snapshot[symbol]
		if err := table.Append(
			symbol,
			strconv.FormatFloat(pos.Quantity, 'f', -1, 64),
			strconv.FormatFloat(pos.AverageCost, 'f', -1, 64),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func runTrade(ctx context.Context, m mutator, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("trade", flag.ContinueOnError)
	pair := fs.String("pair", "", "交易对，例如 ADAEUR")
	volume := fs.Float64("volume", 0, "下单数量")
	side := fs.String("side", "", "buy 或 sell")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	fill, err := m.ExecuteManualTrade(ctx, *pair, *volume, *side)
	if err != nil {
		return err
	}
	return printJSON(out, fill)
}

func needArg(sub string, rest []string) (string, error) {
	if len(rest) != 1 {
		return "", fmt.Errorf("%w: favorites %s 需要一个参数", errUsage, sub)
	}
	return rest[0], nil
}

func runFavoritesQuery(a *app.App, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: favorites list|add|remove|clear|import|export", errUsage)
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		for _, p := range a.FavoritesList() {
			fmt.Fprintln(out, p)
		}
		return nil
	case "export":
		arg, err := needArg(sub, rest)
		if err != nil {
			return err
		}
		return a.Favorites().Export(arg)
	default:
		return fmt.Errorf("%w: 未知子命令 %q", errUsage, sub)
	}
}

func runFavoritesMutation(ctx context.Context, m mutator, args []string) error {
	sub, rest := args[0], args[1:]

	switch sub {
	case "add", "remove":
		arg, err := needArg(sub, rest)
		if err != nil {
			return err
		}
		return m.UpdateFavorites(ctx, app.FavoritesRequest{Action: sub, Pair: arg})
	case "clear":
		return m.UpdateFavorites(ctx, app.FavoritesRequest{Action: "clear"})
	case "import":
		arg, err := needArg(sub, rest)
		if err != nil {
			return err
		}
		pairs, err := favorites.ReadFile(arg)
		if err != nil {
			return err
		}
		return m.UpdateFavorites(ctx, app.FavoritesRequest{Action: "replace", Pairs: pairs})
	default:
		return fmt.Errorf("%w: 未知子命令 %q", errUsage, sub)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
