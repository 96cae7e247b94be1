package portfolio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

const notAvailable = "N/A"

var columns = []string{"Pair", "Available", "Market Price", "Buy Price", "Current Value", "Deviation (%)"}

// RenderTable 以表格形式输出报表。
func RenderTable(w io.Writer, report Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Pair", "Available", "Market Price", "Buy Price", "Current Value", "Deviation (%)")

	for _, row := range report.Rows {
		if err := table.Append(
			row.Pair,
			formatFloat(row.Available, -1),
			formatFloat(row.MarketPrice, -1),
			formatFloat(row.BuyPrice, -1),
			formatFloat(row.Value, 2),
			formatFloat(row.Deviation, 2),
		); err != nil {
			return fmt.Errorf("portfolio: 写入表格失败: %w", err)
		}
	}
	return table.Render()
}

// WriteCSV 导出报表为 CSV，不可用字段写为 N/A。
func WriteCSV(w io.Writer, report Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("portfolio: 写入 CSV 表头失败: %w", err)
	}
	for _, row := range report.Rows {
		record := []string{
			row.Pair,
			formatFloat(row.Available, -1),
			formatFloat(row.MarketPrice, -1),
			formatFloat(row.BuyPrice, -1),
			formatFloat(row.Value, 2),
			formatFloat(row.Deviation, 2),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("portfolio: 写入 CSV 失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
