// Package report renders settlement history as CSV, PNG charts and
// plain-text tables.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/brolab-dev/x402-mcp/internal/storage"
)

// ErrNotEnoughData is returned when a chart needs more records.
var ErrNotEnoughData = errors.New("report: at least two settlements are required for a chart")

// Downsample keeps at most max records, evenly spaced, always including the
// first and last.
func Downsample(records []storage.SettlementRecord, max int) []storage.SettlementRecord {
	if max <= 1 || len(records) <= max {
		return records
	}

	result := make([]storage.SettlementRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

// WriteCSV writes one row per record.
func WriteCSV(w io.Writer, records []storage.SettlementRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "timestamp", "policy_id", "symbol", "price", "trigger_value", "status", "tx_hash", "from", "to", "value", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		var symbol, price, from, to, value string
		if rec.MarketData != nil {
			symbol = rec.MarketData.Symbol
			price = rec.MarketData.Price.String()
		}
		if rec.Authorization != nil {
			from = rec.Authorization.From
			to = rec.Authorization.To
			value = rec.Authorization.Value
		}
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.PolicyID,
			symbol,
			price,
			rec.TriggerValue.String(),
			rec.Status,
			deref(rec.TxHash),
			from,
			to,
			value,
			deref(rec.Error),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WritePNG charts trigger values over time with the running settlement
// count on the secondary axis.
func WritePNG(w io.Writer, records []storage.SettlementRecord) error {
	if len(records) < 2 {
		return ErrNotEnoughData
	}

	x := make([]time.Time, len(records))
	values := make([]float64, len(records))
	confirmed := make([]float64, len(records))
	failed := make([]float64, len(records))

	var okCount, failCount float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i, rec := range records {
		x[i] = rec.Timestamp
		values[i] = rec.TriggerValue.InexactFloat64()
		minV = math.Min(minV, values[i])
		maxV = math.Max(maxV, values[i])
		if rec.Failed() {
			failCount++
		} else {
			okCount++
		}
		confirmed[i] = okCount
		failed[i] = failCount
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}

	yAxis := chart.YAxis{
		Name:           "Trigger value (%)",
		ValueFormatter: valueFormatter,
	}
	if minV == maxV {
		yAxis.Range = &chart.ContinuousRange{Min: minV - 1, Max: maxV + 1}
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: yAxis,
		YAxisSecondary: chart.YAxis{
			Name:           "Settlements",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Trigger value",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Settled",
				XValues: x,
				YValues: confirmed,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Failed",
				XValues: x,
				YValues: failed,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// WriteTable prints records as an aligned text table.
func WriteTable(w io.Writer, records []storage.SettlementRecord) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPolicy\tSymbol\tValue\tStatus\tTx\tError")

	for _, rec := range records {
		symbol := ""
		if rec.MarketData != nil {
			symbol = rec.MarketData.Symbol
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.PolicyID,
			symbol,
			rec.TriggerValue.StringFixed(2),
			rec.Status,
			deref(rec.TxHash),
			sanitizeInline(deref(rec.Error)),
		)
	}

	return writer.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
