package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brolab-dev/x402-mcp/internal/authorization"
	"github.com/brolab-dev/x402-mcp/internal/market"
	"github.com/brolab-dev/x402-mcp/internal/storage"
)

func sampleRecords(n int) []storage.SettlementRecord {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]storage.SettlementRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := storage.SettlementRecord{
			ID:           fmt.Sprintf("rec-%d", i),
			PolicyID:     "default-volatility",
			TriggerValue: decimal.NewFromFloat(3.5 + float64(i)/10),
			MarketData:   &market.Snapshot{Symbol: "BTC_USDT", Price: decimal.NewFromInt(50000)},
			Authorization: &authorization.Message{
				From:  "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
				To:    "0x000000000000000000000000000000000000dEaD",
				Value: "1000000",
			},
			Status:    storage.StatusConfirmed,
			Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
		}
		if i%2 == 1 {
			msg := "settle: connection refused"
			rec.Status = storage.StatusFailed
			rec.Error = &msg
		} else {
			tx := fmt.Sprintf("0x%02x", i)
			rec.TxHash = &tx
		}
		out = append(out, rec)
	}
	return out
}

func TestDownsample(t *testing.T) {
	records := sampleRecords(10)

	assert.Len(t, Downsample(records, 0), 10)
	assert.Len(t, Downsample(records, 20), 10)

	got := Downsample(records, 4)
	require.Len(t, got, 4)
	assert.Equal(t, "rec-0", got[0].ID)
	assert.Equal(t, "rec-9", got[3].ID)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords(2)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, []string{
		"rec-0", "2025-03-01T12:00:00Z", "default-volatility", "BTC_USDT", "50000", "3.5",
		"confirmed", "0x00", "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		"0x000000000000000000000000000000000000dEaD", "1000000", "",
	}, rows[1])
	assert.Equal(t, "failed", rows[2][6])
	assert.Equal(t, "settle: connection refused", rows[2][11])
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, sampleRecords(5)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
}

func TestWritePNGFlatValues(t *testing.T) {
	records := sampleRecords(3)
	for i := range records {
		records[i].TriggerValue = decimal.NewFromInt(4)
	}
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, records))
	assert.NotZero(t, buf.Len())
}

func TestWritePNGNotEnoughData(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WritePNG(&buf, sampleRecords(1)), ErrNotEnoughData)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleRecords(2)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Policy")
	assert.Contains(t, lines[1], "0x00")
	assert.Contains(t, lines[2], "connection refused")
}
