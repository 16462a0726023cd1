package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

func TestSinkPrintsSignalsAndTrades(t *testing.T) {
	var buf bytes.Buffer
	s := NewSinkWriter(&buf, Formatter{}, true)

	events := make(chan port.Event, 2)
	events <- port.Event{Kind: port.EventSignal, Signal: &model.SignalEvent{
		Symbol: "XBTUSDTM", Primary: 15, Secondary: 60, Price: 42000.5, Timestamp: 1_700_000_000_000,
		Signal: model.AlignedSignal{Direction: model.Bullish, CombinedScore: 62, Confidence: 88, Alignment: model.AlignmentFull},
	}}
	events <- port.Event{Kind: port.EventTrade, Trade: &model.Trade{
		Symbol: "XBTUSDTM", Side: model.Long, Reason: model.ExitStopLoss,
		EntryPrice: 100, ExitPrice: 99, RealizedPnL: -11.2, RealizedROI: -11.2, ClosedAt: 1_700_000_000_000,
	}}
	close(events)

	require.NoError(t, s.Run(context.Background(), events))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "XBTUSDTM BULLISH 15min/1hour score=+62.00 conf=88.0 full @ 42000.50")
	assert.Contains(t, lines[1], "XBTUSDTM LONG closed STOP_LOSS 100.0000 -> 99.0000 pnl=-11.2000 roi=-11.20%")
	assert.NotContains(t, buf.String(), "\033[")
}

func TestSinkSkipsTradesWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	s := NewSinkWriter(&buf, Formatter{}, false)

	require.NoError(t, s.Write(port.Event{Kind: port.EventTrade, Trade: &model.Trade{Symbol: "X"}}))
	require.NoError(t, s.Write(port.Event{Kind: port.EventSignal}))
	assert.Empty(t, buf.String())
}

func TestFormatterColors(t *testing.T) {
	f := Formatter{Color: true}
	line := f.Signal(model.SignalEvent{Symbol: "X", Signal: model.AlignedSignal{Direction: model.Bearish}})
	assert.Contains(t, line, ansiRed+"BEARISH"+ansiReset)
}
