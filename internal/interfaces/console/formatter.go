package console

import (
	"fmt"
	"strings"
	"time"

	"xsig/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

type Formatter struct {
	Color bool
}

func (f Formatter) colorize(s, c string) string {
	if !f.Color {
		return s
	}
	return c + s + ansiReset
}

func (f Formatter) directionColor(d model.Direction) string {
	switch d {
	case model.Bullish:
		return ansiGreen
	case model.Bearish:
		return ansiRed
	}
	return ansiYellow
}

// Signal 2024-01-02 15:04:05 [XSIG] XBTUSDTM BULLISH 15min/1hour score=+62.00 conf=88.0 full @ 42000.5
func (f Formatter) Signal(ev model.SignalEvent) string {
	s := ev.Signal
	var sb strings.Builder
	sb.WriteString(time.UnixMilli(ev.Timestamp).Format("2006-01-02 15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(f.colorize("[XSIG]", ansiDim))
	sb.WriteString(" ")
	sb.WriteString(ev.Symbol)
	sb.WriteString(" ")
	sb.WriteString(f.colorize(strings.ToUpper(string(s.Direction)), f.directionColor(s.Direction)))
	fmt.Fprintf(&sb, " %s/%s score=%+.2f conf=%.1f %s @ %s",
		ev.Primary, ev.Secondary, s.CombinedScore, s.Confidence, s.Alignment, formatPrice(ev.Price))
	return sb.String()
}

// Trade 平仓行，盈亏着色
func (f Formatter) Trade(t model.Trade) string {
	col := ansiGreen
	if t.RealizedPnL < 0 {
		col = ansiRed
	}
	var sb strings.Builder
	sb.WriteString(time.UnixMilli(t.ClosedAt).Format("2006-01-02 15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(f.colorize("[XSIG]", ansiDim))
	fmt.Fprintf(&sb, " %s %s closed %s %s -> %s pnl=%s roi=%s",
		t.Symbol, t.Side, t.Reason, formatPrice(t.EntryPrice), formatPrice(t.ExitPrice),
		f.colorize(fmt.Sprintf("%+.4f", t.RealizedPnL), col),
		f.colorize(fmt.Sprintf("%+.2f%%", t.RealizedROI), col))
	return sb.String()
}

func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	default:
		return fmt.Sprintf("%.8f", p)
	}
}
