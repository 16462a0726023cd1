package console

import (
	"context"
	"fmt"
	"io"
	"os"

	"xsig/internal/application/port"
)

// Sink 把已发布的信号（和可选的平仓记录）逐行打印
type Sink struct {
	out    io.Writer
	format Formatter
	trades bool
}

func NewSink(trades bool) *Sink {
	return NewSinkWriter(os.Stdout, Formatter{Color: true}, trades)
}

func NewSinkWriter(out io.Writer, f Formatter, trades bool) *Sink {
	return &Sink{out: out, format: f, trades: trades}
}

// Run 消费事件直到通道关闭或 ctx 结束
func (s *Sink) Run(ctx context.Context, events <-chan port.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Write(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) Write(ev port.Event) error {
	var line string
	switch {
	case ev.Kind == port.EventSignal && ev.Signal != nil:
		line = s.format.Signal(*ev.Signal)
	case ev.Kind == port.EventTrade && ev.Trade != nil && s.trades:
		line = s.format.Trade(*ev.Trade)
	default:
		return nil
	}
	_, err := fmt.Fprintln(s.out, line)
	return err
}
