package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

type stubRepo struct {
	err      error
	closeErr error
	signals  int
	trades   int
	univ     int
	closed   bool
}

func (s *stubRepo) SaveSignal(context.Context, model.SignalEvent) error {
	s.signals++
	return s.err
}

func (s *stubRepo) SaveTrade(context.Context, model.Trade) error {
	s.trades++
	return s.err
}

func (s *stubRepo) SaveUniverse(context.Context, *model.Universe) error {
	s.univ++
	return s.err
}

func (s *stubRepo) Close() error {
	s.closed = true
	return s.closeErr
}

func TestCompositeFansOutAndKeepsFirstError(t *testing.T) {
	first := errors.New("sqlite locked")
	a := &stubRepo{err: first}
	b := &stubRepo{err: errors.New("redis down")}
	c := &stubRepo{}
	r := New(a, nil, b, c)
	require.Equal(t, 3, r.Len())
	ctx := context.Background()

	assert.ErrorIs(t, r.SaveSignal(ctx, model.SignalEvent{}), first)
	assert.ErrorIs(t, r.SaveTrade(ctx, model.Trade{}), first)
	assert.ErrorIs(t, r.SaveUniverse(ctx, nil), first)

	for _, s := range []*stubRepo{a, b, c} {
		assert.Equal(t, 1, s.signals)
		assert.Equal(t, 1, s.trades)
		assert.Equal(t, 1, s.univ)
	}
}

func TestCompositeCloseJoinsErrors(t *testing.T) {
	e1, e2 := errors.New("a"), errors.New("b")
	a, b, c := &stubRepo{closeErr: e1}, &stubRepo{}, &stubRepo{closeErr: e2}

	err := New(a, b, c).Close()

	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.True(t, a.closed && b.closed && c.closed)
}
