package composite

import (
	"context"
	"errors"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

type Repo struct {
	repos []port.SignalRepository
}

func New(repos ...port.SignalRepository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.SignalRepository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

// Len 下游存储数量
func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) SaveSignal(ctx context.Context, ev model.SignalEvent) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveSignal(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SaveTrade(ctx context.Context, t model.Trade) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveTrade(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SaveUniverse(ctx context.Context, u *model.Universe) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveUniverse(ctx, u); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close 关闭全部下游，返回合并后的错误
func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.SignalRepository = (*Repo)(nil)
