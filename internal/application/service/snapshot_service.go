package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// SnapshotService 持久化每一份新的品种快照
type SnapshotService struct {
	repo port.SignalRepository
}

func NewSnapshotService(repo port.SignalRepository) *SnapshotService {
	return &SnapshotService{repo: repo}
}

func (s *SnapshotService) Run(ctx context.Context, snapshots <-chan *model.Universe) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-snapshots:
			if u == nil {
				continue
			}
			if err := s.repo.SaveUniverse(ctx, u); err != nil {
				log.Warn().Err(err).Int("instruments", u.Len()).Msg("persist universe failed")
			}
		}
	}
}
