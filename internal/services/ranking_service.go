package services

import (
	"context"
	"sync"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/pkg/logger"
)

type RankingService struct {
	rankingRepo *repositories.RankingRepository
	refreshMu   sync.Mutex
}

func NewRankingService(rankingRepo *repositories.RankingRepository) *RankingService {
	return &RankingService{
		rankingRepo: rankingRepo,
	}
}

// UpdateRankedUsersView recomputes the ranked snapshot. A call made while another
// refresh is running returns immediately.
func (s *RankingService) UpdateRankedUsersView(ctx context.Context) error {
	if !s.refreshMu.TryLock() {
		logger.Debugf("Ranked users refresh already running, skipping")
		return nil
	}
	defer s.refreshMu.Unlock()

	if err := s.rankingRepo.Refresh(ctx); err != nil {
		return err
	}
	logger.Debugf("Updated ranked users view")
	return nil
}

func (s *RankingService) RankedTotals(ctx context.Context, maxNum int) ([]models.RankedUser, error) {
	return s.rankingRepo.RankedTotals(ctx, maxNum)
}

func (s *RankingService) RankedMonths(ctx context.Context, maxNum int) ([]models.RankedUser, error) {
	return s.rankingRepo.RankedMonths(ctx, maxNum)
}

// RankingForAmount places the amounts in the last refreshed snapshot, which may
// lag behind amounts refreshed moments ago.
func (s *RankingService) RankingForAmount(ctx context.Context, monthAmount, totalAmount *int64) (models.UserRank, error) {
	return s.rankingRepo.RankingForAmount(ctx, monthAmount, totalAmount)
}

// RankingForUser ranks a user's combined amounts.
func (s *RankingService) RankingForUser(ctx context.Context, user *models.DisplayUser) (models.UserRank, error) {
	if user == nil {
		return models.Unranked(), nil
	}
	return s.RankingForAmount(ctx, user.Month(), user.Total())
}
