package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/gin-gonic/gin"
)

type HomeHandler struct {
	sponsorshipService *services.SponsorshipService
	rankingService     *services.RankingService
	sessions           *middleware.SessionManager
	leaderboardSize    int
	now                func() time.Time
}

func NewHomeHandler(
	sponsorshipService *services.SponsorshipService,
	rankingService *services.RankingService,
	sessions *middleware.SessionManager,
	leaderboardSize int,
) *HomeHandler {
	return &HomeHandler{
		sponsorshipService: sponsorshipService,
		rankingService:     rankingService,
		sessions:           sessions,
		leaderboardSize:    leaderboardSize,
		now:                time.Now,
	}
}

type homeResponse struct {
	User        *models.DisplayUser `json:"user"`
	Rank        *models.UserRank    `json:"rank"`
	Date        string              `json:"date"`
	RankedTotal []models.RankedUser `json:"ranked_total"`
	RankedMonth []models.RankedUser `json:"ranked_month"`
}

// Index returns the leaderboards and, for logged-in users, their own amounts and rank
func (h *HomeHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	response := homeResponse{
		Date: h.now().UTC().Format("January 2006"),
	}

	if session := middleware.GetSession(c); session != nil {
		display, err := h.sponsorshipService.OverviewByID(ctx, session.UserID)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			// the user is gone or no longer verified
			h.sessions.Clear(c)
		case err != nil:
			respondError(c, err)
			return
		default:
			rank, err := h.rankingService.RankingForUser(ctx, display)
			if err != nil {
				respondError(c, err)
				return
			}
			response.User = display
			response.Rank = &rank
		}
	}

	var err error
	if response.RankedTotal, err = h.rankingService.RankedTotals(ctx, h.leaderboardSize); err != nil {
		respondError(c, err)
		return
	}
	if response.RankedMonth, err = h.rankingService.RankedMonths(ctx, h.leaderboardSize); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}
