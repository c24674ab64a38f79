package handlers

import (
	"net/http"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/gin-gonic/gin"
)

type UsersHandler struct {
	sponsorshipService *services.SponsorshipService
}

func NewUsersHandler(sponsorshipService *services.SponsorshipService) *UsersHandler {
	return &UsersHandler{
		sponsorshipService: sponsorshipService,
	}
}

type overviewResponse struct {
	*models.DisplayUser
	Total *int64 `json:"total"`
	Month *int64 `json:"month"`
}

// Overview returns a user's sponsorship amounts
func (h *UsersHandler) Overview(c *gin.Context) {
	display, err := h.sponsorshipService.SearchOverview(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, overviewResponse{
		DisplayUser: display,
		Total:       display.Total(),
		Month:       display.Month(),
	})
}
