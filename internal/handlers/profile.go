package handlers

import (
	"net/http"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/gin-gonic/gin"
)

// LoginToViewProfile is returned to anonymous requests for profile pages.
const LoginToViewProfile = "Login to view profile."

type ProfileHandler struct {
	userService        *services.UserService
	sponsorshipService *services.SponsorshipService
	sessions           *middleware.SessionManager
}

func NewProfileHandler(
	userService *services.UserService,
	sponsorshipService *services.SponsorshipService,
	sessions *middleware.SessionManager,
) *ProfileHandler {
	return &ProfileHandler{
		userService:        userService,
		sponsorshipService: sponsorshipService,
		sessions:           sessions,
	}
}

type sponsorView struct {
	models.SponsorNode
	Amount string `json:"amount"`
}

type providerSponsorshipsView struct {
	Provider     models.Provider `json:"provider"`
	Username     string          `json:"username"`
	Verified     bool            `json:"verified"`
	Sponsorships []sponsorView   `json:"sponsorships"`
}

// Profile lists the sponsorships the logged-in user made through each provider
func (h *ProfileHandler) Profile(c *gin.Context) {
	session := middleware.GetSession(c)

	byProvider, err := h.sponsorshipService.Sponsorships(c.Request.Context(), session.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]providerSponsorshipsView, 0, len(byProvider))
	for _, p := range byProvider {
		view := providerSponsorshipsView{
			Provider:     p.Provider,
			Username:     p.Username,
			Verified:     p.Verified,
			Sponsorships: make([]sponsorView, 0, len(p.Sponsorships)),
		}
		for _, node := range p.Sponsorships {
			view.Sponsorships = append(view.Sponsorships, sponsorView{SponsorNode: node, Amount: models.FormatCents(node.Total)})
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"username":  session.Username,
		"providers": views,
	})
}

type updateUsernameRequest struct {
	Username string `json:"username" binding:"required"`
}

// UpdateUsername renames the logged-in user
func (h *ProfileHandler) UpdateUsername(c *gin.Context) {
	session := middleware.GetSession(c)

	var req updateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperror.ValidationFailed("username", "username is required"))
		return
	}

	ok, err := h.userService.UpdateUsername(c.Request.Context(), session.UserID, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, apperror.Conflict("username", req.Username))
		return
	}

	user, err := h.userService.GetUserByID(c.Request.Context(), session.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.sessions.Set(c, user.UserID, user.Username); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": user.Username})
}
