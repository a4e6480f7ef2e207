package billing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/billing/checkout-session", h.createCheckoutSession)
	r.GET("/api/billing/subscription", h.getSubscription)
	r.POST("/api/billing/portal-session", h.createPortalSession)
}

func (h *Handler) createCheckoutSession(c *gin.Context) {
	var body struct {
		UserID string `json:"userId" binding:"required"`
		PlanID string `json:"planId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and planId are required"})
		return
	}
	url, err := h.svc.CreateCheckoutSession(c.Request.Context(), body.UserID, body.PlanID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidPlan):
			status = http.StatusBadRequest
		case errors.Is(err, ErrUserNotFound):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) getSubscription(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	status, err := h.svc.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) createPortalSession(c *gin.Context) {
	var body struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	url, err := h.svc.CreatePortalSession(c.Request.Context(), body.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoSubscription) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
