package webhooks

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
	r.POST("/webhooks/stripe", h.handleStripe)
}

// handleStripe passes the raw body through untouched; signature verification
// needs the exact bytes Stripe sent.
func (h *Handler) handleStripe(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	err = h.svc.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
	case err != nil:
		// Non-2xx makes Stripe retry the delivery later.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
