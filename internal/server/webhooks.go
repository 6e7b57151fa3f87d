package server

import (
	"net/http"

	paymentdomain "github.com/forgeapps/metering/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

// HandleStripeWebhook acknowledges with 200 on success so the provider stops
// redelivering; translation failures for known subscriptions return 5xx to
// force a retry.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	var event paymentdomain.ProviderEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, paymentdomain.ErrMalformedEvent)
		return
	}

	if err := s.paymentSvc.HandleStripeEvent(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
