package server

import (
	"errors"
	"net/http"

	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if s.usageLimiter != nil && req.MemberID != 0 {
		if _, err := s.usageLimiter.Allow(c.Request.Context(), req.MemberID); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	record, err := s.usageSvc.RecordUsage(c.Request.Context(), req)
	if err != nil {
		// The record survives an insufficient-credits failure; surface both.
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) && record != nil {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"usage_record": record,
				"error": errorPayload{
					Type:    "insufficient_credits",
					Message: "insufficient credits",
				},
			})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) ListUsage(c *gin.Context) {
	memberID, err := parseIDParam(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		MemberID:     memberID,
		ResourceType: usagedomain.ResourceType(c.Query("resource_type")),
		Limit:        parseLimitQuery(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage_records": records})
}
