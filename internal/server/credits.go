package server

import (
	"net/http"

	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetCreditBalance(c *gin.Context) {
	memberID, err := parseIDParam(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	memberID, err := parseIDParam(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	transactions, err := s.ledgerSvc.ListTransactions(c.Request.Context(), memberID, parseLimitQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

type allocateCreditsRequest struct {
	Amount      int64                              `json:"amount"`
	Type        ledgerdomain.CreditTransactionType `json:"type"`
	Description string                             `json:"description"`
}

// AllocateCredits is the manual grant endpoint for purchases, bonuses and
// refunds.
func (s *Server) AllocateCredits(c *gin.Context) {
	memberID, err := parseIDParam(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req allocateCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Type == "" {
		req.Type = ledgerdomain.TransactionTypeBonus
	}

	balance, err := s.ledgerSvc.Allocate(c.Request.Context(), ledgerdomain.AllocateRequest{
		MemberID:    memberID,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) ListPayments(c *gin.Context) {
	memberID, err := parseIDParam(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payments, err := s.paymentSvc.ListPayments(c.Request.Context(), memberID, parseLimitQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}
