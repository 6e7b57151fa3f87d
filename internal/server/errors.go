package server

import (
	"errors"
	"net/http"
	"strings"

	integrationdomain "github.com/forgeapps/metering/internal/integration/domain"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	paymentdomain "github.com/forgeapps/metering/internal/payment/domain"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/internal/ratelimit"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, integrationdomain.ErrIntegrationLimitReached):
		return http.StatusForbidden, errorPayload{
			Type:    "integration_limit_reached",
			Message: err.Error(),
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
		}
	case errors.Is(err, plandomain.ErrDuplicatePlanName):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "plan name already exists",
		}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionCancelled),
		errors.Is(err, integrationdomain.ErrIntegrationDisabled):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, integrationdomain.ErrConnectorFailure):
		return http.StatusBadGateway, errorPayload{
			Type:    "connector_failure",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "ledger_unavailable",
			Message: "credit ledger temporarily unavailable",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, plandomain.ErrInvalidPlanName),
		errors.Is(err, plandomain.ErrInvalidCredits),
		errors.Is(err, plandomain.ErrInvalidPrice),
		errors.Is(err, subscriptiondomain.ErrInvalidMember),
		errors.Is(err, subscriptiondomain.ErrInvalidBillingPeriod),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, subscriptiondomain.ErrInvalidTrialDays),
		errors.Is(err, ledgerdomain.ErrInvalidMember),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidType),
		errors.Is(err, usagedomain.ErrInvalidMember),
		errors.Is(err, usagedomain.ErrInvalidResourceType),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidCreditCost),
		errors.Is(err, integrationdomain.ErrInvalidIntegrationName),
		errors.Is(err, integrationdomain.ErrInvalidProvider),
		errors.Is(err, integrationdomain.ErrInvalidConfig),
		errors.Is(err, integrationdomain.ErrQueryNotAllowed),
		errors.Is(err, paymentdomain.ErrMalformedEvent),
		errors.Is(err, paymentdomain.ErrInvalidMember):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, integrationdomain.ErrIntegrationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	root := err
	for {
		unwrapped := errors.Unwrap(root)
		if unwrapped == nil {
			break
		}
		root = unwrapped
	}
	return root.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
