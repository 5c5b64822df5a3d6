package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/pkg/models"
)

// statusFor maps the sentinel error taxonomy onto HTTP. Anything unmapped
// is a 500; ErrEscrowRPC is a 502 because the failure sits between us and
// the chain, not in the request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrEscrowRPC):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondErr(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
