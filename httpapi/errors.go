package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/secureshuttle/escrow/types"
)

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindAuthRequired:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindAlreadyTerminal, types.KindInvalidState:
		return http.StatusConflict
	case types.KindInvalidAddress:
		return http.StatusUnprocessableEntity
	case types.KindInsufficientFunds, types.KindInviteToken:
		return http.StatusBadRequest
	case types.KindRPCError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(c *gin.Context, err error) {
	kind := types.KindOf(err)
	if kind == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "internal error",
		})
		_ = c.Error(err)
		return
	}
	c.JSON(statusFor(kind), gin.H{
		"error":   string(kind),
		"message": err.Error(),
	})
}
