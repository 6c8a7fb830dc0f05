// internal/api/errors.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/types"
)

type errorResponse struct {
	Error    string                `json:"error"`
	Message  string                `json:"message"`
	Detail   string                `json:"detail,omitempty"`
	Expected uint64                `json:"expected,omitempty"`
	Actual   uint64                `json:"actual,omitempty"`
	Reserves *types.ReserveContext `json:"reserves,omitempty"`
}

var kindStatus = map[types.ErrorKind]int{
	types.KindInvalidAmount:         http.StatusBadRequest,
	types.KindTokenNotFound:         http.StatusNotFound,
	types.KindTokenNotTradable:      http.StatusConflict,
	types.KindContention:            http.StatusConflict,
	types.KindInsufficientLiquidity: http.StatusUnprocessableEntity,
	types.KindSlippageExceeded:      http.StatusUnprocessableEntity,
	types.KindPersistenceFailure:    http.StatusServiceUnavailable,
}

var kindMessage = map[types.ErrorKind]string{
	types.KindTokenNotFound:         "token not found",
	types.KindTokenNotTradable:      "token has graduated or is inactive and no longer trades on the curve",
	types.KindContention:            "token is busy, retry the request",
	types.KindInsufficientLiquidity: "not enough liquidity on the curve, reduce the trade size",
	types.KindSlippageExceeded:      "price impact too high, increase slippage tolerance or reduce size",
	types.KindPersistenceFailure:    "trade was not executed, retry later",
}

func (s *Server) writeError(c *gin.Context, err error) {
	var te *types.TradeError
	switch {
	case errors.As(err, &te):
		msg, ok := kindMessage[te.Kind]
		if !ok {
			msg = te.Message
		}
		c.JSON(kindStatus[te.Kind], errorResponse{
			Error:    string(te.Kind),
			Message:  msg,
			Detail:   te.Error(),
			Expected: te.Expected,
			Actual:   te.Actual,
			Reserves: te.Reserves,
		})
	case errors.Is(err, storage.ErrDuplicateKey):
		c.JSON(http.StatusConflict, errorResponse{Error: "duplicate", Message: "token already exists"})
	case errors.Is(err, settlement.ErrEngineClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "server is shutting down"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, errorResponse{Error: "cancelled", Message: "request cancelled before the trade started"})
	default:
		s.logger.Error("Unhandled API error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:   string(types.KindInvalidAmount),
		Message: "malformed request body",
		Detail:  err.Error(),
	})
}

func badRequestMsg(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: string(types.KindInvalidAmount), Message: msg})
}
