package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

var notFound = []error{
	exception.ErrUnknownAlarm,
	exception.ErrUnknownLoop,
	exception.ErrUnknownTag,
	exception.ErrUnknownModule,
	exception.ErrUnknownInterlock,
	exception.ErrUnknownUnit,
	exception.ErrUnknownRecipe,
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps a controller error to an HTTP status.
func statusFor(err error) int {
	for _, sentinel := range notFound {
		if errors.Is(err, sentinel) {
			return http.StatusNotFound
		}
	}
	switch exception.KindOf(err) {
	case exception.KindRejected, exception.KindSafety:
		return http.StatusConflict
	case exception.KindConfiguration:
		return http.StatusBadRequest
	case exception.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	kind := exception.KindOf(err)
	resp := ErrorResponse{Error: exception.ExtractErrorMessage(err)}
	if kind != exception.KindUnknown {
		resp.Kind = kind.String()
	}
	c.AbortWithStatusJSON(statusFor(err), resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}
