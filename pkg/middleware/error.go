package middleware

import (
	"net/http"

	"digitalstore/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error translates errors recorded on the gin context into the JSON error
// envelope. Must be registered before any handler that calls c.Error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		internal := errutil.BaseError{Code: errutil.StatusInternal, Message: "internal server error"}
		c.JSON(http.StatusInternalServerError, internal.JSON())
	}
}
