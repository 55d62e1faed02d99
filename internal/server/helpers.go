package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/pkg/schema"
)

// httpStatus maps an error code to an HTTP status.
func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeInterpolation, schema.ErrCodeExpression:
		return http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeNotRestartable:
		return http.StatusConflict
	case schema.ErrCodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as an ErrorResponse. Structured errors keep their
// code and details.
func writeError(c *gin.Context, err error) {
	if jfErr, ok := schema.AsJobflowError(err); ok {
		status := httpStatus(jfErr.Code)
		c.JSON(status, ErrorResponse{
			Error:   jfErr.Error(),
			Code:    jfErr.Code,
			Status:  status,
			Details: jfErr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:  msg,
		Code:   schema.ErrCodeValidation,
		Status: http.StatusBadRequest,
	})
}

// queryInt extracts an integer query param with a default value.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
