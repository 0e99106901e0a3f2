// Package handlers contains the gin HTTP handlers for the calcstore API.
package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// errorResponse is the envelope for all error payloads.
type errorResponse struct {
	Error common.ErrorDetail `json:"error"`
}

// respondError writes the error with the HTTP status mapped from its code.
// Non-AppError values surface as internal errors without leaking details.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	message := "internal error"
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Error: common.ErrorDetail{Code: string(code), Message: message},
	})
}

// pagination reads limit/offset query parameters, leaving clamping to the
// application layer.
func pagination(c *gin.Context) common.Pagination {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return common.Pagination{Limit: limit, Offset: offset}
}

// userID returns the opaque caller identity installed by the identity
// middleware, or empty when the request is anonymous.
func userID(c *gin.Context) common.UserID {
	return common.UserID(c.GetString("user_id"))
}

// bindJSON decodes the request body, converting decode failures into
// validation errors.
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, errors.Validation("malformed request body").WithCause(err))
		return false
	}
	return true
}

func created(c *gin.Context, body interface{}) {
	c.JSON(http.StatusCreated, body)
}

func ok(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}
