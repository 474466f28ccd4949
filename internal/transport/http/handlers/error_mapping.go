package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCase maps a sentinel error to an HTTP status code, error code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondWithMappedError resolves err against known cases. Unmatched errors are attached to the
// gin context for the access log and answered with a generic internal_error.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message, cs.Code))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Internal server error", CodeInternal))
}

func respondInvalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, message, CodeInvalidRequest))
}
