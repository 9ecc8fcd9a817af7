package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// RespondError writes the failure envelope with the status mapped from the
// error kind. Unknown errors never leak their text.
func RespondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	body := &errorBody{Code: kind.Code(), Message: domain.MessageOf(err)}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Details = de.Details
	}
	status := kind.HTTPStatus()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, envelope{Success: false, Error: body})
}
