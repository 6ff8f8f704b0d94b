package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/lscinspector/internal/common"
)

type errorKind struct {
	sentinel error
	status   int
	code     string
}

var errorKinds = []errorKind{
	{common.ErrValidation, http.StatusBadRequest, "validation_error"},
	{common.ErrConflict, http.StatusConflict, "conflict"},
	{common.ErrNotFound, http.StatusNotFound, "not_found"},
	{common.ErrDependency, http.StatusBadGateway, "dependency_error"},
	{common.ErrPersistence, http.StatusInternalServerError, "persistence_error"},
	{common.ErrEmptyDetection, http.StatusUnprocessableEntity, "empty_detection"},
	{common.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err as {"error": code, "message": ..., ...details}.
// Unclassified errors never leak their text.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	body := gin.H{"error": code}

	if e, ok := common.AsError(err); ok {
		body["message"] = e.Message
		if e.Status != 0 {
			body["upstream_status"] = e.Status
		}
		for k, v := range e.Details {
			body[k] = v
		}
	} else if code != "internal_error" {
		body["message"] = err.Error()
	} else {
		body["message"] = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	h.writeError(c, common.Validation(msg))
}
