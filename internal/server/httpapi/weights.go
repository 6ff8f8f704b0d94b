package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/lscinspector/internal/server/services"
)

type deployRequest struct {
	Workspace string `json:"workspace"`
	Project   string `json:"project"`
	APIKey    string `json:"api_key"`
	Version   int    `json:"version"`
	ModelType string `json:"model_type"`
	Kind      string `json:"kind"`
	// ModelPath is relative to the server's weights directory.
	ModelPath string `json:"model_path"`
}

func (h *Handler) DeployWeight(c *gin.Context) {
	var body deployRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	w, err := h.weights.Deploy(c.Request.Context(), currentUserID(c), services.DeployInput{
		Workspace: body.Workspace,
		Project:   body.Project,
		APIKey:    body.APIKey,
		Version:   body.Version,
		ModelType: body.ModelType,
		Kind:      body.Kind,
		ModelPath: body.ModelPath,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListWeights(c *gin.Context) {
	list, err := h.weights.ListOwned(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if len(list) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetWeight(c *gin.Context) {
	w, err := h.weights.GetOwned(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// DeleteWeight removes a model and every record analysed with it.
func (h *Handler) DeleteWeight(c *gin.Context) {
	if err := h.weights.DeleteOwned(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
