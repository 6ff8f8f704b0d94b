package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type analyzeRequest struct {
	URL      string `json:"url" binding:"required"`
	WeightID string `json:"weight_id"`
}

type demoRequest struct {
	URL string `json:"url" binding:"required"`
}

// readUpload reads the multipart "file" field. At most one byte over the
// limit is read so oversized uploads are still reported as such.
func (h *Handler) readUpload(c *gin.Context) ([]byte, string, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "no file uploaded")
		return nil, "", false
	}
	f, err := fh.Open()
	if err != nil {
		h.badRequest(c, "cannot read uploaded file")
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		h.badRequest(c, "cannot read uploaded file")
		return nil, "", false
	}
	if int64(len(data)) > h.maxUploadBytes {
		h.badRequest(c, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
		return nil, "", false
	}
	return data, fh.Filename, true
}

// Upload stages an image and returns its url and measurements.
func (h *Handler) Upload(c *gin.Context) {
	data, name, ok := h.readUpload(c)
	if !ok {
		return
	}
	up, err := h.files.Upload(c.Request.Context(), data, name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, up)
}

// Analyze classifies a staged image and records the result.
func (h *Handler) Analyze(c *gin.Context) {
	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "url is required")
		return
	}
	rec, err := h.files.Analyze(c.Request.Context(), currentUserID(c), body.URL, body.WeightID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Demo classifies a staged image with the demo model without recording it.
func (h *Handler) Demo(c *gin.Context) {
	var body demoRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "url is required")
		return
	}
	res, err := h.files.Demo(c.Request.Context(), body.URL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListFiles(c *gin.Context) {
	list, err := h.files.ListOwned(c.Request.Context(), currentUserID(c))
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

func (h *Handler) GetFile(c *gin.Context) {
	rec, err := h.files.GetOwned(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	if err := h.files.DeleteOwned(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearFiles deletes every record of the caller.
func (h *Handler) ClearFiles(c *gin.Context) {
	n, err := h.files.ClearOwned(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
