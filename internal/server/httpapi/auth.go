package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	UserName string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type profileRequest struct {
	UserName string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

type passwordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var body registerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "username, email and password are required")
		return
	}
	p, err := h.users.Register(c.Request.Context(), body.UserName, body.Email, body.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) Login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "email and password are required")
		return
	}
	res, err := h.users.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Refresh(c *gin.Context) {
	var body refreshRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "refresh_token is required")
		return
	}
	pair, err := h.users.RefreshToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Me(c *gin.Context) {
	p, err := h.users.Me(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var body profileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "username and email are required")
		return
	}
	p, err := h.users.UpdateProfile(c.Request.Context(), currentUserID(c), body.UserName, body.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var body passwordRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "old_password and new_password are required")
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), currentUserID(c), body.OldPassword, body.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChangeProfileImage(c *gin.Context) {
	data, name, ok := h.readUpload(c)
	if !ok {
		return
	}
	p, err := h.users.ChangeProfileImage(c.Request.Context(), currentUserID(c), data, name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
