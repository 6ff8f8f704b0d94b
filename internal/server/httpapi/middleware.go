package httpapi

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	"github.com/dmitrijs2005/lscinspector/internal/logging"
	"github.com/dmitrijs2005/lscinspector/internal/server/auth"
)

// AuthMiddleware accepts "Authorization: Bearer <access token>" and stores
// the user id under common.UserIDContextKey.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		if header == "" {
			h.writeError(c, common.Unauthorized("authorization token is required"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			h.writeError(c, common.Unauthorized("authorization header format must be Bearer {token}"))
			return
		}

		userID, err := auth.GetUserIDFromToken(parts[1], h.secret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, common.ErrTokenExpired) {
				msg = "token expired"
			}
			h.writeError(c, common.Unauthorized(msg))
			return
		}

		c.Set(common.UserIDContextKey, userID)
		c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), "user_id", userID))
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(common.UserIDContextKey)
}
