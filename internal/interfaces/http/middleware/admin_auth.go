package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// AdminTokenHeader is the alternative to a Bearer Authorization header
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards the operator endpoints with a static shared token. An
// empty token rejects every request.
func AdminAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			abortUnauthorized(c, "Admin API is disabled")
			return
		}

		presented := extractAdminToken(c)
		if presented == "" {
			abortUnauthorized(c, "Missing admin token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			abortUnauthorized(c, "Invalid admin token")
			return
		}
		c.Next()
	}
}

func extractAdminToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.GetHeader(AdminTokenHeader))
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, message, GetRequestID(c)))
}
