package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/platform/logging"
)

const adminContextKey = "admin_session"

// TokenVerifier resolves admin bearer tokens.
type TokenVerifier interface {
	VerifyAdminToken(ctx context.Context, token string) (auth.AdminSession, error)
}

// AdminAuth 管理员认证中间件
func AdminAuth(verifier TokenVerifier, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			RespondError(c, http.StatusUnauthorized, "未提供认证token", nil)
			c.Abort()
			return
		}

		session, err := verifier.VerifyAdminToken(c.Request.Context(), token)
		if err != nil {
			logger.WarnTag("认证", "管理员令牌校验失败 %s: %v", c.ClientIP(), err)
			RespondError(c, http.StatusUnauthorized, "无效的token", nil)
			c.Abort()
			return
		}

		c.Set(adminContextKey, session)
		c.Next()
	}
}

// AdminFromContext returns the admin session set by AdminAuth.
func AdminFromContext(c *gin.Context) (auth.AdminSession, bool) {
	v, ok := c.Get(adminContextKey)
	if !ok {
		return auth.AdminSession{}, false
	}
	session, ok := v.(auth.AdminSession)
	return session, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
