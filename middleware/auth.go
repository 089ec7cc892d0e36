package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/coursestore/contextx"
	"github.com/wyfcoding/coursestore/jwt"
	"github.com/wyfcoding/coursestore/response"
)

const claimsKey = "jwt_claims"

// JWTAuth 校验 Authorization: Bearer <token>，并把用户信息注入 gin 与请求 Context。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		ctx := contextx.WithUserID(c.Request.Context(), strconv.FormatUint(claims.UserID, 10))
		if len(claims.Roles) > 0 {
			ctx = contextx.WithRole(ctx, claims.Roles[0])
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole 必须在 JWTAuth 之后注册。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok || !claims.HasRole(role) {
			response.ErrorWithStatus(c, http.StatusForbidden, "insufficient role permissions")
			return
		}
		c.Next()
	}
}

// Claims 取出 JWTAuth 注入的令牌载荷。
func Claims(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}
