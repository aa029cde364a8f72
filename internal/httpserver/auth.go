package httpserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeySubject = "auth_subject"
	bearerPrefix      = "Bearer "
)

// authMiddleware validates an HS256 bearer token and stashes its subject on
// the request context. It only identifies the caller; authorization policy
// is out of scope for this service.
func authMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, "missing bearer token"))
			return
		}
		raw := strings.TrimPrefix(header, bearerPrefix)
		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return signingKey, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, "invalid token"))
			return
		}
		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, "token has no subject"))
			return
		}
		ctx.Set(contextKeySubject, subject)
		ctx.Next()
	}
}

func callerSubject(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeySubject)
	if !ok {
		return ""
	}
	subject, _ := value.(string)
	return subject
}
