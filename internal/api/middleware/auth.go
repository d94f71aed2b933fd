package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/api/handlers"
	"github.com/hmsportal/hms/internal/services"
)

// Authenticator resolves a session token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (services.AuthContext, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
	logger        *zap.Logger
}

func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := handlers.SessionToken(c)
		if token == "" {
			handlers.Fail(c, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		auth, err := am.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			handlers.RespondError(c, am.logger, err)
			return
		}

		c.Set(handlers.AuthKey, auth)
		c.Next()
	}
}
