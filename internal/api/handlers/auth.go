package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/services"
)

const SessionCookie = "session_token"

type AuthHandler struct {
	sessionService *services.SessionService
	logger         *zap.Logger
	cookieSecure   bool
}

func NewAuthHandler(sessionService *services.SessionService, cookieSecure bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessionService: sessionService,
		logger:         logger.With(zap.String("handler", "auth")),
		cookieSecure:   cookieSecure,
	}
}

// SessionToken reads the bearer token, falling back to the session cookie.
func SessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	token, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return token
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var in services.LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "email and password required")
		return
	}
	in.IPAddress = c.ClientIP()
	in.UserAgent = c.Request.UserAgent()

	session, err := ah.sessionService.Login(c.Request.Context(), in)
	if err != nil {
		RespondError(c, ah.logger, err)
		return
	}

	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, session.Token, maxAge, "/", "", ah.cookieSecure, true)
	respond(c, http.StatusOK, gin.H{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"userId":    session.Auth.UserID,
		"email":     session.Auth.UserEmail,
		"tenantId":  session.Auth.TenantID,
		"role":      session.Auth.Role,
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	if token := SessionToken(c); token != "" {
		ah.sessionService.Logout(token)
		ah.logger.Info("User logged out", zap.String("ip", c.ClientIP()))
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", ah.cookieSecure, true)
	respond(c, http.StatusOK, gin.H{"loggedOut": true})
}
