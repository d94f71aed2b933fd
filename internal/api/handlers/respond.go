package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/services"
)

// AuthKey is the gin context key holding the caller's services.AuthContext.
const AuthKey = "auth"

func authFrom(c *gin.Context) services.AuthContext {
	v, ok := c.Get(AuthKey)
	if !ok {
		return services.AuthContext{}
	}
	auth, _ := v.(services.AuthContext)
	return auth
}

func requestID(c *gin.Context) string {
	id, _ := c.Request.Context().Value(RequestIDKey).(string)
	return id
}

type ctxKey string

// RequestIDKey carries the request id on the request context.
const RequestIDKey ctxKey = "request_id"

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func Fail(c *gin.Context, status int, msg string, extra gin.H) {
	body := gin.H{"success": false, "error": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// RespondError maps the service error taxonomy onto HTTP. Unclassified errors
// are logged and reported with a generic message.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		ve   *services.ValidationError
		dup  *services.DuplicateSlugError
		dupV *services.DuplicateVersionError
		se   *services.StorageError
	)

	switch {
	case errors.As(err, &ve):
		Fail(c, http.StatusBadRequest, "validation failed", gin.H{"fields": ve.Fields})
	case errors.Is(err, services.ErrInvalidSession):
		Fail(c, http.StatusUnauthorized, "authentication required", nil)
	case errors.Is(err, services.ErrInvalidLogin), errors.Is(err, services.ErrAccountLocked):
		Fail(c, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, services.ErrUnauthorized):
		Fail(c, http.StatusForbidden, "no access", nil)
	case errors.Is(err, services.ErrNotFound):
		Fail(c, http.StatusNotFound, "not found", nil)
	case errors.Is(err, services.ErrInvalidOwner):
		Fail(c, http.StatusBadRequest, "validation failed", gin.H{"fields": gin.H{"ownerId": err.Error()}})
	case errors.As(err, &dup):
		Fail(c, http.StatusConflict, dup.Error(), gin.H{"existingId": dup.ExistingID})
	case errors.As(err, &dupV):
		Fail(c, http.StatusConflict, dupV.Error(), nil)
	case errors.Is(err, services.ErrConflict):
		Fail(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, services.ErrProtectedKind):
		Fail(c, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &se):
		logger.Error("Storage failure",
			zap.String("request_id", requestID(c)),
			zap.String("op", se.Op),
			zap.Error(se.Err))
		Fail(c, http.StatusBadGateway, "file storage is unavailable, try again later", nil)
	default:
		logger.Error("Unhandled error",
			zap.String("request_id", requestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		Fail(c, http.StatusInternalServerError, "something went wrong", nil)
	}
}

func badRequest(c *gin.Context, msg string) {
	Fail(c, http.StatusBadRequest, msg, nil)
}
