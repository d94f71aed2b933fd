package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/services"
)

type UserHandler struct {
	memberService *services.MemberService
	logger        *zap.Logger
}

func NewUserHandler(memberService *services.MemberService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		memberService: memberService,
		logger:        logger.With(zap.String("handler", "user")),
	}
}

func (uh *UserHandler) Me(c *gin.Context) {
	me, err := uh.memberService.Me(c.Request.Context(), authFrom(c))
	if err != nil {
		RespondError(c, uh.logger, err)
		return
	}
	respond(c, http.StatusOK, me)
}

func (uh *UserHandler) ListUsers(c *gin.Context) {
	members, err := uh.memberService.List(c.Request.Context(), authFrom(c))
	if err != nil {
		RespondError(c, uh.logger, err)
		return
	}
	respond(c, http.StatusOK, members)
}
