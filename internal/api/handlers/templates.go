package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/services"
)

type TemplateHandler struct {
	documentService *services.DocumentService
	logger          *zap.Logger
}

func NewTemplateHandler(documentService *services.DocumentService, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		documentService: documentService,
		logger:          logger.With(zap.String("handler", "template")),
	}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	tpls, err := h.documentService.ListTemplates(c.Request.Context(), authFrom(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, tpls)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var in services.CreateTemplateInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	tpl, err := h.documentService.CreateTemplate(c.Request.Context(), authFrom(c), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, tpl)
}
