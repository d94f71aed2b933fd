package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/services"
)

type DocumentHandler struct {
	documentService *services.DocumentService
	logger          *zap.Logger
	now             func() time.Time
}

func NewDocumentHandler(documentService *services.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          logger.With(zap.String("handler", "document")),
		now:             time.Now,
	}
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var filter services.DocumentFilter
	if v := queryPtr(c, "kind"); v != nil {
		kind := models.DocumentKind(*v)
		filter.Kind = &kind
	}
	if v := queryPtr(c, "status"); v != nil {
		status := models.DocumentStatus(*v)
		filter.Status = &status
	}
	filter.OwnerID = queryPtr(c, "ownerId")

	docs, err := h.documentService.List(c.Request.Context(), authFrom(c), filter)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, docs)
}

func (h *DocumentHandler) DueForReview(c *gin.Context) {
	before, err := queryDate(c, "before", h.now())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	docs, err := h.documentService.DueForReview(c.Request.Context(), authFrom(c), before)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.documentService.Get(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, doc)
}

func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	form := newFormReader(c)
	upload, closeFile := form.file("file")
	defer closeFile()

	roles := make([]models.Role, 0)
	for _, r := range form.list("visibleToRoles") {
		roles = append(roles, models.Role(r))
	}

	in := services.CreateDocumentInput{
		Kind:                 models.DocumentKind(form.value("kind")),
		Title:                form.value("title"),
		Version:              form.value("version"),
		OwnerID:              form.str("ownerId"),
		TemplateID:           form.str("templateId"),
		ReviewIntervalMonths: form.int("reviewIntervalMonths"),
		EffectiveFrom:        form.date("effectiveFrom"),
		EffectiveTo:          form.date("effectiveTo"),
		PlanSummary:          form.str("planSummary"),
		DoSummary:            form.str("doSummary"),
		CheckSummary:         form.str("checkSummary"),
		ActSummary:           form.str("actSummary"),
		VisibleToRoles:       roles,
		ChangeComment:        form.str("changeComment"),
		File:                 upload,
	}
	if err := form.err(); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	doc, err := h.documentService.Create(c.Request.Context(), authFrom(c), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, doc)
}

func (h *DocumentHandler) UploadVersion(c *gin.Context) {
	form := newFormReader(c)
	upload, closeFile := form.file("file")
	defer closeFile()

	in := services.UploadVersionInput{
		Version:          form.value("version"),
		ChangeComment:    form.str("changeComment"),
		ExpectedRevision: form.int("expectedRevision"),
		File:             upload,
	}
	if err := form.err(); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	doc, err := h.documentService.UploadNewVersion(c.Request.Context(), authFrom(c), c.Param("id"), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, doc)
}

func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	var in services.UpdateDocumentInput
	if err := bindJSON(c, &in, "effectiveFrom", "effectiveTo"); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	doc, err := h.documentService.Update(c.Request.Context(), authFrom(c), c.Param("id"), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, doc)
}

type revisionRequest struct {
	ExpectedRevision *int `json:"expectedRevision"`
}

func (h *DocumentHandler) ApproveDocument(c *gin.Context) {
	var req revisionRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			RespondError(c, h.logger, err)
			return
		}
	}

	doc, err := h.documentService.Approve(c.Request.Context(), authFrom(c), c.Param("id"), req.ExpectedRevision)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	if err := h.documentService.Delete(c.Request.Context(), authFrom(c), c.Param("id")); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	url, expiresAt, err := h.documentService.GetDownloadURL(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"url": url, "expiresAt": expiresAt})
}
