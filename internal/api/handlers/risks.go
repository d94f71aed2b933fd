package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/services"
)

type RiskHandler struct {
	riskService *services.RiskService
	logger      *zap.Logger
	now         func() time.Time
}

func NewRiskHandler(riskService *services.RiskService, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{
		riskService: riskService,
		logger:      logger.With(zap.String("handler", "risk")),
		now:         time.Now,
	}
}

func (h *RiskHandler) ListRisks(c *gin.Context) {
	var filter services.RiskFilter
	if v := queryPtr(c, "status"); v != nil {
		status := models.RiskStatus(*v)
		filter.Status = &status
	}
	if v := queryPtr(c, "category"); v != nil {
		category := models.RiskCategory(*v)
		filter.Category = &category
	}
	filter.OwnerID = queryPtr(c, "ownerId")

	risks, err := h.riskService.List(c.Request.Context(), authFrom(c), filter)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risks)
}

func (h *RiskHandler) DueForReview(c *gin.Context) {
	before, err := queryDate(c, "before", h.now())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	risks, err := h.riskService.DueForReview(c.Request.Context(), authFrom(c), before)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risks)
}

func (h *RiskHandler) Matrix(c *gin.Context) {
	m, err := h.riskService.Matrix(c.Request.Context(), authFrom(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, m)
}

func (h *RiskHandler) GetRisk(c *gin.Context) {
	risk, err := h.riskService.Get(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risk)
}

func (h *RiskHandler) CreateRisk(c *gin.Context) {
	var in services.CreateRiskInput
	if err := bindJSON(c, &in, "nextReviewDate"); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	risk, err := h.riskService.Create(c.Request.Context(), authFrom(c), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, risk)
}

func (h *RiskHandler) UpdateRisk(c *gin.Context) {
	var in services.UpdateRiskInput
	if err := bindJSON(c, &in, "nextReviewDate"); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	risk, err := h.riskService.Update(c.Request.Context(), authFrom(c), c.Param("id"), in)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risk)
}

type linkRequest struct {
	ID *string `json:"id"`
}

func (h *RiskHandler) LinkGoal(c *gin.Context) {
	var req linkRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	risk, err := h.riskService.LinkGoal(c.Request.Context(), authFrom(c), c.Param("id"), req.ID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risk)
}

func (h *RiskHandler) LinkInspectionTemplate(c *gin.Context) {
	var req linkRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	risk, err := h.riskService.LinkInspectionTemplate(c.Request.Context(), authFrom(c), c.Param("id"), req.ID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risk)
}

func (h *RiskHandler) MarkReviewed(c *gin.Context) {
	risk, err := h.riskService.MarkReviewed(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, risk)
}
