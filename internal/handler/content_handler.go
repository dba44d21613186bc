package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/middleware"
	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

// ContentHandler serves the four content variants and the distribution endpoint.
type ContentHandler struct {
	content      *service.ContentService
	distribution *service.DistributionService
}

// NewContentHandler creates a new handler.
func NewContentHandler(content *service.ContentService, distribution *service.DistributionService) *ContentHandler {
	return &ContentHandler{content: content, distribution: distribution}
}

func variantFromPath(c *gin.Context) models.ContentVariant {
	return models.ContentVariant(strings.ToUpper(c.Param("variant")))
}

// Create godoc
// @Summary Create content item
// @Description Create an untargeted content item (admin only)
// @Tags Content
// @Accept json
// @Produce json
// @Param variant path string true "Content variant (event, notice, exam, material)"
// @Param payload body service.CreateContentRequest true "Content payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /content/{variant} [post]
func (h *ContentHandler) Create(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid content payload"))
		return
	}
	req.Variant = variantFromPath(c)

	item, err := h.content.Create(c.Request.Context(), req, principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, item)
}

// List godoc
// @Summary List content items
// @Description List all items of one variant (admin view)
// @Tags Content
// @Produce json
// @Param variant path string true "Content variant"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /content/{variant} [get]
func (h *ContentHandler) List(c *gin.Context) {
	filter := models.ContentFilter{
		Variant: variantFromPath(c),
		Search:  c.Query("search"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	items, pagination, err := h.content.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get content item
// @Description Get one content item by id
// @Tags Content
// @Produce json
// @Param variant path string true "Content variant"
// @Param id path string true "Content ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /content/{variant}/{id} [get]
func (h *ContentHandler) Get(c *gin.Context) {
	item, err := h.content.Get(c.Request.Context(), variantFromPath(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, item, nil)
}

// Feed godoc
// @Summary Personal content feed
// @Description Items targeting the caller's family plus untargeted items
// @Tags Content
// @Produce json
// @Param variant path string true "Content variant"
// @Success 200 {object} response.Envelope
// @Router /content/{variant}/feed [get]
func (h *ContentHandler) Feed(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	items, cached, err := h.content.Feed(c.Request.Context(), principal, variantFromPath(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// Assign godoc
// @Summary Assign content to recipients
// @Description Add recipients to a content item and notify each of them (admin only)
// @Tags Content
// @Accept json
// @Produce json
// @Param variant path string true "Content variant"
// @Param id path string true "Content ID"
// @Param payload body service.AssignRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /content/{variant}/{id}/assign [post]
func (h *ContentHandler) Assign(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assign payload"))
		return
	}
	req.Variant = variantFromPath(c)
	req.ContentID = c.Param("id")

	result, err := h.distribution.Assign(c.Request.Context(), req, principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}
