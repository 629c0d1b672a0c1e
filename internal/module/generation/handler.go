package generation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genforge/server/internal/module/credits"
	"github.com/genforge/server/internal/module/pricing"
	"github.com/genforge/server/internal/utils/middleware"
)

// Handler handles HTTP requests for generations.
type Handler struct {
	service *Service
	catalog *Catalog
}

// NewHandler creates a new generation handler.
func NewHandler(service *Service, catalog *Catalog) *Handler {
	return &Handler{service: service, catalog: catalog}
}

// RegisterRoutes registers the generation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	gens := r.Group("/generations")
	{
		gens.POST("", h.Create)
		gens.GET("", h.List)
		gens.GET("/:id", h.Get)
	}
	r.GET("/models", h.ListModels)
}

// Create starts a new generation.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	gen, err := h.service.Create(c.Request.Context(), userID, &CreateRequest{
		Model: req.Model,
		Input: req.Input,
		Units: req.Units,
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gen.ToResponse())
}

func (h *Handler) writeCreateError(c *gin.Context, err error) {
	var limitErr *LimitExceededError
	var insufficientErr *credits.InsufficientCreditsError
	switch {
	case errors.Is(err, ErrModelNotSupported):
		c.JSON(http.StatusNotFound, gin.H{"error": "model_not_supported"})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, pricing.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "insufficient_credits",
			"required":  insufficientErr.Required,
			"available": insufficientErr.Available,
		})
	case errors.As(err, &limitErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "limit_exceeded",
			"reason": limitErr.Reason,
		})
	case errors.Is(err, ErrProviderClient):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_rejected_request"})
	case errors.Is(err, ErrProviderTransient):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create generation"})
	}
}

// Get returns one generation.
func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid generation id"})
		return
	}

	gen, err := h.service.Get(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get generation"})
		return
	}

	c.JSON(http.StatusOK, gen.ToResponse())
}

// List returns the user's generations, newest first.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	gens, total, err := h.service.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list generations"})
		return
	}

	responses := make([]*GenerationResponse, len(gens))
	for i, gen := range gens {
		responses[i] = gen.ToResponse()
	}

	c.JSON(http.StatusOK, ListGenerationsResponse{
		Generations: responses,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// ListModels returns the supported model catalog.
func (h *Handler) ListModels(c *gin.Context) {
	names := h.catalog.Names()
	models := make([]*ModelResponse, 0, len(names))
	for _, name := range names {
		spec, ok := h.catalog.Get(name)
		if !ok {
			continue
		}
		maxUnits := spec.MaxUnits
		if maxUnits < 1 {
			maxUnits = 1
		}
		models = append(models, &ModelResponse{
			Name:     spec.Name,
			Sync:     spec.Sync,
			MaxUnits: maxUnits,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
