package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semlink/semlink/internal/data/repos/assoc"
	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/modules/match"
	"github.com/semlink/semlink/internal/pkg/errs"
	"github.com/semlink/semlink/internal/platform/dbctx"
	"github.com/semlink/semlink/internal/platform/logger"
)

type AssociationHandler struct {
	log      *logger.Logger
	runner   *match.Runner
	pools    *match.PoolManager
	registry *kb.Registry
	assocs   assoc.AssociationRepo
}

func NewAssociationHandler(log *logger.Logger, runner *match.Runner, pools *match.PoolManager, registry *kb.Registry, assocs assoc.AssociationRepo) *AssociationHandler {
	return &AssociationHandler{
		log:      log.With("handler", "AssociationHandler"),
		runner:   runner,
		pools:    pools,
		registry: registry,
		assocs:   assocs,
	}
}

type generateRequest struct {
	DocumentID      string   `json:"document_id" binding:"required"`
	Mode            string   `json:"mode"`
	CoarseThreshold *float64 `json:"coarse_threshold"`
	FinalThreshold  *float64 `json:"final_threshold"`
	TopK            *int     `json:"top_k"`
	Force           bool     `json:"force"`
}

func (h *AssociationHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document_id must be a uuid"})
		return
	}

	cfg := match.DefaultRunConfig(h.log)
	mode, err := match.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.Mode = mode
	if req.CoarseThreshold != nil {
		cfg.CoarseThreshold = *req.CoarseThreshold
	}
	if req.FinalThreshold != nil {
		cfg.FinalThreshold = *req.FinalThreshold
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	cfg.Force = req.Force

	summary, err := h.runner.Generate(c.Request.Context(), docID, cfg)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidArgument):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, errs.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, errs.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			h.log.Error("generate failed", "document_id", docID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		}
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AssociationHandler) ListByDocument(c *gin.Context) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a uuid"})
		return
	}
	rows, err := h.assocs.ListByDocument(dbctx.Context{Ctx: c.Request.Context()}, docID)
	if err != nil {
		h.log.Error("list associations failed", "document_id", docID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"associations": rows})
}

func (h *AssociationHandler) TopBySection(c *gin.Context) {
	secID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a uuid"})
		return
	}
	n := 10
	if v := c.Query("n"); v != "" {
		if parsed, convErr := parsePositiveInt(v); convErr == nil {
			n = parsed
		}
	}
	rows, err := h.assocs.TopN(dbctx.Context{Ctx: c.Request.Context()}, secID, n)
	if err != nil {
		h.log.Error("top associations failed", "section_id", secID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"associations": rows})
}

// ReloadPool rebuilds the candidate pool from the knowledge-base registry.
func (h *AssociationHandler) ReloadPool(c *gin.Context) {
	pool, err := h.pools.Load(c.Request.Context(), h.registry)
	if err != nil {
		h.log.Error("pool reload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version": pool.Version,
		"triples": pool.Size(),
	})
}
