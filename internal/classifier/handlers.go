package classifier

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/paymo/internal/logging"
	"github.com/mbd888/paymo/internal/pagination"
	"github.com/mbd888/paymo/internal/payment"
)

// Handler provides HTTP endpoints for loading and classifying payments.
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new classifier handler. store may be nil, in which
// case the verdict listing reports the audit trail as unavailable.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// RegisterRoutes sets up the classifier routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/batch", h.LoadBatch)
	r.POST("/payments/classify", h.Classify)
	r.GET("/parties/:a/distance/:b", h.GetDistance)
	r.GET("/parties/:a/edges/:b", h.GetEdgeHistory)
	r.GET("/parties/:a/neighbors", h.GetNeighbors)
	r.GET("/parties/:a/verdicts", h.ListVerdicts)
	r.GET("/graph/stats", h.GetStats)
	r.GET("/policy", h.GetPolicy)
}

// BatchRequest is the body of POST /v1/payments/batch.
type BatchRequest struct {
	Events []payment.Event `json:"events" binding:"required"`
}

// LoadBatch handles POST /v1/payments/batch
func (h *Handler) LoadBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	stats, err := h.engine.LoadEvents(c.Request.Context(), req.Events)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Classify handles POST /v1/payments/classify
func (h *Handler) Classify(c *gin.Context) {
	var ev payment.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.engine.Classify(c.Request.Context(), ev)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":   result,
		"verdicts": result.Verdicts(),
	})
}

// GetDistance handles GET /v1/parties/:a/distance/:b
func (h *Handler) GetDistance(c *gin.Context) {
	a, b := c.Param("a"), c.Param("b")

	bound := h.engine.Policy().MaxBound()
	if raw := c.Query("bound"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_bound",
				"message": "bound must be a non-negative integer (0 searches without a bound)",
			})
			return
		}
		bound = parsed
	}

	d, err := h.engine.Distance(c.Request.Context(), a, b, bound)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"partyA":    a,
		"partyB":    b,
		"bound":     bound,
		"distance":  d,
		"reachable": d.Reachable(),
		"verdicts":  h.engine.Policy().Classify(d),
	})
}

// GetEdgeHistory handles GET /v1/parties/:a/edges/:b
func (h *Handler) GetEdgeHistory(c *gin.Context) {
	a, b := c.Param("a"), c.Param("b")

	events, err := h.engine.History(c.Request.Context(), a, b)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"partyA": a,
		"partyB": b,
		"events": events,
		"count":  len(events),
	})
}

// GetNeighbors handles GET /v1/parties/:a/neighbors
func (h *Handler) GetNeighbors(c *gin.Context) {
	party := c.Param("a")

	neighbors, err := h.engine.Neighbors(c.Request.Context(), party)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"party":     party,
		"neighbors": neighbors,
		"count":     len(neighbors),
	})
}

// ListVerdicts handles GET /v1/parties/:a/verdicts
func (h *Handler) ListVerdicts(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "audit_unavailable",
			"message": "No audit store is configured",
		})
		return
	}

	limit := pagination.DefaultLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be an integer",
			})
			return
		}
		limit = pagination.Limit(parsed)
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}

	party := c.Param("a")
	results, err := h.store.ListByParty(c.Request.Context(), party, cursor, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list verdicts", "party", party, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list verdicts",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(results, limit, func(r *Result) (at time.Time, id string) {
		return r.EvaluatedAt, r.ID
	})
	if page == nil {
		page = []*Result{}
	}

	c.JSON(http.StatusOK, gin.H{
		"party":      party,
		"verdicts":   page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetStats handles GET /v1/graph/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetPolicy handles GET /v1/policy
func (h *Handler) GetPolicy(c *gin.Context) {
	p := h.engine.Policy()
	c.JSON(http.StatusOK, gin.H{
		"tiers":            p.Tiers(),
		"maxBound":         p.MaxBound(),
		"duplicateFeature": DuplicateFeature,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Request cancelled while waiting for the graph",
		})
	default:
		logging.L(c.Request.Context()).Error("classifier request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
