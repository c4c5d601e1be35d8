package jobs

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"url-analyzer/internal/shared/server/middleware"
	"url-analyzer/internal/shared/server/respond"
	"url-analyzer/internal/urlgate"
)

const operatorTokenHeader = "X-Operator-Token"

// Handler wires HTTP handlers to the jobs service.
type Handler struct {
	Svc           *Service
	Polls         *PollLimiter
	OperatorToken string
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, polls *PollLimiter, operatorToken string) *Handler {
	return &Handler{Svc: svc, Polls: polls, OperatorToken: strings.TrimSpace(operatorToken)}
}

// RegisterRoutes attaches job routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.createJob)
	rg.GET("/analyses", h.listJobs)
	rg.GET("/analyses/:id", h.getJob)
}

func (h *Handler) createJob(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "url is required", []map[string]string{
			{"field": "url", "issue": "required"},
		})
		return
	}
	kind, err := ParseKind(req.Kind)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unknown analysis kind", []map[string]string{
			{"field": "kind", "issue": "invalid"},
		})
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	res, err := h.Svc.Create(ctx, CreateRequest{
		URL:                req.URL,
		URLs:               req.URLs,
		Kind:               kind,
		IdempotencyKey:     req.IdempotencyKey,
		ContentFingerprint: req.ContentFingerprint,
	})
	if err != nil {
		var secErr *urlgate.SecurityError
		switch {
		case errors.As(err, &secErr):
			respond.Error(c, http.StatusBadRequest, "url_rejected", secErr.Reason, []map[string]string{
				{"field": "url", "issue": secErr.Rule},
			})
		case errors.Is(err, ErrTooManyURLs):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), []map[string]string{
				{"field": "urls", "issue": "too_many"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create analysis", nil)
		}
		return
	}
	c.Set("jobId", res.Job.ID)

	if req.WaitSeconds > 0 {
		waited, err := h.Svc.Wait(ctx, res.Job.ID, time.Duration(req.WaitSeconds)*time.Second)
		if err == nil && waited.Done {
			view := toStatusView(waited.Job, h.isOperator(c))
			view.IsCached = res.IsCached
			respond.JSON(c, http.StatusOK, view)
			return
		}
		if err == nil {
			res.Job = waited.Job
		}
	}

	respond.JSON(c, http.StatusAccepted, createResponse{
		JobID:    res.Job.ID,
		Status:   res.Job.RunState,
		Phase:    res.Job.Phase,
		IsCached: res.IsCached,
	})
}

func (h *Handler) getJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}
	c.Set("jobId", id)
	if !h.Polls.Allow(c.ClientIP(), id) {
		c.Header("Retry-After", strconv.Itoa(h.Polls.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "poll_too_frequent", "status polled too frequently", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.GetEventually(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, toStatusView(job, h.isOperator(c)))
}

func (h *Handler) listJobs(c *gin.Context) {
	req := ListRequest{
		URL:    c.Query("url"),
		Cursor: c.Query("cursor"),
	}
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", []map[string]string{
				{"field": "limit", "issue": "invalid"},
			})
			return
		}
		req.Limit = parsed
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("status"))); v != "" {
		state := RunState(v)
		switch state {
		case StatePending, StateFetching, StateAnalyzing, StateCompleted, StateFailed:
			req.State = state
		default:
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown status filter", []map[string]string{
				{"field": "status", "issue": "invalid"},
			})
			return
		}
	}

	page, err := h.Svc.List(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCursor):
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid cursor", []map[string]string{
				{"field": "cursor", "issue": "invalid"},
			})
		case urlgate.IsSecurityError(err):
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid url filter", []map[string]string{
				{"field": "url", "issue": "invalid"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		}
		return
	}

	items := make([]summaryView, 0, len(page.Items))
	for _, job := range page.Items {
		items = append(items, toSummaryView(job))
	}
	resp := listResponse{Items: items}
	if page.NextCursor != "" {
		next := page.NextCursor
		resp.NextCursor = &next
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) isOperator(c *gin.Context) bool {
	if h.OperatorToken == "" {
		return false
	}
	got := strings.TrimSpace(c.GetHeader(operatorTokenHeader))
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.OperatorToken)) == 1
}
