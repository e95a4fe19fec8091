// Package handlers is the HTTP surface of the content pipeline. Owner
// identity always comes from the JWT claims, never from the request body.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"nexus/internal/lifecycle"
	"nexus/internal/publisher"
	"nexus/internal/scheduler"
	"nexus/internal/store"
	"nexus/internal/tracker"
	"nexus/pkg/api/common"
	"nexus/pkg/api/herald"
	"nexus/pkg/logging"
	"nexus/pkg/models"
)

const contentPreviewLen = 100

// GeneratedDraft is one candidate produced by the content generator.
type GeneratedDraft struct {
	Content string
	Themes  []string
}

// Generator produces draft candidates from a prompt. The implementation is a
// black box; only the persistence of its output happens here.
type Generator interface {
	Generate(ctx context.Context, prompt, platform string, count int) ([]GeneratedDraft, error)
}

// DraftStore is the draft persistence surface the handlers use directly.
type DraftStore interface {
	CreateDraft(ctx context.Context, d *models.Draft) error
	ListDrafts(ctx context.Context, ownerID, status string) ([]models.Draft, error)
	GetDraftForOwner(ctx context.Context, id, ownerID string) (*models.Draft, error)
	RejectDraft(ctx context.Context, draftID, ownerID string) error
}

// Handlers carries the dependencies for all HTTP endpoints.
type Handlers struct {
	store     DraftStore
	scheduler *scheduler.Scheduler
	publisher *publisher.Publisher
	tracker   *tracker.Tracker
	generator Generator
	logger    logging.Logger
}

func NewHandlers(st DraftStore, sch *scheduler.Scheduler, pub *publisher.Publisher, tr *tracker.Tracker, gen Generator, logger logging.Logger) *Handlers {
	return &Handlers{
		store:     st,
		scheduler: sch,
		publisher: pub,
		tracker:   tr,
		generator: gen,
		logger:    logger,
	}
}

// RegisterRoutes mounts all endpoints behind the auth middleware.
func (h *Handlers) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1", auth)

	content := api.Group("/content")
	content.POST("/generate", h.GenerateDrafts)
	content.GET("/drafts", h.ListDrafts)
	content.POST("/:id/approve", h.ApproveDraft)
	content.POST("/:id/reject", h.RejectDraft)
	content.POST("/:id/schedule", h.ScheduleDraft)
	content.PUT("/:id/schedule", h.RescheduleDraft)
	content.DELETE("/:id/schedule", h.CancelSchedule)
	content.GET("/scheduled", h.ListScheduled)
	content.POST("/:id/publish", h.PublishDraft)

	api.GET("/posts/:id/performance", h.GetPostPerformance)
	api.GET("/analytics/insights", h.GetInsights)
}

// GenerateDrafts produces draft candidates from a prompt and stores them as
// pending drafts.
func (h *Handlers) GenerateDrafts(c *gin.Context) {
	ownerID := c.GetString("user_id")

	var req herald.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "prompt and platform are required"})
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 5 {
		req.Count = 5
	}

	candidates, err := h.generator.Generate(c.Request.Context(), req.Prompt, req.Platform, req.Count)
	if err != nil {
		h.fail(c, err)
		return
	}

	drafts := make([]models.Draft, 0, len(candidates))
	for _, cand := range candidates {
		draft := models.Draft{
			OwnerID:    ownerID,
			Content:    cand.Content,
			Platform:   req.Platform,
			Status:     models.DraftStatusPending,
			Themes:     pq.StringArray(cand.Themes),
			PromptUsed: &req.Prompt,
		}
		if err := h.store.CreateDraft(c.Request.Context(), &draft); err != nil {
			h.fail(c, err)
			return
		}
		drafts = append(drafts, draft)
	}

	c.JSON(http.StatusCreated, herald.DraftsResponse{Drafts: drafts, Count: len(drafts)})
}

// ListDrafts returns the caller's drafts, optionally filtered by status.
func (h *Handlers) ListDrafts(c *gin.Context) {
	ownerID := c.GetString("user_id")
	status := c.Query("status")

	switch status {
	case "", models.DraftStatusPending, models.DraftStatusScheduled,
		models.DraftStatusPublished, models.DraftStatusRejected:
	default:
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "unknown status filter"})
		return
	}

	drafts, err := h.store.ListDrafts(c.Request.Context(), ownerID, status)
	if err != nil {
		h.fail(c, err)
		return
	}
	if drafts == nil {
		drafts = []models.Draft{}
	}
	c.JSON(http.StatusOK, herald.DraftsResponse{Drafts: drafts, Count: len(drafts)})
}

// ApproveDraft acknowledges a pending draft. Approval keeps the draft
// pending and schedulable; it exists so reviewers can tell looked-at drafts
// from fresh ones.
func (h *Handlers) ApproveDraft(c *gin.Context) {
	ownerID := c.GetString("user_id")

	draft, err := h.store.GetDraftForOwner(c.Request.Context(), c.Param("id"), ownerID)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(c, lifecycle.ErrNotFound)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if draft.Status != models.DraftStatusPending {
		h.fail(c, lifecycle.ErrInvalidTransition)
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true, Message: "draft approved", Data: draft})
}

// RejectDraft moves a pending draft to the terminal rejected state.
func (h *Handlers) RejectDraft(c *gin.Context) {
	ownerID := c.GetString("user_id")

	var req herald.RejectRequest
	_ = c.ShouldBindJSON(&req)

	err := h.store.RejectDraft(c.Request.Context(), c.Param("id"), ownerID)
	if errors.Is(err, store.ErrStateConflict) {
		// Either not owned, missing, or not pending. Check which.
		if _, getErr := h.store.GetDraftForOwner(c.Request.Context(), c.Param("id"), ownerID); errors.Is(getErr, store.ErrNotFound) {
			h.fail(c, lifecycle.ErrNotFound)
			return
		}
		h.fail(c, lifecycle.ErrInvalidTransition)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true, Message: "draft rejected"})
}

// ScheduleDraft commits a pending draft to a publish time. Without an
// explicit time the timing advisor picks the slot.
func (h *Handlers) ScheduleDraft(c *gin.Context) {
	ownerID := c.GetString("user_id")

	var req herald.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "invalid request body"})
		return
	}

	draft, err := h.scheduler.Schedule(c.Request.Context(), ownerID, c.Param("id"), req.Time, req.AutoOptimize)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, herald.ScheduleResponse{
		DraftID:      draft.ID,
		Platform:     draft.Platform,
		ScheduledFor: *draft.ScheduledFor,
		QualityScore: *draft.QualityScore,
	})
}

// RescheduleDraft moves a scheduled draft to a new explicit time.
func (h *Handlers) RescheduleDraft(c *gin.Context) {
	ownerID := c.GetString("user_id")

	var req herald.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "time is required"})
		return
	}

	draft, err := h.scheduler.Reschedule(c.Request.Context(), ownerID, c.Param("id"), req.Time)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, herald.ScheduleResponse{
		DraftID:      draft.ID,
		Platform:     draft.Platform,
		ScheduledFor: *draft.ScheduledFor,
		QualityScore: *draft.QualityScore,
	})
}

// CancelSchedule returns a scheduled draft to pending.
func (h *Handlers) CancelSchedule(c *gin.Context) {
	ownerID := c.GetString("user_id")

	draft, err := h.scheduler.CancelSchedule(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true, Message: "schedule cancelled", Data: draft})
}

// ListScheduled returns the caller's upcoming drafts.
func (h *Handlers) ListScheduled(c *gin.Context) {
	ownerID := c.GetString("user_id")
	days := intQuery(c, "days", 7)

	drafts, err := h.scheduler.ListScheduled(c.Request.Context(), ownerID, days)
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]herald.ScheduledDraft, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, herald.ScheduledDraft{
			ID:             d.ID,
			ContentPreview: preview(d.Content),
			Platform:       d.Platform,
			ScheduledFor:   *d.ScheduledFor,
			QualityScore:   d.QualityScore,
			Themes:         []string(d.Themes),
		})
	}
	c.JSON(http.StatusOK, herald.ListScheduledResponse{Drafts: items, Count: len(items)})
}

// PublishDraft publishes a draft immediately.
func (h *Handlers) PublishDraft(c *gin.Context) {
	ownerID := c.GetString("user_id")

	post, err := h.publisher.PublishNow(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, herald.PublishResponse{
		PostID:      post.ID,
		ExternalID:  post.ExternalID,
		Platform:    post.Platform,
		PublishedAt: post.PublishedAt,
	})
}

// GetPostPerformance returns the latest engagement snapshot for a post.
func (h *Handlers) GetPostPerformance(c *gin.Context) {
	ownerID := c.GetString("user_id")

	post, snap, err := h.tracker.GetPostPerformance(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, herald.PostPerformanceResponse{
		PostID:         post.ID,
		Platform:       post.Platform,
		PublishedAt:    post.PublishedAt,
		ContentPreview: preview(post.Content),
		Snapshot:       *snap,
	})
}

// GetInsights returns the aggregate engagement report for the caller.
func (h *Handlers) GetInsights(c *gin.Context) {
	ownerID := c.GetString("user_id")
	days := intQuery(c, "days", 30)

	insights, err := h.tracker.GetInsights(c.Request.Context(), ownerID, days)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := herald.InsightsResponse{
		HasData:         insights.HasData,
		WindowDays:      insights.WindowDays,
		PostCount:       insights.PostCount,
		AvgEngagement:   insights.AvgEngagement,
		Recommendations: insights.Recommendations,
	}
	if !insights.HasData {
		resp.Message = "No performance data available"
		resp.Recommendations = []string{}
		c.JSON(http.StatusOK, resp)
		return
	}
	resp.BestPost = highlight(insights.Best)
	resp.WorstPost = highlight(insights.Worst)
	for _, theme := range insights.TopThemes {
		resp.TopThemes = append(resp.TopThemes, herald.ThemePerformance{
			Theme:    theme.Theme,
			AvgScore: theme.AvgScore,
			Posts:    theme.Posts,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func highlight(h *tracker.Highlight) *herald.PostHighlight {
	if h == nil {
		return nil
	}
	return &herald.PostHighlight{
		PostID:          h.Post.ID,
		ContentPreview:  preview(h.Post.Content),
		EngagementScore: h.Snapshot.EngagementScore,
		PublishedAt:     h.Post.PublishedAt,
	}
}

// fail maps domain errors to HTTP status codes. Unexpected errors return a
// generic body with the request id as an opaque reference.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Not found", Code: "not_found"})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, common.ErrorResponse{Error: "Operation not valid for current state", Code: "invalid_transition"})
	case errors.Is(err, lifecycle.ErrPastTime):
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Schedule time must be in the future", Code: "past_time"})
	case errors.Is(err, lifecycle.ErrNoPlatformClient):
		c.JSON(http.StatusUnprocessableEntity, common.ErrorResponse{Error: "No connected platform integration", Code: "no_platform_client"})
	case errors.Is(err, lifecycle.ErrUnsupported):
		c.JSON(http.StatusUnprocessableEntity, common.ErrorResponse{Error: "Platform does not support this operation", Code: "unsupported"})
	case lifecycle.IsPlatformError(err):
		h.logger.WithError(err).WithField("request_id", c.GetString("request_id")).Warn("Platform call failed")
		c.JSON(http.StatusBadGateway, common.ErrorResponse{Error: "Platform request failed", Code: "platform_error"})
	default:
		h.logger.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Internal server error",
			Ref:   c.GetString("request_id"),
		})
	}
}

func preview(content string) string {
	if len(content) <= contentPreviewLen {
		return content
	}
	return content[:contentPreviewLen] + "..."
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
