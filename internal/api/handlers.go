// Package api exposes HTTP handlers for the progress service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/progress/internal/achievement"
	"example.com/progress/internal/auth"
	"example.com/progress/internal/domain"
	"example.com/progress/internal/observability"
	"example.com/progress/internal/persistence"
	"example.com/progress/internal/progress"
)

// Handler coordinates HTTP requests with the domain service and the derived
// projections.
type Handler struct {
	service    *domain.Service
	aggregator *progress.Aggregator
	engine     *achievement.Engine
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, aggregator *progress.Aggregator, engine *achievement.Engine) *Handler {
	return &Handler{service: service, aggregator: aggregator, engine: engine}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/submissions", h.submissions)
	mux.HandleFunc("/v1/submissions/pending", h.listPending)
	mux.HandleFunc("/v1/submissions/", h.submissionByID)
	mux.HandleFunc("/v1/users/", h.userResource)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSubmission(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) submissionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/submissions/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing submission id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/review"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.reviewSubmission(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSubmission(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) userResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	userID, resource, found := strings.Cut(rest, "/")
	if !found || userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	switch resource {
	case "progress":
		h.getProgress(w, r, userID)
	case "achievements":
		h.getAchievements(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) createSubmission(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressSubmit) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:submit required")
		return
	}

	var req CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	submission, err := h.service.Submit(r.Context(), domain.SubmitInput{
		UserID:      claims.Subject,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCategory) || errors.Is(err, domain.ErrEmptyDescription) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateSubmissionResponse{
		SubmissionID: submission.ID,
		Status:       string(submission.Status),
	})
}

func (h *Handler) getSubmission(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressReview) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	submission, err := h.service.GetSubmission(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionView(*submission))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressReview) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:review required")
		return
	}

	filter := domain.PendingFilter{UserID: r.URL.Query().Get("user_id")}
	if raw := r.URL.Query().Get("category"); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown category")
			return
		}
		filter.Category = category
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	submissions, next, err := h.service.ListPending(r.Context(), filter, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, toSubmissionView(submission))
	}

	writeJSON(w, http.StatusOK, ListPendingResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) reviewSubmission(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressReview) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:review required")
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	submission, err := h.service.Review(r.Context(), domain.ReviewInput{
		SubmissionID: id,
		ReviewerID:   claims.Subject,
		Decision:     req.Decision,
		Feedback:     req.Feedback,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidDecision):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, domain.ErrSubmissionNotFound):
			writeError(w, http.StatusNotFound, "not_found", "submission not found")
		case errors.Is(err, domain.ErrReviewerNotAllowed):
			writeError(w, http.StatusForbidden, "forbidden", err.Error())
		case errors.Is(err, domain.ErrAlreadyReviewed):
			observability.RecordReviewConflict()
			writeError(w, http.StatusConflict, "conflict", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionView(*submission))
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request, userID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressReview) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	report, err := h.aggregator.Recompute(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user has no submissions")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	categories := make(map[string]progress.Snapshot, len(report.Categories))
	for category, snapshot := range report.Categories {
		categories[string(category)] = snapshot
	}

	writeJSON(w, http.StatusOK, ProgressResponse{
		UserID:        userID,
		Categories:    categories,
		TotalApproved: report.TotalApproved,
	})
}

func (h *Handler) getAchievements(w http.ResponseWriter, r *http.Request, userID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressReview) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	report, err := h.aggregator.Recompute(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user has no submissions")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	all, _, err := h.engine.Sync(r.Context(), userID, report.TotalApproved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AchievementsResponse{
		UserID:        userID,
		TotalApproved: report.TotalApproved,
		Achievements:  h.engine.Statuses(all),
	})
}

// CreateSubmissionRequest is the payload for POST /v1/submissions.
type CreateSubmissionRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// CreateSubmissionResponse describes the response body for create.
type CreateSubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// ReviewRequest is the payload for POST /v1/submissions/{id}/review.
type ReviewRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// SubmissionView exposes full details about a submission.
type SubmissionView struct {
	SubmissionID string     `json:"submission_id"`
	UserID       string     `json:"user_id"`
	Category     string     `json:"category"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewerID   string     `json:"reviewer_id,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
}

// ListPendingResponse packages list results.
type ListPendingResponse struct {
	Items      []SubmissionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ProgressResponse maps categories to their snapshots.
type ProgressResponse struct {
	UserID        string                       `json:"user_id"`
	Categories    map[string]progress.Snapshot `json:"categories"`
	TotalApproved int                          `json:"total_approved"`
}

// AchievementsResponse lists the badge catalog with unlock state.
type AchievementsResponse struct {
	UserID        string                   `json:"user_id"`
	TotalApproved int                      `json:"total_approved"`
	Achievements  []achievement.TierStatus `json:"achievements"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toSubmissionView(submission domain.Submission) SubmissionView {
	return SubmissionView{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		Category:     string(submission.Category),
		Description:  submission.Description,
		Status:       string(submission.Status),
		CreatedAt:    submission.CreatedAt,
		ReviewedAt:   submission.ReviewedAt,
		ReviewerID:   submission.ReviewerID,
		Feedback:     submission.Feedback,
	}
}
