package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pop8234333/exam-system/internal/exam"
	"github.com/pop8234333/exam-system/internal/i18n"
	"github.com/pop8234333/exam-system/internal/model"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exams   *exam.Service
	limiter *rateLimiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit caps the exam-taking endpoints at maxRequests per window
// and client address. Non-positive values disable the limit.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(h *Handler) {
		if maxRequests > 0 && window > 0 {
			h.limiter = newRateLimiter(maxRequests, window)
		}
	}
}

// New creates a new Handler.
func New(svc *exam.Service, opts ...Option) *Handler {
	h := &Handler{exams: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/exams", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.middleware)
		}
		r.Post("/start", h.handleStart)
		r.Post("/{attemptID}/submit", h.handleSubmit)
		r.Post("/{attemptID}/window-switch", h.handleWindowSwitch)
	})
	r.Route("/api/exam-records", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/ranking", h.handleRanking)
		r.Get("/{attemptID}", h.handleDetail)
		r.Delete("/{attemptID}", h.handleRemove)
	})
	r.Get("/api/papers/{paperID}/popularity", h.handlePopularity)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type startResponse struct {
	model.Attempt
	Resumed bool `json:"resumed"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req exam.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	att, created, err := h.exams.StartAttempt(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, startResponse{Attempt: att, Resumed: !created})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "attemptID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req exam.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	att, err := h.exams.SubmitAnswers(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) handleWindowSwitch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "attemptID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	att, err := h.exams.RecordWindowSwitch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.AttemptFilter{StudentName: q.Get("studentName")}

	var err error
	if s := q.Get("status"); s != "" {
		if f.Status, err = model.ParseAttemptStatus(s); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if f.From, err = queryTime(q.Get("from"), "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(q.Get("to"), "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Size, err = queryInt(q.Get("size"), "size"); err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.exams.ListAttempts(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleRanking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var paperID *int64
	if s := q.Get("paperId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, &model.ValidationError{Field: "paperId", Reason: "must be a positive integer"})
			return
		}
		paperID = &id
	}
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.exams.GetRanking(r.Context(), paperID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "attemptID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail, err := h.exams.GetAttemptDetail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if detail.Answers == nil {
		detail.Answers = []model.AnswerRecord{}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "attemptID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.exams.RemoveAttempt(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePopularity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paperID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.exams.Popularity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"paper_id": id, "starts": n})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

func queryInt(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &model.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return n, nil
}

func queryTime(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, &model.ValidationError{Field: field, Reason: "must be RFC 3339 or YYYY-MM-DD"}
		}
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps the error taxonomy to HTTP status codes and writes a
// localized message together with the error text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, key := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body := errorBody{Error: i18n.T(r.Context(), key)}
	if status != http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict, "ErrInvalidState"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "ErrValidation"
	case errors.Is(err, model.ErrExternalService):
		return http.StatusBadGateway, "ErrExternalService"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ErrExternalService"
	}
	return http.StatusInternalServerError, "ErrInternal"
}
