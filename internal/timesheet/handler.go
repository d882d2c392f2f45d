package timesheet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// IdempotencyHeader names the optional replay guard for bulk decisions.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the timesheet API.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
	bulkLimit func(http.Handler) http.Handler
}

// NewHandler constructs the handler. bulkPerMinute bounds bulk endpoints per caller.
func NewHandler(service *Service, logger *slog.Logger, bulkPerMinute int) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if bulkPerMinute <= 0 {
		bulkPerMinute = 20
	}
	limiter := httprate.Limit(bulkPerMinute, time.Minute,
		httprate.WithKeyFuncs(callerKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "bulk operation rate limit exceeded")
		}),
	)
	return &Handler{service: service, logger: logger, validator: v, bulkLimit: limiter}
}

func callerKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "employee:" + p.EmployeeID.String(), nil
	}
	return httprate.KeyByIP(r)
}

// MountRoutes registers timesheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/pending", h.handlePending)
	r.Get("/summary", h.handleSummary)
	r.Get("/weeks/{date}", h.handleWeek)
	r.Group(func(r chi.Router) {
		r.Use(h.bulkLimit)
		r.Post("/bulk-save", h.handleBulkSave)
		r.Put("/bulk-update", h.handleBulkUpdate)
		r.Post("/bulk-submit", h.handleBulkSubmit)
		r.Post("/bulk-approve", h.handleBulkApprove)
		r.Post("/bulk-reject", h.handleBulkReject)
	})
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Get("/history", h.handleHistory)
		r.Post("/submit", h.handleSubmit)
		r.Post("/approve", h.handleApprove)
		r.Post("/reject", h.handleReject)
		r.Post("/resubmit", h.handleResubmit)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req timesheetRequest
	if !h.decode(w, r, &req) {
		return
	}
	ts, err := h.service.Create(r.Context(), caller, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(ts))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req timesheetRequest
	if !h.decode(w, r, &req) {
		return
	}
	ts, err := h.service.Update(r.Context(), caller, id, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ts))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	ts, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ts))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	ts, err := h.service.Submit(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ts))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleReview(w, r, ActionApprove)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleReview(w, r, ActionReject)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request, action Action) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	var (
		ts  Timesheet
		err error
	)
	if action == ActionApprove {
		ts, err = h.service.Approve(r.Context(), caller, id, req.Comments)
	} else {
		ts, err = h.service.Reject(r.Context(), caller, id, req.Comments)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ts))
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	ts, err := h.service.Resubmit(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ts))
}

func (h *Handler) handleBulkSave(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req bulkSaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.service.BulkSave(r.Context(), caller, req.inputs())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"timesheets": toResponses(items)})
}

func (h *Handler) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req bulkUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.service.BulkUpdate(r.Context(), caller, req.rows())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timesheets": toResponses(items)})
}

func (h *Handler) handleBulkSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req bulkSubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	employeeID := caller.EmployeeID
	if req.EmployeeID != "" {
		employeeID = uuid.MustParse(req.EmployeeID)
	}
	weekStart, _ := week.ParseDate(req.WeekStartDate)
	items, err := h.service.BulkSubmitWeek(r.Context(), caller, employeeID, weekStart, parseIDs(req.TimesheetIDs))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timesheets": toResponses(items)})
}

func (h *Handler) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	h.handleBulkReview(w, r, ActionApprove)
}

func (h *Handler) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	h.handleBulkReview(w, r, ActionReject)
}

func (h *Handler) handleBulkReview(w http.ResponseWriter, r *http.Request, action Action) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req bulkReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	var (
		result BulkDecision
		err    error
	)
	if action == ActionApprove {
		result, err = h.service.BulkApprove(r.Context(), caller, parseIDs(req.TimesheetIDs), req.Comments, key)
	} else {
		result, err = h.service.BulkReject(r.Context(), caller, parseIDs(req.TimesheetIDs), req.Comments, key)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := bulkDecisionResponse{Succeeded: toResponses(result.Succeeded), Failed: []bulkFailureResponse{}}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, bulkFailureResponse{ID: f.ID.String(), Code: f.Code, Reason: f.Reason})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	page, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Timesheets: toResponses(page.Items), Pagination: page.Pagination})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := queryParser{values: r.URL.Query()}
	filter := PendingFilter{
		Year:       q.intParam("year"),
		WeekNumber: q.intParam("weekNumber"),
		EmployeeID: q.uuidParam("employeeId"),
	}
	if q.err != nil {
		h.badRequest(w, q.err)
		return
	}
	queue, err := h.service.PendingApprovals(r.Context(), caller, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := pendingResponse{Timesheets: toResponses(queue.Items)}
	resp.Summary.TotalPending = queue.TotalPending
	resp.Summary.TotalHours = queue.TotalHours.InexactFloat64()
	resp.Summary.Employees = queue.Employees
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := queryParser{values: r.URL.Query()}
	year := q.intParam("year")
	employeeID := q.uuidParam("employeeId")
	if q.err != nil {
		h.badRequest(w, q.err)
		return
	}
	totals, err := h.service.Summary(r.Context(), caller, year, employeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]statusTotalResponse, 0, len(totals))
	for _, t := range totals {
		out = append(out, statusTotalResponse{Status: t.Status, Count: t.Count, TotalHours: t.TotalHours.InexactFloat64()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summary": out})
}

func (h *Handler) handleWeek(w http.ResponseWriter, r *http.Request) {
	date, err := week.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.badRequest(w, err)
		return
	}
	p := week.Canonical(date)
	resp := weekResponse{
		WeekStartDate: p.Start.Format(week.DateLayout),
		WeekEndDate:   p.End.Format(week.DateLayout),
		WeekNumber:    p.Number,
		Year:          p.Year,
	}
	for _, d := range p.Days() {
		resp.Days = append(resp.Days, d.Format(week.DateLayout))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "caller could not be identified")
		return shared.Principal{}, false
	}
	return p, true
}

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (shared.Principal, uuid.UUID, bool) {
	p, ok := h.caller(w, r)
	if !ok {
		return shared.Principal{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "timesheet not found")
		return shared.Principal{}, uuid.Nil, false
	}
	return p, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.badRequest(w, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.badRequest(w, err)
			return false
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: Rule(fe.Tag()), Message: fe.Error()})
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:   "Validation Failed",
			Status:  http.StatusBadRequest,
			Code:    "InvalidRequest",
			Details: map[string]any{"errors": fields},
		})
		return false
	}
	return true
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
		Code:   "InvalidRequest",
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		group      *GroupValidationError
		validation *ValidationError
		bulk       *RequiresBulkSubmissionError
		incomplete *IncompleteWeekError
		illegal    *IllegalTransitionError
		auth       *AuthorizationError
	)
	switch {
	case errors.As(err, &group):
		records := make([]map[string]any, 0, len(group.Records))
		for _, rec := range group.Records {
			entry := map[string]any{"timesheetId": rec.RecordID, "errors": rec.Fields}
			if rec.Row > 0 {
				entry["row"] = rec.Row
			}
			records = append(records, entry)
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Validation Failed", Status: http.StatusUnprocessableEntity, Detail: err.Error(),
			Code: "ValidationFailed", Details: map[string]any{"records": records},
		})
	case errors.As(err, &validation):
		status, code := http.StatusUnprocessableEntity, "ValidationFailed"
		if validation.Has(RuleDuplicate) {
			status, code = http.StatusConflict, string(RuleDuplicate)
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Validation Failed", Status: status, Detail: err.Error(),
			Code: code, Details: map[string]any{"errors": validation.Fields},
		})
	case errors.As(err, &bulk):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Requires Bulk Submission", Status: http.StatusConflict, Detail: err.Error(),
			Code: "RequiresBulkSubmission", Details: map[string]any{"siblingIds": bulk.SiblingIDs},
		})
	case errors.As(err, &incomplete):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Incomplete Week Submission", Status: http.StatusConflict, Detail: err.Error(),
			Code:    "IncompleteWeekSubmission",
			Details: map[string]any{"missingIds": incomplete.Missing, "unexpectedIds": incomplete.Unexpected},
		})
	case errors.As(err, &illegal):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Illegal Transition", Status: http.StatusConflict, Detail: err.Error(),
			Code:    "IllegalTransition",
			Details: map[string]any{"timesheetId": illegal.RecordID, "currentStatus": illegal.Current, "action": illegal.Action},
		})
	case errors.As(err, &auth):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title: "Forbidden", Status: http.StatusForbidden, Detail: err.Error(),
			Code: "Forbidden", Details: map[string]any{"action": auth.Action},
		})
	case errors.Is(err, ErrNotFound):
		httpx.WriteProblem(w, httpx.ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: "timesheet not found", Code: "NotFound"})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.WriteProblem(w, httpx.ProblemDetail{Title: "Duplicate Request", Status: http.StatusConflict, Detail: err.Error(), Code: "IdempotencyConflict"})
	default:
		h.logger.Error("timesheet request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type queryParser struct {
	values map[string][]string
	err    error
}

func (q *queryParser) get(key string) string {
	if v := q.values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func (q *queryParser) intParam(key string) int {
	raw := q.get(key)
	if raw == "" || q.err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		q.err = fmt.Errorf("%s must be a non-negative integer", key)
		return 0
	}
	return n
}

func (q *queryParser) uuidParam(key string) *uuid.UUID {
	raw := q.get(key)
	if raw == "" || q.err != nil {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		q.err = fmt.Errorf("%s must be a UUID", key)
		return nil
	}
	return &id
}

func (q *queryParser) dateParam(key string) *time.Time {
	raw := q.get(key)
	if raw == "" || q.err != nil {
		return nil
	}
	d, err := week.ParseDate(raw)
	if err != nil {
		q.err = fmt.Errorf("%s must be a YYYY-MM-DD date", key)
		return nil
	}
	return &d
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := queryParser{values: r.URL.Query()}
	filter := ListFilter{
		EmployeeID: q.uuidParam("employeeId"),
		ProjectID:  q.uuidParam("projectId"),
		WeekStart:  q.dateParam("weekStartDate"),
		From:       q.dateParam("startDate"),
		To:         q.dateParam("endDate"),
		Year:       q.intParam("year"),
		WeekNumber: q.intParam("weekNumber"),
		Page:       q.intParam("page"),
		PerPage:    q.intParam("limit"),
		SortBy:     q.get("sortBy"),
		SortOrder:  q.get("sortOrder"),
	}
	if q.err != nil {
		return ListFilter{}, q.err
	}
	if raw := q.get("status"); raw != "" {
		status := Status(raw)
		if !status.Valid() {
			return ListFilter{}, fmt.Errorf("status must be one of Draft, Submitted, Approved, Rejected")
		}
		filter.Status = &status
	}
	if filter.SortBy != "" && !SortableFields(filter.SortBy) {
		return ListFilter{}, fmt.Errorf("sortBy %q is not supported", filter.SortBy)
	}
	if filter.SortOrder != "" && !strings.EqualFold(filter.SortOrder, "asc") && !strings.EqualFold(filter.SortOrder, "desc") {
		return ListFilter{}, fmt.Errorf("sortOrder must be asc or desc")
	}
	return filter, nil
}
