package timesheet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

type timesheetRequest struct {
	EmployeeID       string           `json:"employeeId" validate:"omitempty,uuid"`
	ProjectID        string           `json:"projectId" validate:"required,uuid"`
	TaskID           string           `json:"taskId" validate:"required,uuid"`
	WeekStartDate    string           `json:"weekStartDate" validate:"required,datetime=2006-01-02"`
	WeekEndDate      string           `json:"weekEndDate" validate:"omitempty,datetime=2006-01-02"`
	WeekNumber       int              `json:"weekNumber" validate:"omitempty,min=1,max=53"`
	Year             int              `json:"year" validate:"omitempty,min=1970,max=9999"`
	MondayHours      decimal.Decimal  `json:"mondayHours"`
	TuesdayHours     decimal.Decimal  `json:"tuesdayHours"`
	WednesdayHours   decimal.Decimal  `json:"wednesdayHours"`
	ThursdayHours    decimal.Decimal  `json:"thursdayHours"`
	FridayHours      decimal.Decimal  `json:"fridayHours"`
	SaturdayHours    decimal.Decimal  `json:"saturdayHours"`
	SundayHours      decimal.Decimal  `json:"sundayHours"`
	TotalHoursWorked *decimal.Decimal `json:"totalHoursWorked"`
	Description      string           `json:"description"`
}

// input converts a request that already passed struct validation.
func (r timesheetRequest) input() Input {
	in := Input{
		ProjectID:   uuid.MustParse(r.ProjectID),
		TaskID:      uuid.MustParse(r.TaskID),
		WeekNumber:  r.WeekNumber,
		Year:        r.Year,
		TotalHours:  r.TotalHoursWorked,
		Description: r.Description,
		Hours: DailyHours{
			r.MondayHours, r.TuesdayHours, r.WednesdayHours, r.ThursdayHours,
			r.FridayHours, r.SaturdayHours, r.SundayHours,
		},
	}
	if r.EmployeeID != "" {
		in.EmployeeID = uuid.MustParse(r.EmployeeID)
	}
	in.WeekStart, _ = week.ParseDate(r.WeekStartDate)
	if r.WeekEndDate != "" {
		in.WeekEnd, _ = week.ParseDate(r.WeekEndDate)
	}
	return in
}

type bulkSaveRequest struct {
	Timesheets []timesheetRequest `json:"timesheets" validate:"required,min=1,max=50,dive"`
}

func (r bulkSaveRequest) inputs() []Input {
	out := make([]Input, 0, len(r.Timesheets))
	for _, row := range r.Timesheets {
		out = append(out, row.input())
	}
	return out
}

type bulkUpdateRow struct {
	ID string `json:"id" validate:"omitempty,uuid"`
	timesheetRequest
}

type bulkUpdateRequest struct {
	Timesheets []bulkUpdateRow `json:"timesheets" validate:"required,min=1,max=50,dive"`
}

func (r bulkUpdateRequest) rows() []BatchRow {
	out := make([]BatchRow, 0, len(r.Timesheets))
	for _, row := range r.Timesheets {
		br := BatchRow{Input: row.input()}
		if row.ID != "" {
			br.ID = uuid.MustParse(row.ID)
		}
		out = append(out, br)
	}
	return out
}

type bulkSubmitRequest struct {
	EmployeeID    string   `json:"employeeId" validate:"omitempty,uuid"`
	WeekStartDate string   `json:"weekStartDate" validate:"required,datetime=2006-01-02"`
	TimesheetIDs  []string `json:"timesheetIds" validate:"omitempty,dive,uuid"`
}

type reviewRequest struct {
	Comments string `json:"comments"`
}

type bulkReviewRequest struct {
	TimesheetIDs []string `json:"timesheetIds" validate:"required,min=1,max=200,dive,uuid"`
	Comments     string   `json:"comments"`
}

func parseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, uuid.MustParse(r))
	}
	return ids
}

type timesheetResponse struct {
	ID               string     `json:"id"`
	EmployeeID       string     `json:"employeeId"`
	ProjectID        string     `json:"projectId"`
	TaskID           string     `json:"taskId"`
	WeekStartDate    string     `json:"weekStartDate"`
	WeekEndDate      string     `json:"weekEndDate"`
	WeekNumber       int        `json:"weekNumber"`
	Year             int        `json:"year"`
	MondayHours      float64    `json:"mondayHours"`
	TuesdayHours     float64    `json:"tuesdayHours"`
	WednesdayHours   float64    `json:"wednesdayHours"`
	ThursdayHours    float64    `json:"thursdayHours"`
	FridayHours      float64    `json:"fridayHours"`
	SaturdayHours    float64    `json:"saturdayHours"`
	SundayHours      float64    `json:"sundayHours"`
	TotalHoursWorked float64    `json:"totalHoursWorked"`
	Description      string     `json:"description"`
	Status           Status     `json:"status"`
	SubmittedAt      *time.Time `json:"submittedAt"`
	ApprovedAt       *time.Time `json:"approvedAt"`
	RejectedAt       *time.Time `json:"rejectedAt"`
	ApproverComments *string    `json:"approverComments"`
	ApprovedBy       *string    `json:"approvedBy"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toResponse(ts Timesheet) timesheetResponse {
	resp := timesheetResponse{
		ID:               ts.ID.String(),
		EmployeeID:       ts.EmployeeID.String(),
		ProjectID:        ts.ProjectID.String(),
		TaskID:           ts.TaskID.String(),
		WeekStartDate:    ts.WeekStart.Format(week.DateLayout),
		WeekEndDate:      ts.WeekEnd.Format(week.DateLayout),
		WeekNumber:       ts.WeekNumber,
		Year:             ts.Year,
		MondayHours:      ts.Hours[0].InexactFloat64(),
		TuesdayHours:     ts.Hours[1].InexactFloat64(),
		WednesdayHours:   ts.Hours[2].InexactFloat64(),
		ThursdayHours:    ts.Hours[3].InexactFloat64(),
		FridayHours:      ts.Hours[4].InexactFloat64(),
		SaturdayHours:    ts.Hours[5].InexactFloat64(),
		SundayHours:      ts.Hours[6].InexactFloat64(),
		TotalHoursWorked: ts.TotalHours.InexactFloat64(),
		Description:      ts.Description,
		Status:           ts.Status,
		SubmittedAt:      ts.SubmittedAt,
		ApprovedAt:       ts.ApprovedAt,
		RejectedAt:       ts.RejectedAt,
		ApproverComments: ts.ApproverComments,
		Version:          ts.Version,
		CreatedAt:        ts.CreatedAt,
		UpdatedAt:        ts.UpdatedAt,
	}
	if ts.ApprovedBy != nil {
		by := ts.ApprovedBy.String()
		resp.ApprovedBy = &by
	}
	return resp
}

func toResponses(items []Timesheet) []timesheetResponse {
	out := make([]timesheetResponse, 0, len(items))
	for _, ts := range items {
		out = append(out, toResponse(ts))
	}
	return out
}

type listResponse struct {
	Timesheets []timesheetResponse `json:"timesheets"`
	Pagination shared.Pagination   `json:"pagination"`
}

type pendingResponse struct {
	Timesheets []timesheetResponse `json:"timesheets"`
	Summary    struct {
		TotalPending int     `json:"totalPending"`
		TotalHours   float64 `json:"totalHours"`
		Employees    int     `json:"employees"`
	} `json:"summary"`
}

type statusTotalResponse struct {
	Status     Status  `json:"status"`
	Count      int     `json:"count"`
	TotalHours float64 `json:"totalHours"`
}

type bulkFailureResponse struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type bulkDecisionResponse struct {
	Succeeded []timesheetResponse  `json:"succeeded"`
	Failed    []bulkFailureResponse `json:"failed"`
}

type weekResponse struct {
	WeekStartDate string   `json:"weekStartDate"`
	WeekEndDate   string   `json:"weekEndDate"`
	WeekNumber    int      `json:"weekNumber"`
	Year          int      `json:"year"`
	Days          []string `json:"days"`
}
