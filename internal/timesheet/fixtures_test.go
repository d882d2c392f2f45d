package timesheet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/catalog"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	items      map[uuid.UUID]Timesheet
	failUpdate func(Timesheet) error
	// beforeUpdate runs inside Update before the version check, used to simulate races.
	beforeUpdate func(Timesheet)
}

type memoryTx struct {
	repo *memoryRepo
	// undo holds the pre-transaction value of every record this tx wrote. A nil entry
	// means the record did not exist.
	undo map[uuid.UUID]*Timesheet
}

func (t *memoryTx) remember(id uuid.UUID) {
	if _, ok := t.undo[id]; ok {
		return
	}
	if prev, ok := t.repo.items[id]; ok {
		t.undo[id] = &prev
		return
	}
	t.undo[id] = nil
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[uuid.UUID]Timesheet)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memoryTx{repo: r, undo: make(map[uuid.UUID]*Timesheet)}
	if err := fn(ctx, tx); err != nil {
		r.mu.Lock()
		for id, prev := range tx.undo {
			if prev == nil {
				delete(r.items, id)
				continue
			}
			r.items[id] = *prev
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) put(ts Timesheet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[ts.ID] = ts
}

func (r *memoryRepo) raw(id uuid.UUID) Timesheet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (Timesheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.items[id]
	if !ok || ts.Deleted() {
		return Timesheet{}, ErrNotFound
	}
	return ts, nil
}

func (r *memoryRepo) live() []Timesheet {
	out := make([]Timesheet, 0, len(r.items))
	for _, ts := range r.items {
		if !ts.Deleted() {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *memoryRepo) WeekGroup(_ context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Timesheet
	for _, ts := range r.live() {
		if ts.EmployeeID == employeeID && ts.WeekStart.Equal(weekStart) {
			out = append(out, ts)
		}
	}
	return out, nil
}

func (r *memoryRepo) FindDuplicate(_ context.Context, employeeID, projectID, taskID uuid.UUID, weekStart time.Time) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ts := range r.live() {
		if ts.EmployeeID == employeeID && ts.ProjectID == projectID && ts.TaskID == taskID && ts.WeekStart.Equal(weekStart) {
			return ts.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func matches(ts Timesheet, f ListFilter) bool {
	switch {
	case f.EmployeeIDs != nil && !slices.Contains(f.EmployeeIDs, ts.EmployeeID):
		return false
	case f.ExcludeEmployeeID != nil && *f.ExcludeEmployeeID == ts.EmployeeID:
		return false
	case f.EmployeeID != nil && *f.EmployeeID != ts.EmployeeID:
		return false
	case f.ProjectID != nil && *f.ProjectID != ts.ProjectID:
		return false
	case f.Status != nil && *f.Status != ts.Status:
		return false
	case f.WeekStart != nil && !f.WeekStart.Equal(ts.WeekStart):
		return false
	case f.From != nil && ts.WeekStart.Before(*f.From):
		return false
	case f.To != nil && ts.WeekEnd.After(*f.To):
		return false
	case f.Year > 0 && f.Year != ts.Year:
		return false
	case f.WeekNumber > 0 && f.WeekNumber != ts.WeekNumber:
		return false
	}
	return true
}

func (r *memoryRepo) List(_ context.Context, f ListFilter) ([]Timesheet, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Timesheet
	for _, ts := range r.live() {
		if matches(ts, f) {
			out = append(out, ts)
		}
	}
	total := len(out)
	if f.Unpaged {
		return out, total, nil
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	start := shared.Offset(page, perPage)
	if start > total {
		start = total
	}
	end := min(start+perPage, total)
	return out[start:end], total, nil
}

func (r *memoryRepo) Summary(_ context.Context, f SummaryFilter) ([]StatusTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byStatus := map[Status]*StatusTotal{}
	for _, ts := range r.live() {
		if !matches(ts, ListFilter{EmployeeIDs: f.EmployeeIDs, EmployeeID: f.EmployeeID, Year: f.Year}) {
			continue
		}
		st, ok := byStatus[ts.Status]
		if !ok {
			st = &StatusTotal{Status: ts.Status, TotalHours: decimal.Zero}
			byStatus[ts.Status] = st
		}
		st.Count++
		st.TotalHours = st.TotalHours.Add(ts.TotalHours)
	}
	var out []StatusTotal
	for _, st := range byStatus {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (t *memoryTx) Insert(_ context.Context, ts *Timesheet) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.live() {
		if existing.EmployeeID == ts.EmployeeID && existing.ProjectID == ts.ProjectID &&
			existing.TaskID == ts.TaskID && existing.WeekStart.Equal(ts.WeekStart) {
			return newValidationError(ts.ID, "taskId", RuleDuplicate, "duplicate")
		}
	}
	t.remember(ts.ID)
	ts.Version = 1
	r.items[ts.ID] = *ts
	return nil
}

func (t *memoryTx) Update(_ context.Context, ts *Timesheet, expected int64) error {
	r := t.repo
	if r.beforeUpdate != nil {
		r.beforeUpdate(*ts)
	}
	if r.failUpdate != nil {
		if err := r.failUpdate(*ts); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[ts.ID]
	if !ok || stored.Deleted() || stored.Version != expected {
		return errStale
	}
	t.remember(ts.ID)
	ts.Version = expected + 1
	r.items[ts.ID] = *ts
	return nil
}

func (t *memoryTx) LockWeekGroup(ctx context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error) {
	return t.repo.WeekGroup(ctx, employeeID, weekStart)
}

type memoryCatalog struct {
	tasks map[uuid.UUID]catalog.Task
	err   error
}

func (c *memoryCatalog) Task(_ context.Context, _, taskID uuid.UUID) (catalog.Task, error) {
	if c.err != nil {
		return catalog.Task{}, c.err
	}
	task, ok := c.tasks[taskID]
	if !ok {
		return catalog.Task{}, catalog.ErrNotFound
	}
	return task, nil
}

func (c *memoryCatalog) add(task catalog.Task) catalog.Task {
	if c.tasks == nil {
		c.tasks = make(map[uuid.UUID]catalog.Task)
	}
	c.tasks[task.ID] = task
	return task
}

type memoryDirectory struct {
	managers map[uuid.UUID]uuid.UUID
}

func (d *memoryDirectory) ManagerOf(_ context.Context, employeeID uuid.UUID) (*uuid.UUID, error) {
	m, ok := d.managers[employeeID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) ofType(typ EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+"/"+key)
	return nil
}

// fixedNow is Saturday 2025-09-20, after the week of 2025-09-08 has closed.
var fixedNow = time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)

var week0908 = time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)

type harness struct {
	repo      *memoryRepo
	catalog   *memoryCatalog
	directory *memoryDirectory
	publisher *recordingPublisher
	idem      *memoryIdempotency
	service   *Service

	project  uuid.UUID
	task1    catalog.Task
	task2    catalog.Task
	task3    catalog.Task
	manager  shared.Principal
	employee shared.Principal
	admin    shared.Principal
	hr       shared.Principal
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	h := &harness{
		repo:      newMemoryRepo(),
		catalog:   &memoryCatalog{},
		publisher: &recordingPublisher{},
		idem:      &memoryIdempotency{},
		project:   uuid.New(),
	}
	h.task1 = h.catalog.add(catalog.Task{ID: uuid.New(), ProjectID: h.project, Name: "Design", Active: true, ProjectActive: true, AvailableToAll: true})
	h.task2 = h.catalog.add(catalog.Task{ID: uuid.New(), ProjectID: h.project, Name: "Build", Active: true, ProjectActive: true, AvailableToAll: true})
	h.task3 = h.catalog.add(catalog.Task{ID: uuid.New(), ProjectID: h.project, Name: "Test", Active: true, ProjectActive: true, AvailableToAll: true})

	managerID, employeeID := uuid.New(), uuid.New()
	h.manager = shared.Principal{EmployeeID: managerID, Role: shared.RoleManager, Reports: []uuid.UUID{employeeID}}
	h.employee = shared.Principal{EmployeeID: employeeID, Role: shared.RoleEmployee}
	h.admin = shared.Principal{EmployeeID: uuid.New(), Role: shared.RoleAdmin}
	h.hr = shared.Principal{EmployeeID: uuid.New(), Role: shared.RoleHR}
	h.directory = &memoryDirectory{managers: map[uuid.UUID]uuid.UUID{employeeID: managerID}}

	now := func() time.Time { return fixedNow }
	h.service = NewService(Deps{
		Repo:        h.repo,
		Validator:   NewValidator(DefaultRules(), h.catalog, h.repo, now),
		Directory:   h.directory,
		Publisher:   h.publisher,
		Idempotency: h.idem,
		Metrics:     NewMetrics(prometheus.NewRegistry()),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         now,
	})
	return h
}

func hours(values ...float64) DailyHours {
	var h DailyHours
	for i := range h {
		h[i] = decimal.Zero
	}
	for i, v := range values {
		h[i] = decimal.NewFromFloat(v)
	}
	return h
}

func (h *harness) input(task catalog.Task, daily DailyHours) Input {
	return Input{
		ProjectID: task.ProjectID,
		TaskID:    task.ID,
		WeekStart: week0908,
		Hours:     daily,
	}
}

func (h *harness) draft(t testing.TB, task catalog.Task, daily DailyHours) Timesheet {
	t.Helper()
	ts, err := h.service.Create(context.Background(), h.employee, h.input(task, daily))
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return ts
}

var errBoom = errors.New("boom")
