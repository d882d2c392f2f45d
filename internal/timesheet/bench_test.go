package timesheet

import (
	"context"
	"testing"
)

func BenchmarkBulkSubmitWeek(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		h := newHarness(b)
		h.draft(b, h.task1, hours(8, 8, 8, 8, 4))
		h.draft(b, h.task2, hours(0, 0, 0, 0, 4))
		h.draft(b, h.task3, hours(1, 1))
		b.StartTimer()

		if _, err := h.service.BulkSubmitWeek(ctx, h.employee, h.employee.EmployeeID, week0908, nil); err != nil {
			b.Fatalf("bulk submit: %v", err)
		}
	}
}

func BenchmarkPendingApprovals(b *testing.B) {
	ctx := context.Background()
	h := newHarness(b)
	h.draft(b, h.task1, hours(8, 8, 8, 8, 4))
	h.draft(b, h.task2, hours(0, 0, 0, 0, 4))
	if _, err := h.service.BulkSubmitWeek(ctx, h.employee, h.employee.EmployeeID, week0908, nil); err != nil {
		b.Fatalf("bulk submit: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		queue, err := h.service.PendingApprovals(ctx, h.manager, PendingFilter{})
		if err != nil {
			b.Fatalf("pending: %v", err)
		}
		if len(queue.Items) != 2 {
			b.Fatalf("expected 2 pending, got %d", len(queue.Items))
		}
	}
}
