package directory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

// EmployeeHeader carries the authenticated employee id set by the gateway.
const EmployeeHeader = "X-Employee-ID"

// Resolver turns an employee id into a Principal.
type Resolver interface {
	Principal(ctx context.Context, id uuid.UUID) (shared.Principal, error)
}

// Middleware attaches the caller Principal to the request context.
func Middleware(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(EmployeeHeader)
			if raw == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing "+EmployeeHeader+" header")
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "malformed employee id")
				return
			}
			principal, err := resolver.Principal(r.Context(), id)
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInactive):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			case err != nil:
				logger.Error("resolve principal", slog.String("employee_id", id.String()), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Directory Unavailable", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
