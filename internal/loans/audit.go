package loans

import (
	"context"
	"time"

	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
)

// AuditMetrics receives one sample per audited operation.
type AuditMetrics interface {
	IncTransition(operation string)
	IncRejection(operation, reason string)
	ObserveDuration(operation string, d time.Duration)
}

type auditedService struct {
	inner   Service
	logg    *logger.Logger
	metrics AuditMetrics
	now     func() time.Time
}

// NewAuditedService wraps the mutating loan operations with an audit trail.
// A committed transition writes a loan.transition log line and bumps the
// transition counter; a refused one only counts the rejection reason.
func NewAuditedService(inner Service, logg *logger.Logger, metrics AuditMetrics) Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &auditedService{inner: inner, logg: logg, metrics: metrics, now: time.Now}
}

func (a *auditedService) Create(ctx context.Context, input CreateInput) (*LoanDTO, error) {
	start := a.now()
	loan, err := a.inner.Create(ctx, input)
	a.record(ctx, OperationCreate, start, loan, err)
	return loan, err
}

func (a *auditedService) Return(ctx context.Context, input ReturnInput) (*LoanDTO, error) {
	start := a.now()
	loan, err := a.inner.Return(ctx, input)
	a.record(ctx, OperationReturn, start, loan, err)
	return loan, err
}

func (a *auditedService) Get(ctx context.Context, loanID, requesterID uuid.UUID) (*LoanDTO, error) {
	return a.inner.Get(ctx, loanID, requesterID)
}

func (a *auditedService) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*LoanList, error) {
	return a.inner.List(ctx, userID, params)
}

func (a *auditedService) record(ctx context.Context, op string, start time.Time, loan *LoanDTO, err error) {
	if a.metrics != nil {
		a.metrics.ObserveDuration(op, a.now().Sub(start))
	}
	if err != nil {
		if reason := RejectionReason(err); reason != "" && a.metrics != nil {
			a.metrics.IncRejection(op, reason)
		}
		return
	}
	if loan == nil {
		return
	}

	logCtx := a.logg.WithFields(ctx, map[string]any{
		"action":  op,
		"loan_id": loan.ID.String(),
		"user_id": loan.UserID.String(),
		"book_id": loan.BookID.String(),
		"status":  string(loan.Status),
	})
	a.logg.Info(logCtx, "loan.transition")
	if a.metrics != nil {
		a.metrics.IncTransition(op)
	}
}
