package loans

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeService struct {
	create func(ctx context.Context, input CreateInput) (*LoanDTO, error)
	ret    func(ctx context.Context, input ReturnInput) (*LoanDTO, error)
	gets   int
	lists  int
}

func (f *fakeService) Create(ctx context.Context, input CreateInput) (*LoanDTO, error) {
	return f.create(ctx, input)
}

func (f *fakeService) Return(ctx context.Context, input ReturnInput) (*LoanDTO, error) {
	return f.ret(ctx, input)
}

func (f *fakeService) Get(context.Context, uuid.UUID, uuid.UUID) (*LoanDTO, error) {
	f.gets++
	return &LoanDTO{}, nil
}

func (f *fakeService) List(context.Context, uuid.UUID, pagination.Params) (*LoanList, error) {
	f.lists++
	return &LoanList{}, nil
}

type recordingMetrics struct {
	transitions map[string]int
	rejections  map[string]int
	durations   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		transitions: map[string]int{},
		rejections:  map[string]int{},
		durations:   map[string]int{},
	}
}

func (r *recordingMetrics) IncTransition(op string) { r.transitions[op]++ }
func (r *recordingMetrics) IncRejection(op, reason string) {
	r.rejections[op+":"+reason]++
}
func (r *recordingMetrics) ObserveDuration(op string, _ time.Duration) { r.durations[op]++ }

func newBufferedLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})
}

func TestAuditedServiceRecordsCommittedTransitions(t *testing.T) {
	loan := &LoanDTO{ID: uuid.New(), UserID: uuid.New(), BookID: uuid.New(), Status: enums.LoanStatusCurrent}
	inner := &fakeService{
		create: func(context.Context, CreateInput) (*LoanDTO, error) { return loan, nil },
		ret: func(context.Context, ReturnInput) (*LoanDTO, error) {
			returned := *loan
			returned.Status = enums.LoanStatusReturned
			return &returned, nil
		},
	}
	var buf bytes.Buffer
	m := newRecordingMetrics()
	svc := NewAuditedService(inner, newBufferedLogger(&buf), m)

	got, err := svc.Create(context.Background(), CreateInput{UserID: loan.UserID, BookID: loan.BookID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got != loan {
		t.Fatalf("expected the inner result to pass through")
	}
	if _, err := svc.Return(context.Background(), ReturnInput{LoanID: loan.ID, RequesterID: loan.UserID}); err != nil {
		t.Fatalf("return: %v", err)
	}

	if m.transitions[OperationCreate] != 1 || m.transitions[OperationReturn] != 1 {
		t.Fatalf("unexpected transitions %v", m.transitions)
	}
	if m.durations[OperationCreate] != 1 || m.durations[OperationReturn] != 1 {
		t.Fatalf("unexpected durations %v", m.durations)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %s", len(lines), buf.String())
	}
	for _, want := range []string{`"message":"loan.transition"`, `"action":"create"`, loan.ID.String(), loan.BookID.String()} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected %s in %s", want, lines[0])
		}
	}
	if !strings.Contains(lines[1], `"action":"return"`) || !strings.Contains(lines[1], `"status":"returned"`) {
		t.Fatalf("unexpected return audit line %s", lines[1])
	}
}

func TestAuditedServiceCountsRejectionsWithoutAuditEntry(t *testing.T) {
	inner := &fakeService{
		create: func(context.Context, CreateInput) (*LoanDTO, error) {
			return nil, errLimitExceeded(5, 5)
		},
		ret: func(context.Context, ReturnInput) (*LoanDTO, error) {
			return nil, errAlreadyReturned(uuid.New())
		},
	}
	var buf bytes.Buffer
	m := newRecordingMetrics()
	svc := NewAuditedService(inner, newBufferedLogger(&buf), m)

	if _, err := svc.Create(context.Background(), CreateInput{}); pkgerrors.Reason(err) != ReasonLimitExceeded {
		t.Fatalf("expected limit error to pass through, got %v", err)
	}
	if _, err := svc.Return(context.Background(), ReturnInput{}); pkgerrors.Reason(err) != ReasonAlreadyReturned {
		t.Fatalf("expected already returned to pass through, got %v", err)
	}

	if buf.Len() != 0 {
		t.Fatalf("expected no audit lines, got %s", buf.String())
	}
	if len(m.transitions) != 0 {
		t.Fatalf("expected no transitions, got %v", m.transitions)
	}
	if m.rejections["create:limit_exceeded"] != 1 || m.rejections["return:already_returned"] != 1 {
		t.Fatalf("unexpected rejections %v", m.rejections)
	}
}

func TestAuditedServiceIgnoresInfrastructureFailures(t *testing.T) {
	inner := &fakeService{
		create: func(context.Context, CreateInput) (*LoanDTO, error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection reset"), "insert loan")
		},
	}
	m := newRecordingMetrics()
	svc := NewAuditedService(inner, nil, m)

	if _, err := svc.Create(context.Background(), CreateInput{}); err == nil {
		t.Fatal("expected error")
	}
	if len(m.rejections) != 0 || len(m.transitions) != 0 {
		t.Fatalf("expected no counters, got rejections=%v transitions=%v", m.rejections, m.transitions)
	}
	if m.durations[OperationCreate] != 1 {
		t.Fatalf("expected duration sample, got %v", m.durations)
	}
}

func TestAuditedServicePassesReadsThrough(t *testing.T) {
	inner := &fakeService{}
	m := newRecordingMetrics()
	svc := NewAuditedService(inner, nil, m)

	if _, err := svc.Get(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.List(context.Background(), uuid.New(), pagination.Params{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if inner.gets != 1 || inner.lists != 1 {
		t.Fatalf("expected reads to reach inner service")
	}
	if len(m.durations) != 0 {
		t.Fatalf("reads should not be timed, got %v", m.durations)
	}
}
