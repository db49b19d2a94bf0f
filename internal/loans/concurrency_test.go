package loans

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/angelmondragon/library-backend/internal/testdb"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestConcurrentBorrowersShareLastCopy(t *testing.T) {
	h := newHarness(t, nil)
	book := testdb.MustBook(t, h.conn, 1)

	const borrowers = 8
	readers := make([]*models.User, borrowers)
	for i := range readers {
		readers[i] = testdb.MustUser(t, h.conn)
	}

	var (
		mu          sync.Mutex
		successes   int
		unavailable int
	)
	var g errgroup.Group
	for _, reader := range readers {
		g.Go(func() error {
			_, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: book.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.Reason(err) == ReasonBookUnavailable:
				unavailable++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, successes)
	assert.Equal(t, borrowers-1, unavailable)

	var active int64
	require.NoError(t, h.conn.Model(&models.Loan{}).Where("book_id = ? AND returned_at IS NULL", book.ID).Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

func TestConcurrentRequestsFromOneReaderRespectLimit(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) { p.Config.MaxActiveLoans = 3 })
	reader := testdb.MustUser(t, h.conn)

	const requests = 6
	bookIDs := make([]uuid.UUID, requests)
	for i := range bookIDs {
		bookIDs[i] = testdb.MustBook(t, h.conn, 2).ID
	}

	var successes, limited atomic.Int32
	var g errgroup.Group
	for _, bookID := range bookIDs {
		g.Go(func() error {
			_, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: bookID})
			switch {
			case err == nil:
				successes.Add(1)
			case pkgerrors.Reason(err) == ReasonLimitExceeded:
				limited.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 3, successes.Load())
	assert.EqualValues(t, requests-3, limited.Load())
}

func TestConcurrentReturnsSucceedOnce(t *testing.T) {
	h := newHarness(t, nil)
	reader := testdb.MustUser(t, h.conn)
	loan := h.borrow(t, reader.ID, testdb.MustBook(t, h.conn, 1).ID)

	var successes, already atomic.Int32
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := h.svc.Return(context.Background(), ReturnInput{LoanID: loan.ID, RequesterID: reader.ID})
			switch {
			case err == nil:
				successes.Add(1)
			case pkgerrors.Reason(err) == ReasonAlreadyReturned:
				already.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 4, already.Load())
}

// flakyTx fails the first failures transactions with a serialization error
// before handing off to the real client.
type flakyTx struct {
	inner    *db.Client
	failures int
	calls    int
	code     string
}

func (f *flakyTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if f.calls <= f.failures {
		return &pgconn.PgError{Code: f.code, Message: "could not serialize access"}
	}
	return f.inner.WithTx(ctx, fn)
}

type countingRetries struct {
	count map[string]int
}

func (c *countingRetries) IncRetry(op string) {
	if c.count == nil {
		c.count = map[string]int{}
	}
	c.count[op]++
}

func TestCreateRetriesSerializationFailures(t *testing.T) {
	flaky := &flakyTx{failures: 2, code: "40001"}
	retries := &countingRetries{}
	h := newHarness(t, func(p *ServiceParams) {
		flaky.inner = p.Tx.(*db.Client)
		p.Tx = flaky
		p.Metrics = retries
	})
	reader := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)

	loan, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2, retries.count[OperationCreate])
}

func TestCreateGivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &flakyTx{failures: 10, code: "40P01"}
	h := newHarness(t, func(p *ServiceParams) {
		flaky.inner = p.Tx.(*db.Client)
		p.Tx = flaky
	})
	reader := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: book.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, h.cfg.CreateMaxAttempts, flaky.calls)
}

func TestRejectionsAreNotRetried(t *testing.T) {
	flaky := &flakyTx{}
	h := newHarness(t, func(p *ServiceParams) {
		flaky.inner = p.Tx.(*db.Client)
		p.Tx = flaky
	})
	reader := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 0)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonBookUnavailable)
	assert.Equal(t, 1, flaky.calls)
}
