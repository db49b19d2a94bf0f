package loans

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/library-backend/internal/books"
	"github.com/angelmondragon/library-backend/internal/testdb"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var loanEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   Service
	conn  *gorm.DB
	clock *testClock
	cfg   config.LoansConfig
}

func defaultLoansConfig() config.LoansConfig {
	return config.LoansConfig{
		MaxActiveLoans:    5,
		Duration:          14 * 24 * time.Hour,
		CreateMaxAttempts: 3,
		RetryBaseDelay:    time.Millisecond,
	}
}

func newHarness(t *testing.T, mutate func(*ServiceParams)) *harness {
	t.Helper()
	conn := testdb.Open(t)
	clock := &testClock{now: loanEpoch}
	params := ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     db.FromConn(conn),
		Books:  books.NewInventory(conn),
		Users:  users.NewRepository(conn),
		Config: defaultLoansConfig(),
		Clock:  clock.Now,
	}
	if mutate != nil {
		mutate(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{svc: svc, conn: conn, clock: clock, cfg: params.Config}
}

func (h *harness) borrow(t *testing.T, userID, bookID uuid.UUID) *LoanDTO {
	t.Helper()
	loan, err := h.svc.Create(context.Background(), CreateInput{UserID: userID, BookID: bookID})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return loan
}

func requireReason(t *testing.T, err error, code pkgerrors.Code, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
	assert.Equal(t, reason, pkgerrors.Reason(err))
}

func TestNewServiceValidatesWiring(t *testing.T) {
	conn := testdb.Open(t)
	base := ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     db.FromConn(conn),
		Books:  books.NewInventory(conn),
		Users:  users.NewRepository(conn),
		Config: defaultLoansConfig(),
	}

	cases := map[string]func(p *ServiceParams){
		"repo":     func(p *ServiceParams) { p.Repo = nil },
		"tx":       func(p *ServiceParams) { p.Tx = nil },
		"books":    func(p *ServiceParams) { p.Books = nil },
		"users":    func(p *ServiceParams) { p.Users = nil },
		"limit":    func(p *ServiceParams) { p.Config.MaxActiveLoans = 0 },
		"duration": func(p *ServiceParams) { p.Config.Duration = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := base
			mutate(&params)
			_, err := NewService(params)
			assert.Error(t, err)
		})
	}

	_, err := NewService(base)
	assert.NoError(t, err)
}

func TestCreateLendsCopy(t *testing.T) {
	h := newHarness(t, nil)
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 2)

	loan, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: book.ID})
	require.NoError(t, err)

	assert.Equal(t, user.ID, loan.UserID)
	assert.Equal(t, user.Username, loan.Username)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, book.Title, loan.BookTitle)
	assert.True(t, loan.LoanDate.Equal(loanEpoch))
	assert.True(t, loan.DueDate.Equal(loanEpoch.Add(14*24*time.Hour)))
	assert.Nil(t, loan.ReturnedAt)
	assert.Equal(t, enums.LoanStatusCurrent, loan.Status)
	assert.False(t, loan.IsOverdue)

	active, err := books.NewInventory(h.conn).ActiveLoanCount(context.Background(), nil, book.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, active)
}

func TestCreateEnforcesLimit(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) { p.Config.MaxActiveLoans = 2 })
	user := testdb.MustUser(t, h.conn)

	h.borrow(t, user.ID, testdb.MustBook(t, h.conn, 1).ID)
	h.borrow(t, user.ID, testdb.MustBook(t, h.conn, 1).ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: testdb.MustBook(t, h.conn, 1).ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonLimitExceeded)
}

func TestCreateLimitWinsOverUnavailable(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) { p.Config.MaxActiveLoans = 1 })
	user := testdb.MustUser(t, h.conn)
	other := testdb.MustUser(t, h.conn)
	taken := testdb.MustBook(t, h.conn, 1)

	h.borrow(t, user.ID, testdb.MustBook(t, h.conn, 1).ID)
	h.borrow(t, other.ID, taken.ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: taken.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonLimitExceeded)
}

func TestCreateRejectsUnavailableBook(t *testing.T) {
	h := newHarness(t, nil)
	holder := testdb.MustUser(t, h.conn)
	reader := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)
	h.borrow(t, holder.ID, book.ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonBookUnavailable)

	empty := testdb.MustBook(t, h.conn, 0)
	_, err = h.svc.Create(context.Background(), CreateInput{UserID: reader.ID, BookID: empty.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonBookUnavailable)
}

func TestCreateHolderOfOnlyCopyGetsUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)
	h.borrow(t, user.ID, book.ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonBookUnavailable)
}

func TestCreateRejectsDuplicateActiveLoan(t *testing.T) {
	h := newHarness(t, nil)
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 3)
	h.borrow(t, user.ID, book.ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonDuplicateActiveLoan)
}

type blindRepository struct {
	Repository
}

func (b blindRepository) WithTx(tx *gorm.DB) Repository {
	return blindRepository{Repository: b.Repository.WithTx(tx)}
}

func (blindRepository) HasActiveLoan(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func TestCreateUniqueIndexBacksUpDuplicateRule(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) { p.Repo = blindRepository{Repository: p.Repo} })
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 3)
	h.borrow(t, user.ID, book.ID)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonDuplicateActiveLoan)
}

type collidingRepository struct {
	Repository
	err error
}

func (c collidingRepository) WithTx(tx *gorm.DB) Repository {
	return collidingRepository{Repository: c.Repository.WithTx(tx), err: c.err}
}

func (c collidingRepository) Create(context.Context, *models.Loan) (*models.Loan, error) {
	return nil, c.err
}

func TestCreateOnlyActiveLoanIndexMapsToDuplicate(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   pkgerrors.Code
		reason string
	}{
		{
			name:   "active loan index",
			err:    &pgconn.PgError{Code: "23505", ConstraintName: "loans_one_active_per_user_book"},
			code:   pkgerrors.CodeStateConflict,
			reason: ReasonDuplicateActiveLoan,
		},
		{
			name: "primary key collision",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "loans_pkey"},
			code: pkgerrors.CodeDependency,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(p *ServiceParams) {
				p.Repo = collidingRepository{Repository: p.Repo, err: tc.err}
			})
			user := testdb.MustUser(t, h.conn)
			book := testdb.MustBook(t, h.conn, 2)

			_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: book.ID})
			requireReason(t, err, tc.code, tc.reason)
		})
	}
}

func TestCreateUnknownReferences(t *testing.T) {
	h := newHarness(t, nil)
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)

	_, err := h.svc.Create(context.Background(), CreateInput{UserID: user.ID, BookID: uuid.New()})
	requireReason(t, err, pkgerrors.CodeNotFound, ReasonNotFound)

	_, err = h.svc.Create(context.Background(), CreateInput{UserID: uuid.New(), BookID: book.ID})
	requireReason(t, err, pkgerrors.CodeNotFound, ReasonNotFound)

	_, err = h.svc.Create(context.Background(), CreateInput{UserID: user.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Create(context.Background(), CreateInput{BookID: book.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestReturnLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := testdb.MustUser(t, h.conn)
	stranger := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)
	loan := h.borrow(t, user.ID, book.ID)

	_, err := h.svc.Return(ctx, ReturnInput{LoanID: loan.ID, RequesterID: stranger.ID})
	requireReason(t, err, pkgerrors.CodeForbidden, ReasonNotOwner)

	returned, err := h.svc.Return(ctx, ReturnInput{LoanID: loan.ID, RequesterID: user.ID})
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.True(t, returned.ReturnedAt.Equal(h.clock.Now()))
	assert.Equal(t, enums.LoanStatusReturned, returned.Status)
	assert.False(t, returned.IsOverdue)

	_, err = h.svc.Return(ctx, ReturnInput{LoanID: loan.ID, RequesterID: user.ID})
	requireReason(t, err, pkgerrors.CodeStateConflict, ReasonAlreadyReturned)

	_, err = h.svc.Return(ctx, ReturnInput{LoanID: uuid.New(), RequesterID: user.ID})
	requireReason(t, err, pkgerrors.CodeNotFound, ReasonNotFound)

	// the copy is back on the shelf and the same reader may borrow it again
	again := h.borrow(t, user.ID, book.ID)
	assert.NotEqual(t, loan.ID, again.ID)
}

func TestReturnLosesRaceToConcurrentReturn(t *testing.T) {
	h := newHarness(t, nil)
	user := testdb.MustUser(t, h.conn)
	book := testdb.MustBook(t, h.conn, 1)
	loan := h.borrow(t, user.ID, book.ID)

	repo := NewRepository(h.conn)
	rows, err := repo.MarkReturned(context.Background(), loan.ID, h.clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	rows, err = repo.MarkReturned(context.Background(), loan.ID, h.clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows)
}

func TestGetDerivesStatusFromClock(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := testdb.MustUser(t, h.conn)
	stranger := testdb.MustUser(t, h.conn)
	loan := h.borrow(t, user.ID, testdb.MustBook(t, h.conn, 1).ID)

	got, err := h.svc.Get(ctx, loan.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.LoanStatusCurrent, got.Status)

	h.clock.Set(loan.DueDate)
	got, err = h.svc.Get(ctx, loan.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.LoanStatusCurrent, got.Status, "due exactly now is not overdue")
	assert.False(t, got.IsOverdue)

	h.clock.Advance(time.Second)
	got, err = h.svc.Get(ctx, loan.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.LoanStatusOverdue, got.Status)
	assert.True(t, got.IsOverdue)

	returned, err := h.svc.Return(ctx, ReturnInput{LoanID: loan.ID, RequesterID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.LoanStatusReturned, returned.Status)
	assert.False(t, returned.IsOverdue)

	_, err = h.svc.Get(ctx, loan.ID, stranger.ID)
	requireReason(t, err, pkgerrors.CodeForbidden, ReasonNotOwner)

	_, err = h.svc.Get(ctx, uuid.New(), user.ID)
	requireReason(t, err, pkgerrors.CodeNotFound, ReasonNotFound)
}

func TestListNewestFirstAndScopedToUser(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := testdb.MustUser(t, h.conn)
	other := testdb.MustUser(t, h.conn)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, h.borrow(t, user.ID, testdb.MustBook(t, h.conn, 1).ID).ID)
	}
	h.borrow(t, other.ID, testdb.MustBook(t, h.conn, 1).ID)

	first, err := h.svc.List(ctx, user.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Loans, 2)
	assert.Equal(t, ids[2], first.Loans[0].ID)
	assert.Equal(t, ids[1], first.Loans[1].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := h.svc.List(ctx, user.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Loans, 1)
	assert.Equal(t, ids[0], second.Loans[0].ID)
	assert.Empty(t, second.NextCursor)

	empty, err := h.svc.List(ctx, testdb.MustUser(t, h.conn).ID, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, empty.Loans)

	_, err = h.svc.List(ctx, user.ID, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
