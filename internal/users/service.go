package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReasonUserHasLoans refuses to delete an account that loans still reference.
const ReasonUserHasLoans = "user_has_loans"

const (
	minUsernameLen = 3
	maxNameLen     = 150
)

// Service resolves the authenticated caller into a profile and manages
// accounts. Get, Update and Delete are allowed to the account owner and to
// admins; List is admin only and guarded at the route.
type Service interface {
	Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error)
	List(ctx context.Context, params pagination.Params) (*UserList, error)
	Get(ctx context.Context, actor Actor, id uuid.UUID) (*UserDTO, error)
	Update(ctx context.Context, actor Actor, id uuid.UUID, input UpdateUserInput) (*UserDTO, error)
	Delete(ctx context.Context, actor Actor, id uuid.UUID) error
}

type store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, params pagination.Params) ([]models.User, string, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
	DeleteUnlessLoans(ctx context.Context, id uuid.UUID) (int64, error)
}

type service struct {
	repo store
}

// NewService builds the account service.
func NewService(repo store) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Me(ctx context.Context, userID uuid.UUID) (*UserDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "account is disabled")
	}
	return FromModel(user), nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*UserList, error) {
	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}
	out := make([]UserDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return &UserList{Users: out, NextCursor: next}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*UserDTO, error) {
	if err := authorize(actor, id); err != nil {
		return nil, err
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(user), nil
}

func (s *service) Update(ctx context.Context, actor Actor, id uuid.UUID, input UpdateUserInput) (*UserDTO, error) {
	if err := authorize(actor, id); err != nil {
		return nil, err
	}
	if input.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}
	if input.IsActive != nil && !actor.isAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only an admin can enable or disable an account")
	}
	updates, err := profileUpdates(input)
	if err != nil {
		return nil, err
	}

	found, err := s.repo.Update(ctx, id, updates)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "users_username_key"):
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "username already taken")
		case db.IsUniqueViolation(err, "users_email_key"):
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update user")
	}
	if !found {
		return nil, errUserNotFound()
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(user), nil
}

// Delete removes an account that has never borrowed. Loans keep their reader
// forever, so any loan history blocks it.
func (s *service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := authorize(actor, id); err != nil {
		return err
	}
	loans, err := s.repo.DeleteUnlessLoans(ctx, id)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errUserNotFound()
	case db.IsForeignKeyViolation(err):
		return errUserHasLoans(-1)
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete user")
	case loans > 0:
		return errUserHasLoans(loans)
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUserNotFound()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return user, nil
}

func authorize(actor Actor, id uuid.UUID) error {
	if actor.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.canManage(id) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the account owner or an admin may do this")
	}
	return nil
}

func profileUpdates(in UpdateUserInput) (map[string]any, error) {
	updates := map[string]any{}
	invalid := map[string]string{}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if len(username) < minUsernameLen || len(username) > maxNameLen {
			invalid["username"] = fmt.Sprintf("must be %d to %d characters", minUsernameLen, maxNameLen)
		}
		updates["username"] = username
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
			invalid["email"] = "must be a valid email"
		}
		updates["email"] = email
	}
	if in.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*in.LastName)
	}
	for _, field := range []string{"first_name", "last_name"} {
		if v, ok := updates[field].(string); ok && len(v) > maxNameLen {
			invalid[field] = fmt.Sprintf("must be at most %d characters", maxNameLen)
		}
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}

	if len(invalid) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(invalid)
	}
	return updates, nil
}

func errUserNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
}

// errUserHasLoans reports the blocking loan count when known; -1 means the
// database refused the delete before a count was taken.
func errUserHasLoans(loans int64) error {
	details := map[string]any{"reason": ReasonUserHasLoans}
	if loans >= 0 {
		details["loans"] = loans
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "account has loan history").WithDetails(details)
}
