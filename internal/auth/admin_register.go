package auth

import (
	"context"

	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/enums"
)

// AdminRegisterService creates librarian accounts. Only mounted in dev.
type AdminRegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error)
}

type adminRegisterService struct {
	accounts accountCreator
}

// NewAdminRegisterService builds the dev admin registration service.
func NewAdminRegisterService(params RegisterServiceParams) (AdminRegisterService, error) {
	accounts, err := newAccountCreator(params)
	if err != nil {
		return nil, err
	}
	return &adminRegisterService{accounts: accounts}, nil
}

func (s *adminRegisterService) Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error) {
	return s.accounts.create(ctx, req, enums.UserRoleAdmin)
}
