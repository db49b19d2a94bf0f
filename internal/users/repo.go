package users

import (
	"context"
	"time"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByUsername retrieves the user with the given username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser loads the user row with SELECT ... FOR UPDATE inside tx. Loan creation
// takes this lock so a member's concurrent borrow requests are evaluated one at a time.
func (r *Repository) LockUser(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	var user models.User
	err := conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin refreshes the user's last_login_at timestamp.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

// UpdatePasswordHash replaces the stored credential hash.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash).Error
}

var userPages = pagination.Keyset[models.User]{
	Column: "created_at",
	Key:    func(u models.User) pagination.Cursor { return pagination.Cursor{SortKey: u.CreatedAt, ID: u.ID} },
}

// List pages through every account, newest first.
func (r *Repository) List(ctx context.Context, params pagination.Params) ([]models.User, string, error) {
	return userPages.Fetch(r.db.WithContext(ctx).Model(&models.User{}), params)
}

// Update applies column updates to one user and reports whether the row exists.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		var count int64
		err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error
		return count > 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// DeleteUnlessLoans removes the user only while no loan, open or returned,
// references them, and returns the loan count it saw. The user row lock is
// the one a borrow takes, so a loan cannot slip in between count and delete.
func (r *Repository) DeleteUnlessLoans(ctx context.Context, id uuid.UUID) (int64, error) {
	var loans int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.LockUser(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Loan{}).Where("user_id = ?", id).Count(&loans).Error; err != nil {
			return err
		}
		if loans > 0 {
			return nil
		}
		return tx.Where("id = ?", id).Delete(&models.User{}).Error
	})
	return loans, err
}
