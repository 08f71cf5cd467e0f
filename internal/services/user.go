package services

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	defaultPageSize   = 50
	maxPageSize       = 200
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateStatus(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// NewUser is the input for creating an account.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     string
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo   UserRepository
	hasher PasswordHasher
	engine *rbac.Engine
	now    func() time.Time
}

func NewUserService(repo UserRepository, hasher PasswordHasher, engine *rbac.Engine) *UserService {
	return &UserService{
		repo:   repo,
		hasher: hasher,
		engine: engine,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.List(ctx, offset, limit)
}

// Authenticate checks username and password and records the login time.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return types.User{}, ErrAccountInactive
	}

	now := s.now()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return types.User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// Create registers a new account on behalf of actor. The requested role is
// canonicalized and must be grantable by actor.
func (s *UserService) Create(ctx context.Context, actor types.User, req NewUser) (types.User, error) {
	username := strings.TrimSpace(req.Username)
	if n := len(username); n < minUsernameLength || n > maxUsernameLength {
		return types.User{}, invalidInput("username must be between %d and %d characters", minUsernameLength, maxUsernameLength)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := netmail.ParseAddress(email); err != nil {
		return types.User{}, invalidInput("invalid email address")
	}
	if err := ValidatePassword(req.Password); err != nil {
		return types.User{}, err
	}

	role := s.engine.NormalizeRole(req.Role)
	if !s.engine.CanAssignRole(actor.Role, role) {
		return types.User{}, fmt.Errorf("%w: cannot assign role %q", ErrForbidden, role)
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return types.User{}, err
	}

	return s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Role:         role,
		IsActive:     true,
	})
}

// ChangePassword replaces the password of id after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, id, current, next string) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hashed)
}

// SetActive enables or disables the account id. Actors cannot change their
// own status or that of a higher-level role.
func (s *UserService) SetActive(ctx context.Context, actor types.User, id string, active bool) (types.User, error) {
	if actor.ID == id {
		return types.User{}, invalidInput("cannot change your own status")
	}
	target, err := s.manageable(ctx, actor, id)
	if err != nil {
		return types.User{}, err
	}
	if err := s.repo.UpdateStatus(ctx, id, active); err != nil {
		return types.User{}, err
	}
	target.IsActive = active
	return target, nil
}

// Delete removes the account id. Actors cannot delete themselves or a
// higher-level role.
func (s *UserService) Delete(ctx context.Context, actor types.User, id string) error {
	if actor.ID == id {
		return invalidInput("cannot delete your own account")
	}
	if _, err := s.manageable(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *UserService) manageable(ctx context.Context, actor types.User, id string) (types.User, error) {
	target, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if !s.engine.CanAccessRole(actor.Role, target.Role) {
		return types.User{}, fmt.Errorf("%w: cannot manage role %q", ErrForbidden, s.engine.NormalizeRole(target.Role))
	}
	return target, nil
}
