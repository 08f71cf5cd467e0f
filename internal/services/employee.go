package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

// ErrLinkedUserNotFound is returned when an employee references a missing account.
var ErrLinkedUserNotFound = errors.New("linked user not found")

// EmployeeRepository defines persistence operations for employee records.
type EmployeeRepository interface {
	List(ctx context.Context, filter types.EmployeeFilter) ([]types.Employee, error)
	GetByID(ctx context.Context, id int64) (types.Employee, error)
	Create(ctx context.Context, e types.Employee) (types.Employee, error)
	Update(ctx context.Context, e types.Employee) (types.Employee, error)
	Delete(ctx context.Context, id int64) error
}

// EmployeeUpdate carries the fields to change; nil fields are left untouched.
type EmployeeUpdate struct {
	EmpCode        *string
	UserID         *string
	FirstName      *string
	LastName       *string
	Position       *string
	Department     *string
	StartDate      *time.Time
	EmploymentType *string
	SalaryBase     *float64
	Active         *bool
	ContactPhone   *string
}

// EmployeeService encapsulates HR employee use-cases.
type EmployeeService struct {
	repo  EmployeeRepository
	users interface {
		GetByID(ctx context.Context, id string) (types.User, error)
	}
}

func NewEmployeeService(repo EmployeeRepository, users UserRepository) *EmployeeService {
	return &EmployeeService{repo: repo, users: users}
}

func (s *EmployeeService) List(ctx context.Context, filter types.EmployeeFilter) ([]types.Employee, error) {
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	return s.repo.List(ctx, filter)
}

func (s *EmployeeService) GetByID(ctx context.Context, id int64) (types.Employee, error) {
	return s.repo.GetByID(ctx, id)
}

// Create stores a new employee record authored by actorID.
func (s *EmployeeService) Create(ctx context.Context, actorID string, e types.Employee) (types.Employee, error) {
	e.EmpCode = strings.TrimSpace(e.EmpCode)
	e.FirstName = strings.TrimSpace(e.FirstName)
	e.LastName = strings.TrimSpace(e.LastName)
	if err := validateEmployee(e); err != nil {
		return types.Employee{}, err
	}
	if err := s.checkLinkedUser(ctx, e.UserID); err != nil {
		return types.Employee{}, err
	}
	if actorID != "" {
		e.CreatedBy = &actorID
		e.UpdatedBy = &actorID
	}
	return s.repo.Create(ctx, e)
}

// Update applies the non-nil fields of upd to employee id.
func (s *EmployeeService) Update(ctx context.Context, actorID string, id int64, upd EmployeeUpdate) (types.Employee, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Employee{}, err
	}

	if upd.EmpCode != nil {
		e.EmpCode = strings.TrimSpace(*upd.EmpCode)
	}
	if upd.UserID != nil {
		if *upd.UserID == "" {
			e.UserID = nil
		} else {
			if err := s.checkLinkedUser(ctx, upd.UserID); err != nil {
				return types.Employee{}, err
			}
			e.UserID = upd.UserID
		}
	}
	if upd.FirstName != nil {
		e.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		e.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Position != nil {
		e.Position = *upd.Position
	}
	if upd.Department != nil {
		e.Department = *upd.Department
	}
	if upd.StartDate != nil {
		e.StartDate = upd.StartDate
	}
	if upd.EmploymentType != nil {
		e.EmploymentType = *upd.EmploymentType
	}
	if upd.SalaryBase != nil {
		e.SalaryBase = upd.SalaryBase
	}
	if upd.Active != nil {
		e.Active = *upd.Active
	}
	if upd.ContactPhone != nil {
		e.ContactPhone = *upd.ContactPhone
	}
	if err := validateEmployee(e); err != nil {
		return types.Employee{}, err
	}
	if actorID != "" {
		e.UpdatedBy = &actorID
	}
	return s.repo.Update(ctx, e)
}

func (s *EmployeeService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *EmployeeService) checkLinkedUser(ctx context.Context, userID *string) error {
	if userID == nil {
		return nil
	}
	if _, err := s.users.GetByID(ctx, *userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrLinkedUserNotFound
		}
		return err
	}
	return nil
}

func validateEmployee(e types.Employee) error {
	if e.EmpCode == "" {
		return invalidInput("emp_code is required")
	}
	if e.FirstName == "" || e.LastName == "" {
		return invalidInput("first_name and last_name are required")
	}
	if e.SalaryBase != nil && *e.SalaryBase < 0 {
		return invalidInput("salary_base must not be negative")
	}
	return nil
}
