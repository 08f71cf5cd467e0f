package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smehub/apiserver/types"
)

const employeeColumns = `employee_id, emp_code, user_id, first_name, last_name, position, department,
	start_date, employment_type, salary_base, active_status, contact_phone,
	created_at, updated_at, created_by, updated_by`

const defaultEmployeeLimit = 100

// EmployeeRepository handles persistence for HR employee records.
type EmployeeRepository struct {
	db *sql.DB
}

func NewEmployeeRepository(db *sql.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

func scanEmployee(row rowScanner) (types.Employee, error) {
	var (
		e              types.Employee
		position       sql.NullString
		department     sql.NullString
		employmentType sql.NullString
		contactPhone   sql.NullString
		salary         sql.NullFloat64
	)
	err := row.Scan(
		&e.ID,
		&e.EmpCode,
		&e.UserID,
		&e.FirstName,
		&e.LastName,
		&position,
		&department,
		&e.StartDate,
		&employmentType,
		&salary,
		&e.Active,
		&contactPhone,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.CreatedBy,
		&e.UpdatedBy,
	)
	if err != nil {
		return types.Employee{}, err
	}
	e.Position = position.String
	e.Department = department.String
	e.EmploymentType = employmentType.String
	e.ContactPhone = contactPhone.String
	if salary.Valid {
		v := salary.Float64
		e.SalaryBase = &v
	}
	return e, nil
}

// List returns employees matching filter ordered by employee id.
func (r *EmployeeRepository) List(ctx context.Context, filter types.EmployeeFilter) ([]types.Employee, error) {
	var (
		where []string
		args  []any
	)
	if filter.Department != "" {
		args = append(args, filter.Department)
		where = append(where, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("active_status = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR emp_code ILIKE $%d)", n, n, n))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEmployeeLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + employeeColumns + ` FROM hr_employees`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, offset, limit)
	query += fmt.Sprintf(` ORDER BY employee_id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]types.Employee, 0)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return employees, nil
}

func (r *EmployeeRepository) GetByID(ctx context.Context, id int64) (types.Employee, error) {
	const query = `SELECT ` + employeeColumns + ` FROM hr_employees WHERE employee_id = $1`
	e, err := scanEmployee(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Employee{}, ErrNotFound
		}
		return types.Employee{}, err
	}
	return e, nil
}

func (r *EmployeeRepository) Create(ctx context.Context, e types.Employee) (types.Employee, error) {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	const query = `
		INSERT INTO hr_employees (
			emp_code, user_id, first_name, last_name, position, department,
			start_date, employment_type, salary_base, active_status, contact_phone,
			created_at, updated_at, created_by, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING employee_id`
	err := r.db.QueryRowContext(
		ctx,
		query,
		e.EmpCode,
		e.UserID,
		e.FirstName,
		e.LastName,
		nullString(e.Position),
		nullString(e.Department),
		e.StartDate,
		nullString(e.EmploymentType),
		e.SalaryBase,
		e.Active,
		nullString(e.ContactPhone),
		e.CreatedAt,
		e.UpdatedAt,
		e.CreatedBy,
		e.UpdatedBy,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Employee{}, ErrConflict
		}
		return types.Employee{}, err
	}
	return e, nil
}

// Update overwrites every mutable column of the record identified by e.ID.
func (r *EmployeeRepository) Update(ctx context.Context, e types.Employee) (types.Employee, error) {
	e.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE hr_employees
		SET emp_code = $1,
			user_id = $2,
			first_name = $3,
			last_name = $4,
			position = $5,
			department = $6,
			start_date = $7,
			employment_type = $8,
			salary_base = $9,
			active_status = $10,
			contact_phone = $11,
			updated_at = $12,
			updated_by = $13
		WHERE employee_id = $14
		RETURNING created_at, created_by`
	err := r.db.QueryRowContext(
		ctx,
		query,
		e.EmpCode,
		e.UserID,
		e.FirstName,
		e.LastName,
		nullString(e.Position),
		nullString(e.Department),
		e.StartDate,
		nullString(e.EmploymentType),
		e.SalaryBase,
		e.Active,
		nullString(e.ContactPhone),
		e.UpdatedAt,
		e.UpdatedBy,
		e.ID,
	).Scan(&e.CreatedAt, &e.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Employee{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return types.Employee{}, ErrConflict
		}
		return types.Employee{}, err
	}
	return e, nil
}

func (r *EmployeeRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM hr_employees WHERE employee_id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
